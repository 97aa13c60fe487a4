package configs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoadTOML(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "test.toml")

	type TestStruct struct {
		Name  string
		Count int
	}

	original := TestStruct{Name: "notes", Count: 3}
	if err := SaveTOML(testFile, original); err != nil {
		t.Fatalf("SaveTOML failed: %v", err)
	}

	loaded := TestStruct{}
	unknown, err := LoadTOML(testFile, &loaded)
	if err != nil {
		t.Fatalf("LoadTOML failed: %v", err)
	}
	if len(unknown) != 0 {
		t.Errorf("Expected no unknown keys, got %v", unknown)
	}
	if loaded != original {
		t.Errorf("Expected %+v, got %+v", original, loaded)
	}
}

func TestLoadTOMLNonExistent(t *testing.T) {
	var data struct{ Name string }
	if _, err := LoadTOML(filepath.Join(t.TempDir(), "nonexistent.toml"), &data); err == nil {
		t.Fatal("Expected error for non-existent file, got nil")
	}
}

func TestLoadTOMLReportsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.toml")
	if err := os.WriteFile(path, []byte("name = \"a\"\n[extra]\nkey = 1\n"), 0600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	var data struct {
		Name string `toml:"name"`
	}
	unknown, err := LoadTOML(path, &data)
	if err != nil {
		t.Fatalf("LoadTOML failed: %v", err)
	}
	if len(unknown) == 0 {
		t.Fatal("Expected unknown keys to be reported")
	}
}

func TestSaveTOMLCreatesDirectory(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "subdir", "test.toml")

	if err := SaveTOML(testFile, struct{ Name string }{Name: "Test"}); err != nil {
		t.Fatalf("SaveTOML failed: %v", err)
	}
	if _, err := os.Stat(testFile); os.IsNotExist(err) {
		t.Fatal("File was not created")
	}
}
