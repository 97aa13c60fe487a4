package utils

import (
	"strings"
	"testing"
)

func TestSanitizeUsername(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"LowercaseSimple", "Alice", "alice"},
		{"SpacesToHyphens", "Alice Smith", "alice-smith"},
		{"RemoveSpecialChars", "al!ce@home#1", "alcehome1"},
		{"RemoveConsecutiveHyphens", "al--ice", "al-ice"},
		{"TrimLeadingPunctuation", "-_.alice", "alice"},
		{"PreserveDotsAndUnderscores", "a.b_c", "a.b_c"},
		{"Empty", "", ""},
		{"OnlySpecialChars", "@#$%", ""},
		{"TrimWhitespace", "  bob  ", "bob"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := SanitizeUsername(tc.input)
			if result != tc.expected {
				t.Errorf("SanitizeUsername(%q) = %q, expected %q", tc.input, result, tc.expected)
			}
		})
	}
}

func TestSanitizeUsernameTruncates(t *testing.T) {
	long := strings.Repeat("a", 100)
	if got := SanitizeUsername(long); len(got) != 64 {
		t.Errorf("Expected 64 characters, got %d", len(got))
	}
}

func TestIsValidUsername(t *testing.T) {
	valid := []string{"alice", "bob.smith", "c_3", "0day", strings.Repeat("x", 64)}
	for _, name := range valid {
		if !IsValidUsername(name) {
			t.Errorf("Expected %q to be valid", name)
		}
	}

	invalid := []string{"", "Alice", "-alice", ".alice", "al ice", "al/ice", strings.Repeat("x", 65)}
	for _, name := range invalid {
		if IsValidUsername(name) {
			t.Errorf("Expected %q to be invalid", name)
		}
	}
}

func TestSanitizedUsernamesAreValid(t *testing.T) {
	inputs := []string{"Alice Smith", "  Bob  ", "DOMAIN-user_1", "Zoë"}
	for _, input := range inputs {
		got := SanitizeUsername(input)
		if got != "" && !IsValidUsername(got) {
			t.Errorf("SanitizeUsername(%q) = %q, which is not valid", input, got)
		}
	}
}

func TestGetUsername(t *testing.T) {
	username, err := GetUsername()
	if err != nil {
		t.Fatalf("GetUsername failed: %v", err)
	}
	if username == "" {
		t.Fatal("Expected non-empty username")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello world", 8); got != "hello..." {
		t.Errorf("Expected %q, got %q", "hello...", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Expected %q, got %q", "short", got)
	}
}
