package workflows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PolarWolf314/sbox/internal/audit"
	"github.com/PolarWolf314/sbox/internal/sbox"
	"github.com/PolarWolf314/sbox/internal/utils"
)

// InsertFilesOptions configures the insert-file workflow.
type InsertFilesOptions struct {
	Connection
	Box string

	// Patterns are paths or doublestar globs such as "docs/**/*.pdf".
	Patterns []string

	// AdditionalData is attached to every file.
	AdditionalData []byte
}

// InsertedFile is a local file stored in an SBox.
type InsertedFile struct {
	Path   string
	FileID string
	Size   int64
}

// InsertFiles resolves the patterns and uploads each file. The stored name
// is the file's base name. Files are uploaded one after another and a
// failure stops the batch; files already uploaded stay in the SBox.
//
// Returns ErrNoFilesFound when no pattern matches.
func InsertFiles(ctx context.Context, opts InsertFilesOptions) ([]InsertedFile, error) {
	paths, err := utils.ResolveFiles(opts.Patterns)
	if err != nil {
		return nil, err
	}

	s, err := openUserSession(ctx, opts.Connection)
	if err != nil {
		return nil, err
	}
	defer s.close(ctx)

	sb, err := s.box(ctx, opts.Box)
	if err != nil {
		return nil, err
	}

	var inserted []InsertedFile
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return inserted, fmt.Errorf("reading %s: %w", path, err)
		}
		id, err := sb.InsertFile(ctx, s.user, filepath.Base(path), data, opts.AdditionalData)
		if err != nil {
			return inserted, err
		}
		s.log.Infof("Uploaded %s as %s", path, id)
		inserted = append(inserted, InsertedFile{Path: path, FileID: id, Size: int64(len(data))})
	}

	entry := audit.LogWithUser("insert-file", s.user.Username, s.user.ID)
	entry.SBox = sb.ID
	entry.SBoxName = sb.Name
	for _, f := range inserted {
		entry.FileIDs = append(entry.FileIDs, f.FileID)
		entry.Files = append(entry.Files, f.Path)
	}
	audit.Log(entry)

	return inserted, nil
}

// RetrieveFilesOptions configures the retrieve-files workflow.
type RetrieveFilesOptions struct {
	RetrieveOptions

	// OutputDir receives the files. Empty lists files without writing them.
	OutputDir string

	// Force overwrites existing files in OutputDir.
	Force bool
}

// RetrievedFile is a decrypted SBox file.
type RetrievedFile struct {
	sbox.File
	Uploader string

	// Path is where the file was written, or "" when not written.
	Path string
}

// RetrieveFiles downloads and verifies every file in an SBox. Any integrity
// failure fails the whole batch before anything is written.
//
// Existing files are not overwritten unless Force is set. Every target path
// is checked first, so a clash is reported before any file is written.
func RetrieveFiles(ctx context.Context, opts RetrieveFilesOptions) ([]RetrievedFile, error) {
	s, err := openUserSession(ctx, opts.Connection)
	if err != nil {
		return nil, err
	}
	defer s.close(ctx)

	sb, err := s.box(ctx, opts.Box)
	if err != nil {
		return nil, err
	}
	files, err := sb.RetrieveFiles(ctx, s.user, sbox.RetrieveOptions{Since: opts.Since, Sorted: !opts.Unsorted})
	if err != nil {
		return nil, err
	}

	names := s.usernames(ctx)
	result := make([]RetrievedFile, len(files))
	for i, f := range files {
		result[i] = RetrievedFile{File: f, Uploader: names(f.UploaderID)}
	}

	if opts.OutputDir != "" {
		if err := writeFiles(opts.OutputDir, result, opts.Force); err != nil {
			return nil, err
		}
	}

	entry := audit.LogWithUser("retrieve-files", s.user.Username, s.user.ID)
	entry.SBox = sb.ID
	entry.SBoxName = sb.Name
	entry.Count = len(result)
	audit.Log(entry)

	return result, nil
}

func writeFiles(dir string, files []RetrievedFile, force bool) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	paths := make([]string, len(files))
	used := make(map[string]int)
	for i := range files {
		name := safeFileName(files[i].Name, files[i].ID)
		used[name]++
		// Two files with the same name in one batch get the id appended.
		if used[name] > 1 {
			name = name + "." + files[i].ID
		}
		paths[i] = filepath.Join(dir, name)

		if force {
			continue
		}
		if _, err := os.Lstat(paths[i]); err == nil {
			return fmt.Errorf("writing %s: %w", paths[i], os.ErrExist)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", paths[i], err)
		}
	}

	for i, path := range paths {
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if !force {
			flags |= os.O_EXCL
		}
		f, err := os.OpenFile(path, flags, 0600)
		if err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		_, err = f.Write(files[i].Data)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		files[i].Path = path
	}
	return nil
}

// safeFileName keeps only the base name so a stored name cannot escape the
// output directory.
func safeFileName(name, fallback string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return fallback
	}
	return name
}

// RemoveFile deletes one file and its blob from an SBox.
func RemoveFile(ctx context.Context, conn Connection, boxRef, fileID string) error {
	s, err := openUserSession(ctx, conn)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	sb, err := s.box(ctx, boxRef)
	if err != nil {
		return err
	}
	if err := sb.RemoveFile(ctx, s.user, fileID); err != nil {
		return err
	}

	entry := audit.LogWithUser("remove-file", s.user.Username, s.user.ID)
	entry.SBox = sb.ID
	entry.SBoxName = sb.Name
	entry.FileIDs = []string{fileID}
	audit.Log(entry)
	return nil
}
