package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
)

// ResolveFiles expands each pattern (which may use ** and other doublestar
// syntax) into regular files. Plain paths are returned as given. Directories
// matched by a pattern are skipped. The result is sorted and deduplicated.
//
// Returns ErrNoFilesFound when nothing matches.
func ResolveFiles(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	add := func(path string) error {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if info.IsDir() {
			return nil
		}
		clean := filepath.Clean(path)
		if !seen[clean] {
			seen[clean] = true
			files = append(files, clean)
		}
		return nil
	}

	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		if !hasMeta(pattern) {
			if err := add(filepath.FromSlash(pattern)); err != nil {
				return nil, err
			}
			continue
		}

		matches, err := doublestar.FilepathGlob(filepath.FromSlash(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if err := add(m); err != nil {
				return nil, err
			}
		}
	}

	if len(files) == 0 {
		return nil, kerrors.ErrNoFilesFound
	}
	sort.Strings(files)
	return files, nil
}

func hasMeta(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
