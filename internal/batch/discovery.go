package batch

import (
	"cmp"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// document is one discovered input. Rel is the path relative to the
// directory argument it was found under (the base name for file arguments)
// and names the document in outputs and reports.
type document struct {
	Path string
	Rel  string
}

// discoverDocuments expands args into a sorted, de-duplicated list of
// documents. Directories are walked (recursively when asked); macOS
// resource-fork files ("._name.pdf") are always skipped.
func discoverDocuments(args []string, recursive bool, includePatterns, excludePatterns []string) ([]document, error) {
	var docs []document
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			if shouldIncludeFile(arg, includePatterns, excludePatterns) {
				docs = append(docs, document{Path: filepath.Clean(arg), Rel: filepath.Base(arg)})
			}
			continue
		}
		found, err := discoverInDirectory(arg, recursive, includePatterns, excludePatterns)
		if err != nil {
			return nil, err
		}
		docs = append(docs, found...)
	}
	slices.SortFunc(docs, func(a, b document) int {
		return cmp.Or(cmp.Compare(a.Rel, b.Rel), cmp.Compare(a.Path, b.Path))
	})
	return slices.CompactFunc(docs, func(a, b document) bool { return a.Path == b.Path }), nil
}

func discoverInDirectory(dir string, recursive bool, includePatterns, excludePatterns []string) ([]document, error) {
	var docs []document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !shouldIncludeFile(path, includePatterns, excludePatterns) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		docs = append(docs, document{Path: filepath.Clean(path), Rel: filepath.ToSlash(rel)})
		return nil
	})
	return docs, err
}

func shouldIncludeFile(path string, includePatterns, excludePatterns []string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "._") {
		return false
	}
	if matchesAnyPattern(base, excludePatterns) {
		return false
	}
	if len(includePatterns) == 0 {
		return strings.EqualFold(filepath.Ext(base), ".pdf")
	}
	return matchesAnyPattern(base, includePatterns)
}

// matchesAnyPattern matches base against shell patterns, ignoring case so
// that "*.pdf" also picks up scans saved as "*.PDF".
func matchesAnyPattern(base string, patterns []string) bool {
	lower := strings.ToLower(base)
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(strings.ToLower(pattern), lower); ok {
			return true
		}
	}
	return false
}
