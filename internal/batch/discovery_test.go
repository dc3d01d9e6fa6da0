package batch

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rels(docs []document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Rel
	}
	return out
}

func TestDiscoverDocuments(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "b.pdf", "a.PDF", "._a.pdf", "notes.txt", "nested/c.pdf", "nested/deeper/d.pdf", "draft-e.pdf")

	tests := []struct {
		name      string
		recursive bool
		include   []string
		exclude   []string
		want      []string
	}{
		{"flat", false, nil, nil, []string{"a.PDF", "b.pdf", "draft-e.pdf"}},
		{"recursive", true, nil, nil, []string{"a.PDF", "b.pdf", "draft-e.pdf", "nested/c.pdf", "nested/deeper/d.pdf"}},
		{"include pattern", true, []string{"*.pdf"}, nil, []string{"a.PDF", "b.pdf", "draft-e.pdf", "nested/c.pdf", "nested/deeper/d.pdf"}},
		{"exclude pattern", false, nil, []string{"draft-*"}, []string{"a.PDF", "b.pdf"}},
		{"include other extension", false, []string{"*.txt"}, nil, []string{"notes.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := discoverDocuments([]string{dir}, tt.recursive, tt.include, tt.exclude)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rels(docs))
		})
	}
}

func TestDiscoverDocuments_FilesAndDuplicates(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "x.pdf", "._x.pdf")
	file := filepath.Join(dir, "x.pdf")

	docs, err := discoverDocuments([]string{file, dir, filepath.Join(dir, "._x.pdf")}, false, nil, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, filepath.Clean(file), docs[0].Path)
	assert.Equal(t, "x.pdf", docs[0].Rel)
}

func TestDiscoverDocuments_MissingPath(t *testing.T) {
	_, err := discoverDocuments([]string{filepath.Join(t.TempDir(), "missing")}, true, nil, nil)
	assert.ErrorContains(t, err, "cannot access")
}
