package testutil

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/stretchr/testify/require"
)

// WriteScannedPDF builds an image-only PDF with one page per image, the way
// a scanner would, and returns its path inside a test temp directory.
func WriteScannedPDF(t *testing.T, pages ...image.Image) string {
	t.Helper()
	require.NotEmpty(t, pages, "at least one page is required")

	dir := t.TempDir()
	files := make([]string, len(pages))
	for i, img := range pages {
		files[i] = SavePNG(t, img, dir, fmt.Sprintf("scan-%03d.png", i+1))
	}

	out := filepath.Join(dir, "scan.pdf")
	require.NoError(t, api.ImportImagesFile(files, out, pdfcpu.DefaultImportConfig(), nil))
	return out
}

// WriteGarbage writes a file that is not a PDF.
func WriteGarbage(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("this is not a pdf"), 0o600))
	return path
}
