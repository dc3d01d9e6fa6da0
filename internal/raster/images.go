package raster

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	_ "golang.org/x/image/tiff"
)

// errNoImages is returned when a page carries no decodable raster, which
// for a scanned document means the page cannot be processed.
var errNoImages = errors.New("page has no decodable images")

// largestImage decodes every file in dir and returns the one with the
// largest pixel area. Files that fail to decode are skipped.
func largestImage(dir string) (image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read extracted images: %w", err)
	}

	var best image.Image
	bestArea := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		img, err := loadImageFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		b := img.Bounds()
		if area := b.Dx() * b.Dy(); area > bestArea {
			best, bestArea = img, area
		}
	}
	if best == nil {
		return nil, errNoImages
	}
	return best, nil
}

func loadImageFile(path string) (image.Image, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is inside our own scratch directory
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	return img, err
}

// resample scales img so that it matches dpi for a page of the given size in
// PDF points. Without a page size the image is returned unchanged. The
// returned int is the resolution of the result.
func resample(img image.Image, dim *types.Dim, dpi int) (image.Image, int) {
	if dim == nil || dim.Width <= 0 || dim.Height <= 0 {
		return img, dpi
	}
	b := img.Bounds()
	pw, ph := dim.Width, dim.Height
	// Rotated pages report unrotated media boxes.
	if (b.Dx() > b.Dy()) != (pw > ph) {
		pw, ph = ph, pw
	}

	targetW := int(math.Round(pw / 72 * float64(dpi)))
	if targetW <= 0 {
		return img, dpi
	}
	if math.Abs(float64(targetW-b.Dx())) <= 0.01*float64(targetW) {
		return img, dpi
	}
	return imaging.Resize(img, targetW, 0, imaging.Lanczos), dpi
}

func toGray(img image.Image) image.Image {
	return imaging.Grayscale(img)
}
