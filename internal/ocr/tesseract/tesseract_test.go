package tesseract

import (
	"context"
	"image"
	"image/color"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/tabscan/internal/model"
	"github.com/MeKo-Tech/tabscan/internal/ocr"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 6, opts.PageSegMode)
	assert.Equal(t, "tesseract", New(opts).Name())
}

func TestRecognizeHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(DefaultOptions()).Recognize(ctx, ocr.Input{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecognizeBlankPage(t *testing.T) {
	langs, err := AvailableLanguages()
	if err != nil || !slices.Contains(langs, "eng") {
		t.Skip("tesseract eng language pack not installed")
	}

	img := image.NewGray(image.Rect(0, 0, 400, 200))
	for i := range img.Pix {
		img.Pix[i] = color.White.Y
	}
	rec := ocr.NewRecognizer(New(DefaultOptions()), ocr.Config{Languages: []string{"eng"}}, nil)
	frags, err := rec.Recognize(context.Background(), model.NewPage(0, img, 300, nil), nil)
	require.NoError(t, err)
	assert.Empty(t, frags)
}
