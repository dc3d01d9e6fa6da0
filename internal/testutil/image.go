package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TableImageConfig describes a synthetic scanned table.
type TableImageConfig struct {
	Width, Height int
	Margin        int
	RowHeight     int
	ColumnWidth   int
	Background    color.Color
	Foreground    color.Color
	FontFace      font.Face
	// Scale enlarges the rendered glyphs, which are tiny in basicfont.
	Scale float64
}

// DefaultTableImageConfig returns a page-sized white canvas.
func DefaultTableImageConfig() TableImageConfig {
	return TableImageConfig{
		Width:       1240,
		Height:      1754,
		Margin:      60,
		RowHeight:   48,
		ColumnWidth: 260,
		Background:  color.White,
		Foreground:  color.Black,
		FontFace:    basicfont.Face7x13,
		Scale:       1,
	}
}

// RenderTable draws cells in a regular grid and returns the image.
func RenderTable(cfg TableImageConfig, rows [][]string) *image.NRGBA {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Src: &image.Uniform{cfg.Foreground}, Face: cfg.FontFace}
	ascent := cfg.FontFace.Metrics().Ascent.Ceil()
	for r, row := range rows {
		for c, text := range row {
			x := cfg.Margin + c*cfg.ColumnWidth
			y := cfg.Margin + r*cfg.RowHeight + ascent
			d.Dot = fixed.P(x, y)
			d.DrawString(text)
		}
	}

	if cfg.Scale > 0 && cfg.Scale != 1 {
		w := int(float64(cfg.Width) * cfg.Scale)
		return imaging.Resize(img, w, 0, imaging.NearestNeighbor)
	}
	return imaging.Clone(img)
}

// BlankPage returns a white page of the given size.
func BlankPage(width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img
}

// SavePNG writes img to dir/name and returns the path.
func SavePNG(t *testing.T, img image.Image, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path) //nolint:gosec // G304: test path
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.NoError(t, png.Encode(f, img))
	return path
}
