package mosaic

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/photomosaic/api/internal/imageio"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// tileDir writes one solid 16x16 PNG per colour, named so that relative
// path order matches the argument order.
func tileDir(t *testing.T, colors ...color.NRGBA) string {
	t.Helper()
	dir := t.TempDir()
	for i, c := range colors {
		writePNG(t, filepath.Join(dir, string(rune('a'+i))+"_tile.png"), solid(16, 16, c))
	}
	return dir
}

func testOptions() LibraryOptions {
	return LibraryOptions{
		TileSize:   4,
		TileSizeHQ: 8,
		Space:      SpaceRGB,
		Workers:    2,
		Codec:      imageio.New(imageio.DefaultQuality),
	}
}

func sigTile(name string, r, g, b float64) Tile {
	return Tile{Name: name, Hash: name, Signature: Signature{r, g, b}}
}

func near(a, b uint8) bool {
	d := int(a) - int(b)
	return d >= -2 && d <= 2
}

func assertColor(t *testing.T, img image.Image, x, y int, want color.NRGBA) {
	t.Helper()
	got := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	if !near(got.R, want.R) || !near(got.G, want.G) || !near(got.B, want.B) {
		t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
	}
}

var (
	red   = color.NRGBA{R: 255, A: 255}
	green = color.NRGBA{G: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)
