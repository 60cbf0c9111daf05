package imageio

import (
	"bytes"
	"image"
	"image/color"
	"strings"
	"testing"
)

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: 200, G: 40, B: 40, A: 255}
			if (x/4+y/4)%2 == 0 {
				c = color.NRGBA{R: 30, G: 60, B: 220, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestEncodeDecodeFormats(t *testing.T) {
	codec := New(90)
	src := checker(16, 12)

	for _, format := range []string{"jpeg", "jpg", "png", "bmp", "tiff", "TIF"} {
		t.Run(format, func(t *testing.T) {
			data, err := codec.EncodeBytes(src, format)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			img, err := codec.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 12 {
				t.Errorf("decoded size %v", img.Bounds())
			}
		})
	}
}

func TestLosslessFormatsRoundTrip(t *testing.T) {
	codec := New(0)
	src := checker(8, 8)
	for _, format := range []string{"png", "bmp", "tiff"} {
		data, err := codec.EncodeBytes(src, format)
		if err != nil {
			t.Fatal(err)
		}
		img, err := codec.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatal(err)
		}
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				got := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				if got != src.NRGBAAt(x, y) {
					t.Fatalf("%s pixel (%d,%d) = %v, want %v", format, x, y, got, src.NRGBAAt(x, y))
				}
			}
		}
	}
}

func TestEncoderLookup(t *testing.T) {
	codec := New(DefaultQuality)

	enc, err := codec.Encoder("JPG")
	if err != nil {
		t.Fatal(err)
	}
	if enc.Format() != "jpeg" || enc.Extension() != "jpg" || enc.ContentType() != "image/jpeg" {
		t.Errorf("jpeg encoder = %s/%s/%s", enc.Format(), enc.Extension(), enc.ContentType())
	}

	_, err = codec.Encoder("gif")
	if err == nil || !strings.Contains(err.Error(), "available: bmp, jpeg, png, tiff") {
		t.Errorf("unsupported format error = %v", err)
	}

	if got := strings.Join(codec.Formats(), ","); got != "bmp,jpeg,png,tiff" {
		t.Errorf("formats = %s", got)
	}
}

func TestQualityDefault(t *testing.T) {
	for _, q := range []int{0, -5, 101} {
		if got := New(q).Quality(); got != DefaultQuality {
			t.Errorf("New(%d).Quality() = %d", q, got)
		}
	}
	if got := New(70).Quality(); got != 70 {
		t.Errorf("quality = %d, want 70", got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := New(0).Decode(strings.NewReader("plain text")); err == nil {
		t.Fatal("decoded plain text")
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("tile"))
	if len(a) != 16 {
		t.Fatalf("hash %q is not 16 hex chars", a)
	}
	if a != ContentHash([]byte("tile")) {
		t.Error("hash not stable")
	}
	if a == ContentHash([]byte("tile2")) {
		t.Error("different content, same hash")
	}
}
