package imageio

import (
	"image"
	"io"

	"github.com/disintegration/imaging"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Encoder writes an image in one output format.
type Encoder interface {
	// Format returns the canonical format name (e.g. "jpeg", "png").
	Format() string

	// Extension returns the file extension without dot.
	Extension() string

	// ContentType returns the MIME type used when publishing the file.
	ContentType() string

	// Encode writes img to w. quality is only honoured by lossy formats.
	Encode(w io.Writer, img image.Image, quality int) error
}

// JPEGEncoder encodes images to JPEG.
type JPEGEncoder struct{}

func (e *JPEGEncoder) Format() string      { return "jpeg" }
func (e *JPEGEncoder) Extension() string   { return "jpg" }
func (e *JPEGEncoder) ContentType() string { return "image/jpeg" }

func (e *JPEGEncoder) Encode(w io.Writer, img image.Image, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}

// PNGEncoder encodes images to PNG. Used for tile variants, where output
// must be lossless so repeated renders stay identical.
type PNGEncoder struct{}

func (e *PNGEncoder) Format() string      { return "png" }
func (e *PNGEncoder) Extension() string   { return "png" }
func (e *PNGEncoder) ContentType() string { return "image/png" }

func (e *PNGEncoder) Encode(w io.Writer, img image.Image, _ int) error {
	return imaging.Encode(w, img, imaging.PNG)
}

// BMPEncoder encodes images to uncompressed BMP.
type BMPEncoder struct{}

func (e *BMPEncoder) Format() string      { return "bmp" }
func (e *BMPEncoder) Extension() string   { return "bmp" }
func (e *BMPEncoder) ContentType() string { return "image/bmp" }

func (e *BMPEncoder) Encode(w io.Writer, img image.Image, _ int) error {
	return bmp.Encode(w, img)
}

// TIFFEncoder encodes images to deflate compressed TIFF.
type TIFFEncoder struct{}

func (e *TIFFEncoder) Format() string      { return "tiff" }
func (e *TIFFEncoder) Extension() string   { return "tiff" }
func (e *TIFFEncoder) ContentType() string { return "image/tiff" }

func (e *TIFFEncoder) Encode(w io.Writer, img image.Image, _ int) error {
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}
