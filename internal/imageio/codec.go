// Package imageio decodes uploaded photos and tile images and encodes
// rendered canvases. Decoding goes through imaging so EXIF orientation is
// applied; the extra formats come from golang.org/x/image.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/disintegration/imaging"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 85

// Codec is the image I/O collaborator: decode from any registered format,
// encode to one of the registered output formats.
type Codec struct {
	encoders map[string]Encoder
	quality  int
}

// New creates a codec with all output encoders registered.
func New(quality int) *Codec {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	c := &Codec{encoders: make(map[string]Encoder), quality: quality}
	for _, enc := range []Encoder{&JPEGEncoder{}, &PNGEncoder{}, &BMPEncoder{}, &TIFFEncoder{}} {
		c.encoders[enc.Format()] = enc
	}
	return c
}

// Quality returns the configured JPEG quality.
func (c *Codec) Quality() int { return c.quality }

// Decode reads an image and applies its EXIF orientation.
func (c *Codec) Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	return img, nil
}

// DecodeFile decodes the image stored at path.
func (c *Codec) DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.Decode(f)
}

// Encode writes img to w in format.
func (c *Codec) Encode(w io.Writer, img image.Image, format string) error {
	enc, err := c.Encoder(format)
	if err != nil {
		return err
	}
	return enc.Encode(w, img, c.quality)
}

// EncodeBytes encodes img in memory.
func (c *Codec) EncodeBytes(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(256 * 1024)
	if err := c.Encode(&buf, img, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encoder returns the encoder registered for format. "jpg" and "tif" are
// accepted as aliases.
func (c *Codec) Encoder(format string) (Encoder, error) {
	enc, ok := c.encoders[NormalizeFormat(format)]
	if !ok {
		return nil, fmt.Errorf("unsupported output format %q (available: %s)",
			format, strings.Join(c.Formats(), ", "))
	}
	return enc, nil
}

// Formats lists the registered output formats.
func (c *Codec) Formats() []string {
	out := make([]string, 0, len(c.encoders))
	for f := range c.encoders {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// NormalizeFormat lower-cases format and resolves common aliases.
func NormalizeFormat(format string) string {
	f := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	switch f {
	case "jpg":
		return "jpeg"
	case "tif":
		return "tiff"
	}
	return f
}
