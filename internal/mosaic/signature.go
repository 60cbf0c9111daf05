package mosaic

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Signature is the visual descriptor of an image region: the mean colour in
// the configured colour space.
type Signature [3]float64

// SignatureSpace selects the colour space signatures are computed in.
type SignatureSpace string

const (
	// SpaceRGB averages sRGB components in 0..255.
	SpaceRGB SignatureSpace = "rgb"
	// SpaceLab converts the mean colour to CIE L*a*b* on the usual scale:
	// L* in 0..100, a* and b* roughly -100..100.
	SpaceLab SignatureSpace = "lab"
)

// labScale lifts go-colorful's Lab (L* in 0..1) onto the 0..100 scale.
const labScale = 100

// ParseSignatureSpace accepts "rgb" or "lab" (case insensitive). The empty
// string selects rgb.
func ParseSignatureSpace(s string) (SignatureSpace, error) {
	switch SignatureSpace(strings.ToLower(strings.TrimSpace(s))) {
	case "", SpaceRGB:
		return SpaceRGB, nil
	case SpaceLab:
		return SpaceLab, nil
	default:
		return "", fmt.Errorf("unknown signature space %q", s)
	}
}

// Distance returns the euclidean distance of two signatures.
func Distance(a, b Signature) float64 {
	return math.Sqrt(distanceSq(a, b))
}

func distanceSq(a, b Signature) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Compute returns the signature of the part of img inside r. An empty
// intersection yields the zero signature.
func (sp SignatureSpace) Compute(img image.Image, r image.Rectangle) Signature {
	mean := meanColor(img, r.Intersect(img.Bounds()))
	if sp != SpaceLab {
		return mean
	}
	c := colorful.Color{R: mean[0] / 255, G: mean[1] / 255, B: mean[2] / 255}
	l, a, b := c.Lab()
	return Signature{l * labScale, a * labScale, b * labScale}
}

// meanColor averages the RGB components of r, ignoring alpha.
func meanColor(img image.Image, r image.Rectangle) Signature {
	if r.Empty() {
		return Signature{}
	}
	var sr, sg, sb uint64
	count := uint64(r.Dx() * r.Dy())

	switch src := img.(type) {
	case *image.NRGBA:
		for y := r.Min.Y; y < r.Max.Y; y++ {
			off := src.PixOffset(r.Min.X, y)
			row := src.Pix[off : off+r.Dx()*4]
			for i := 0; i < len(row); i += 4 {
				sr += uint64(row[i])
				sg += uint64(row[i+1])
				sb += uint64(row[i+2])
			}
		}
	default:
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				sr += uint64(c.R)
				sg += uint64(c.G)
				sb += uint64(c.B)
			}
		}
	}

	n := float64(count)
	return Signature{float64(sr) / n, float64(sg) / n, float64(sb) / n}
}
