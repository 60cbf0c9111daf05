package mosaic

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func TestComputeMean(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 0, B: 100, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 0, G: 50, B: 100, A: 255})

	got := SpaceRGB.Compute(img, img.Bounds())
	if got != (Signature{100, 25, 100}) {
		t.Errorf("mean = %v", got)
	}

	// The generic path must agree with the NRGBA fast path.
	rgba := image.NewRGBA(img.Bounds())
	for x := 0; x < 2; x++ {
		rgba.Set(x, 0, img.At(x, 0))
	}
	if generic := SpaceRGB.Compute(rgba, rgba.Bounds()); generic != got {
		t.Errorf("generic mean = %v, fast path = %v", generic, got)
	}
}

func TestComputeSubRect(t *testing.T) {
	img := solid(10, 10, red)
	for x := 5; x < 10; x++ {
		for y := 0; y < 10; y++ {
			img.Set(x, y, blue)
		}
	}
	if got := SpaceRGB.Compute(img, image.Rect(5, 0, 10, 10)); got != (Signature{0, 0, 255}) {
		t.Errorf("right half = %v", got)
	}
	if got := SpaceRGB.Compute(img, image.Rect(20, 20, 30, 30)); got != (Signature{}) {
		t.Errorf("outside image = %v", got)
	}
}

func TestComputeLab(t *testing.T) {
	light := SpaceLab.Compute(solid(2, 2, color.NRGBA{255, 255, 255, 255}), image.Rect(0, 0, 2, 2))
	if math.Abs(light[0]-100) > 1 || math.Abs(light[1]) > 1 || math.Abs(light[2]) > 1 {
		t.Errorf("white Lab = %v, want about [100 0 0]", light)
	}
	black := SpaceLab.Compute(solid(2, 2, color.NRGBA{0, 0, 0, 255}), image.Rect(0, 0, 2, 2))
	if black[0] > 1 {
		t.Errorf("black L = %v", black[0])
	}

	// sRGB red is about L*53 a*80 b*67: chroma and lightness share a scale.
	r := SpaceLab.Compute(solid(2, 2, color.NRGBA{255, 0, 0, 255}), image.Rect(0, 0, 2, 2))
	if math.Abs(r[0]-53.2) > 1.5 || math.Abs(r[1]-80.1) > 1.5 || math.Abs(r[2]-67.2) > 1.5 {
		t.Errorf("red Lab = %v, want about [53.2 80.1 67.2]", r)
	}
}

func TestParseSignatureSpace(t *testing.T) {
	for in, want := range map[string]SignatureSpace{"": SpaceRGB, "RGB": SpaceRGB, " lab ": SpaceLab} {
		got, err := ParseSignatureSpace(in)
		if err != nil || got != want {
			t.Errorf("ParseSignatureSpace(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseSignatureSpace("hsv"); err == nil {
		t.Error("hsv accepted")
	}
}

func TestDistance(t *testing.T) {
	if d := Distance(Signature{0, 0, 0}, Signature{3, 4, 0}); d != 5 {
		t.Errorf("distance = %v, want 5", d)
	}
}
