package ocr

import (
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
)

func TestBinarizeThreshold(t *testing.T) {
	img := imaging.New(2, 1, color.NRGBA{0, 0, 0, 255})
	img.Set(1, 0, color.NRGBA{255, 255, 255, 255})
	out := binarize(img, 128)
	r, _, _, _ := out.At(0, 0).RGBA()
	if r != 0 {
		t.Fatalf("dark pixel not black after threshold")
	}
	r, _, _, _ = out.At(1, 0).RGBA()
	if r>>8 != 255 {
		t.Fatalf("light pixel not white after threshold")
	}
}

func TestPrepareUpscalesSmallCrops(t *testing.T) {
	img := imaging.New(300, 120, color.NRGBA{200, 200, 200, 255})
	out := prepare(img)
	if out.Bounds().Dy() != 800 {
		t.Fatalf("expected upscale to 800px height, got %d", out.Bounds().Dy())
	}
	big := imaging.New(300, 500, color.NRGBA{200, 200, 200, 255})
	out = prepare(big)
	if out.Bounds().Dy() != 500 {
		t.Fatalf("expected no upscale for tall crop, got %d", out.Bounds().Dy())
	}
}
