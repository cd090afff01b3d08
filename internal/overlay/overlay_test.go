package overlay_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/overlay"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
)

func blackBase(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xFF
	}
	return img
}

// regionHasColor reports whether any pixel inside the region is within
// tol of want on every channel. Antialiasing makes exact single-pixel
// checks brittle.
func regionHasColor(img *image.RGBA, region image.Rectangle, want color.RGBA, tol int) bool {
	abs := func(a, b uint8) int {
		d := int(a) - int(b)
		if d < 0 {
			d = -d
		}
		return d
	}
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			c := img.RGBAAt(x, y)
			if abs(c.R, want.R) <= tol && abs(c.G, want.G) <= tol && abs(c.B, want.B) <= tol {
				return true
			}
		}
	}
	return false
}

// TestRenderEmptyReturnsCleanCopy verifies no-detection frames come back
// unannotated and independent of the base image.
func TestRenderEmptyReturnsCleanCopy(t *testing.T) {
	base := blackBase(40, 30)
	base.SetRGBA(5, 5, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	out := overlay.Render(base, nil)

	if got := out.RGBAAt(5, 5); got != (color.RGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("pixel (5,5) = %v, want base pixel preserved", got)
	}

	// Mutating the result must not touch the base.
	out.SetRGBA(5, 5, color.RGBA{R: 200, A: 255})
	if got := base.RGBAAt(5, 5); got.R != 10 {
		t.Error("rendering aliased the base image")
	}
}

// TestRenderStrokesBoxInEmotionColor verifies the bounding box is drawn
// in the palette color of the detected emotion.
func TestRenderStrokesBoxInEmotionColor(t *testing.T) {
	base := blackBase(100, 100)
	subjects := []types.Subject{{
		ID:         0,
		Box:        types.Rect{X: 20, Y: 40, W: 50, H: 40},
		Emotion:    types.EmotionHappy,
		Confidence: 0.9,
	}}

	out := overlay.Render(base, subjects)

	want := overlay.ColorFor(types.EmotionHappy)
	topEdge := image.Rect(40, 38, 50, 43)
	if !regionHasColor(out, topEdge, want, 40) {
		t.Error("top edge of the box is not stroked in the happy color")
	}
	leftEdge := image.Rect(18, 55, 23, 65)
	if !regionHasColor(out, leftEdge, want, 40) {
		t.Error("left edge of the box is not stroked in the happy color")
	}

	// Box interior stays untouched.
	if got := out.RGBAAt(45, 60); got != (color.RGBA{A: 255}) {
		t.Errorf("box interior pixel = %v, want black", got)
	}
}

// TestRenderLabelAboveBox verifies the label bar fills the band directly
// above the box in the emotion color.
func TestRenderLabelAboveBox(t *testing.T) {
	base := blackBase(200, 120)
	subjects := []types.Subject{{
		Box:        types.Rect{X: 30, Y: 50, W: 60, H: 40},
		Emotion:    types.EmotionAngry,
		Confidence: 0.75,
	}}

	out := overlay.Render(base, subjects)

	want := overlay.ColorFor(types.EmotionAngry)
	bar := image.Rect(32, 32, 40, 40)
	if !regionHasColor(out, bar, want, 40) {
		t.Error("no label bar above the box")
	}
}

// TestRenderLabelFlipsBelowNearTopEdge verifies a box near the top edge
// gets its label below the box instead of off-frame.
func TestRenderLabelFlipsBelowNearTopEdge(t *testing.T) {
	base := blackBase(200, 120)
	subjects := []types.Subject{{
		Box:        types.Rect{X: 30, Y: 3, W: 60, H: 40},
		Emotion:    types.EmotionSad,
		Confidence: 0.6,
	}}

	out := overlay.Render(base, subjects)

	want := overlay.ColorFor(types.EmotionSad)
	below := image.Rect(32, 50, 40, 66)
	if !regionHasColor(out, below, want, 40) {
		t.Error("no label bar below the box after flip")
	}
}

// TestRenderUnknownEmotionFallback verifies labels outside the palette
// still render, in the fallback color.
func TestRenderUnknownEmotionFallback(t *testing.T) {
	base := blackBase(100, 100)
	subjects := []types.Subject{{
		Box:        types.Rect{X: 10, Y: 30, W: 40, H: 40},
		Emotion:    types.Emotion("confused"),
		Confidence: 0.5,
	}}

	out := overlay.Render(base, subjects)

	want := overlay.ColorFor("confused")
	if want != (color.RGBA{G: 255, A: 255}) {
		t.Fatalf("fallback color = %v, want green", want)
	}
	topEdge := image.Rect(25, 28, 35, 33)
	if !regionHasColor(out, topEdge, want, 40) {
		t.Error("unknown emotion box not stroked in fallback color")
	}
}

// TestColorForPalette pins the palette to the documented colors.
func TestColorForPalette(t *testing.T) {
	cases := []struct {
		emotion types.Emotion
		want    color.RGBA
	}{
		{types.EmotionNeutral, color.RGBA{R: 189, G: 195, B: 199, A: 255}},
		{types.EmotionHappy, color.RGBA{R: 46, G: 204, B: 113, A: 255}},
		{types.EmotionSurprise, color.RGBA{R: 241, G: 196, B: 15, A: 255}},
		{types.EmotionSad, color.RGBA{R: 52, G: 152, B: 219, A: 255}},
		{types.EmotionAngry, color.RGBA{R: 231, G: 76, B: 60, A: 255}},
		{types.EmotionDisgust, color.RGBA{R: 22, G: 160, B: 133, A: 255}},
		{types.EmotionFear, color.RGBA{R: 142, G: 68, B: 173, A: 255}},
	}

	for _, tc := range cases {
		if got := overlay.ColorFor(tc.emotion); got != tc.want {
			t.Errorf("ColorFor(%s) = %v, want %v", tc.emotion, got, tc.want)
		}
	}

	if got := overlay.ColorHex(types.EmotionHappy); got != "#2ecc71" {
		t.Errorf("ColorHex(happy) = %q, want #2ecc71", got)
	}
}
