// Package overlay draws detection annotations onto video frames:
// bounding boxes stroked in a per-emotion color and a confidence label
// on a filled bar. Every render starts from a clean copy of the base
// frame so annotations never accumulate across frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

// init sets up the font we use for labels.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

const (
	boxStroke   = 2.0
	labelBarH   = 20
	labelMargin = 5
	fontSize    = 13.0
)

// palette assigns each emotion its display color.
var palette = map[types.Emotion]color.RGBA{
	types.EmotionNeutral:  {R: 189, G: 195, B: 199, A: 255},
	types.EmotionHappy:    {R: 46, G: 204, B: 113, A: 255},
	types.EmotionSurprise: {R: 241, G: 196, B: 15, A: 255},
	types.EmotionSad:      {R: 52, G: 152, B: 219, A: 255},
	types.EmotionAngry:    {R: 231, G: 76, B: 60, A: 255},
	types.EmotionDisgust:  {R: 22, G: 160, B: 133, A: 255},
	types.EmotionFear:     {R: 142, G: 68, B: 173, A: 255},
}

// fallback is used for labels outside the palette.
var fallback = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// ColorFor returns the display color for an emotion, falling back to
// green for labels outside the palette.
func ColorFor(e types.Emotion) color.RGBA {
	if c, ok := palette[e]; ok {
		return c
	}
	return fallback
}

// ColorHex returns the emotion color as a #rrggbb string for web UIs.
func ColorHex(e types.Emotion) string {
	c := ColorFor(e)
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Render draws the subjects onto a fresh copy of base and returns the
// annotated image. An empty subject slice returns the clean copy. Boxes
// are drawn as given; malformed geometry is the classifier's problem.
func Render(base image.Image, subjects []types.Subject) *image.RGBA {
	dc := gg.NewContextForImage(base)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: fontSize}))

	for _, s := range subjects {
		drawSubject(dc, s)
	}

	return dc.Image().(*image.RGBA)
}

func drawSubject(dc *gg.Context, s types.Subject) {
	col := ColorFor(s.Emotion)
	x, y := float64(s.Box.X), float64(s.Box.Y)
	w, h := float64(s.Box.W), float64(s.Box.H)

	dc.SetColor(col)
	dc.SetLineWidth(boxStroke)
	dc.DrawRectangle(x, y, w, h)
	dc.Stroke()

	label := fmt.Sprintf("%s %.1f%%", strings.ToUpper(string(s.Emotion)), s.Confidence*100)
	textW, _ := dc.MeasureString(label)

	// Label bar sits above the box; flip below when it would leave the
	// frame through the top edge.
	barY := s.Box.Y - labelBarH
	if barY < labelMargin {
		barY = s.Box.Y + s.Box.H + labelMargin
	}

	dc.SetColor(col)
	dc.DrawRectangle(x, float64(barY), textW+2*boxStroke, labelBarH)
	dc.Fill()

	dc.SetColor(color.Black)
	dc.DrawString(label, x+boxStroke, float64(barY+labelBarH-labelMargin))
}
