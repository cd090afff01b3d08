package types

import (
	"fmt"
	"image"
	"time"
)

// Frame is a single decoded video frame in packed RGB (3 bytes per pixel).
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
	Seq       uint64
	TraceID   string
}

// RGBA converts the packed RGB payload into an image.RGBA suitable for
// drawing and JPEG encoding. The frame data is copied, never aliased.
func (f Frame) RGBA() (*image.RGBA, error) {
	need := f.Width * f.Height * 3
	if f.Width <= 0 || f.Height <= 0 || len(f.Data) < need {
		return nil, fmt.Errorf("frame %d: invalid raster %dx%d with %d bytes", f.Seq, f.Width, f.Height, len(f.Data))
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	si := 0
	for di := 0; di < len(img.Pix); di += 4 {
		img.Pix[di] = f.Data[si]
		img.Pix[di+1] = f.Data[si+1]
		img.Pix[di+2] = f.Data[si+2]
		img.Pix[di+3] = 0xFF
		si += 3
	}
	return img, nil
}

// StreamStats carries operational counters for a video source.
type StreamStats struct {
	Connected      bool    `json:"connected"`
	FPSReal        float64 `json:"fps_real"`
	FrameCount     uint64  `json:"frame_count"`
	LastFrameAgeMS int64   `json:"last_frame_age_ms"`
	Resolution     string  `json:"resolution"`
	Restarts       uint32  `json:"restarts"`
	BytesRead      uint64  `json:"bytes_read"`
}
