package classify

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
)

func TestWireFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0xAB}, 64*1024),
	}

	var buf bytes.Buffer
	for _, p := range payloads {
		if err := writeWireFrame(&buf, p); err != nil {
			t.Fatalf("writeWireFrame(%d bytes) failed: %v", len(p), err)
		}
	}

	for i, want := range payloads {
		got, err := readWireFrame(&buf)
		if err != nil {
			t.Fatalf("readWireFrame #%d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame #%d: got %d bytes, want %d", i, len(got), len(want))
		}
	}

	if _, err := readWireFrame(&buf); err != io.EOF {
		t.Errorf("drained reader returned %v, want io.EOF", err)
	}
}

func TestReadWireFrameRejectsOversized(t *testing.T) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], maxWireFrame+1)

	_, err := readWireFrame(bytes.NewReader(hdr[:]))
	if err == nil {
		t.Fatal("oversized frame header accepted")
	}
	if errors.Is(err, io.EOF) {
		t.Error("oversized frame reported as clean EOF")
	}
}

func TestReadWireFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 100)
	buf.Write(hdr[:])
	buf.WriteString("only twenty bytes...")

	_, err := readWireFrame(&buf)
	if err == nil {
		t.Fatal("truncated payload accepted")
	}
	if err == io.EOF {
		t.Error("mid-frame truncation reported as clean EOF")
	}
}

func TestWorkerResponseToResult(t *testing.T) {
	resp := workerResponse{
		ID:       7,
		NumFaces: 2,
		Results: []workerFace{
			{ID: 0, BBox: [4]int{10, 20, 30, 40}, Emotion: "happy", Confidence: 0.91,
				AllProbs: map[string]float64{"happy": 0.91, "neutral": 0.09}},
			{ID: 1, BBox: [4]int{50, 60, 70, 80}, Emotion: "sad", Confidence: 0.55},
		},
	}

	result := resp.toResult()
	if result.NumSubjects != 2 || len(result.Subjects) != 2 {
		t.Fatalf("got %d/%d subjects, want 2/2", result.NumSubjects, len(result.Subjects))
	}

	first := result.Subjects[0]
	if first.Emotion != types.EmotionHappy {
		t.Errorf("emotion = %q, want happy", first.Emotion)
	}
	if first.Box != (types.Rect{X: 10, Y: 20, W: 30, H: 40}) {
		t.Errorf("box = %+v", first.Box)
	}
	if first.Probabilities["neutral"] != 0.09 {
		t.Errorf("probabilities not carried: %+v", first.Probabilities)
	}
	if result.Subjects[1].Probabilities != nil {
		t.Error("absent probabilities should stay nil")
	}
}
