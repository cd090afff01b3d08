package types

import (
	"encoding/json"
	"testing"
)

// TestParseEmotionClosedEnum validates that the seven known labels map to
// themselves and anything else degrades to EmotionUnknown instead of
// failing.
func TestParseEmotionClosedEnum(t *testing.T) {
	for _, e := range Emotions() {
		if got := ParseEmotion(string(e)); got != e {
			t.Errorf("ParseEmotion(%q) = %q, want %q", e, got, e)
		}
	}

	for _, label := range []string{"contempt", "HAPPY", "", "none"} {
		if got := ParseEmotion(label); got != EmotionUnknown {
			t.Errorf("ParseEmotion(%q) = %q, want unknown", label, got)
		}
	}
}

// TestEmotionCanonicalOrder pins the enumeration order that tables and
// tie-breaks depend on.
func TestEmotionCanonicalOrder(t *testing.T) {
	want := []Emotion{
		EmotionNeutral, EmotionHappy, EmotionSurprise,
		EmotionSad, EmotionAngry, EmotionDisgust, EmotionFear,
	}

	got := Emotions()
	if len(got) != NumEmotions {
		t.Fatalf("Emotions() returned %d entries, want %d", len(got), NumEmotions)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Emotions()[%d] = %q, want %q", i, got[i], want[i])
		}
		if idx := EmotionIndex(want[i]); idx != i {
			t.Errorf("EmotionIndex(%q) = %d, want %d", want[i], idx, i)
		}
	}

	if EmotionIndex(EmotionUnknown) != -1 {
		t.Error("EmotionIndex(unknown) should be -1, unknown is not enumerated")
	}
}

// TestDetectionResultWireShape validates the classifier JSON contract:
// bbox as [x, y, w, h] and all_probs optional.
func TestDetectionResultWireShape(t *testing.T) {
	payload := `{
		"num_faces": 2,
		"results": [
			{"id": 0, "bbox": [10, 20, 120, 140], "emotion": "happy",
			 "confidence": 0.97, "all_probs": {"happy": 0.97, "neutral": 0.02}},
			{"id": 1, "bbox": [300, 40, 80, 90], "emotion": "perplexed", "confidence": 0.51}
		]
	}`

	var res DetectionResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if res.NumSubjects != 2 || len(res.Subjects) != 2 {
		t.Fatalf("got %d/%d subjects, want 2/2", res.NumSubjects, len(res.Subjects))
	}

	first := res.Subjects[0]
	if first.Box != (Rect{X: 10, Y: 20, W: 120, H: 140}) {
		t.Errorf("bbox parsed as %+v", first.Box)
	}
	if first.Probabilities["happy"] != 0.97 {
		t.Errorf("all_probs lost: %v", first.Probabilities)
	}

	second := res.Subjects[1]
	if second.Probabilities != nil {
		t.Errorf("absent all_probs should stay nil, got %v", second.Probabilities)
	}
	if ParseEmotion(string(second.Emotion)) != EmotionUnknown {
		t.Errorf("out-of-enum label %q should normalize to unknown", second.Emotion)
	}

	// Re-encode keeps the array form.
	out, err := json.Marshal(first.Box)
	if err != nil {
		t.Fatalf("marshal bbox: %v", err)
	}
	if string(out) != "[10,20,120,140]" {
		t.Errorf("bbox re-encoded as %s", out)
	}
}

// TestRectUnmarshalRejectsBadShapes validates bbox arrays of the wrong
// arity are rejected rather than silently truncated.
func TestRectUnmarshalRejectsBadShapes(t *testing.T) {
	var r Rect
	for _, bad := range []string{`[1,2,3]`, `[1,2,3,4,5]`, `{"x":1}`} {
		if err := json.Unmarshal([]byte(bad), &r); err == nil {
			t.Errorf("bbox %s should not parse", bad)
		}
	}
}

// TestFrameRGBA validates packed RGB to RGBA conversion and the short
// buffer guard.
func TestFrameRGBA(t *testing.T) {
	f := Frame{
		Data:   []byte{255, 0, 0, 0, 255, 0, 0, 0, 255, 9, 9, 9},
		Width:  2,
		Height: 2,
	}

	img, err := f.RGBA()
	if err != nil {
		t.Fatalf("RGBA() failed: %v", err)
	}

	r, g, b, a := img.At(1, 0).RGBA()
	if r>>8 != 0 || g>>8 != 255 || b>>8 != 0 || a>>8 != 255 {
		t.Errorf("pixel (1,0) = %d,%d,%d,%d, want pure green", r>>8, g>>8, b>>8, a>>8)
	}

	short := Frame{Data: []byte{1, 2, 3}, Width: 2, Height: 2}
	if _, err := short.RGBA(); err == nil {
		t.Error("short buffer should fail conversion")
	}
}
