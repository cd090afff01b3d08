package types

import (
	"encoding/json"
	"fmt"
)

// Emotion is one of the seven classifier output classes. The zero-ish
// extra values None and Unknown are sentinels: None means "no dominant
// emotion yet", Unknown is any label outside the enumeration (rendered
// with a fallback color, never aggregated).
type Emotion string

const (
	EmotionNeutral  Emotion = "neutral"
	EmotionHappy    Emotion = "happy"
	EmotionSurprise Emotion = "surprise"
	EmotionSad      Emotion = "sad"
	EmotionAngry    Emotion = "angry"
	EmotionDisgust  Emotion = "disgust"
	EmotionFear     Emotion = "fear"

	EmotionUnknown Emotion = "unknown"
	EmotionNone    Emotion = "none"
)

// emotionOrder is the canonical enumeration order. Statistic tables are
// always reported in this order and dominant-emotion ties resolve to the
// leftmost entry.
var emotionOrder = [...]Emotion{
	EmotionNeutral,
	EmotionHappy,
	EmotionSurprise,
	EmotionSad,
	EmotionAngry,
	EmotionDisgust,
	EmotionFear,
}

// NumEmotions is the size of the closed enumeration.
const NumEmotions = len(emotionOrder)

// Emotions returns the canonical enumeration order as a fresh slice.
func Emotions() []Emotion {
	out := make([]Emotion, NumEmotions)
	copy(out, emotionOrder[:])
	return out
}

// EmotionIndex returns the canonical position of e, or -1 for labels
// outside the enumeration.
func EmotionIndex(e Emotion) int {
	for i, known := range emotionOrder {
		if known == e {
			return i
		}
	}
	return -1
}

// ParseEmotion maps a classifier label onto the enumeration. Labels
// outside the seven classes come back as EmotionUnknown, never an error:
// the classifier is authoritative and unrecognized labels must still be
// rendered.
func ParseEmotion(label string) Emotion {
	e := Emotion(label)
	if EmotionIndex(e) >= 0 {
		return e
	}
	return EmotionUnknown
}

// Valid reports whether e is a member of the closed enumeration.
func (e Emotion) Valid() bool { return EmotionIndex(e) >= 0 }

// Rect is an axis-aligned box in pixel coordinates of the source frame.
// On the wire it is the classifier's [x, y, w, h] array.
type Rect struct {
	X int
	Y int
	W int
	H int
}

// MarshalJSON encodes the box as [x, y, w, h].
func (r Rect) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{r.X, r.Y, r.W, r.H})
}

// UnmarshalJSON accepts the classifier's [x, y, w, h] array form.
func (r *Rect) UnmarshalJSON(data []byte) error {
	var arr []int
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	if len(arr) != 4 {
		return fmt.Errorf("bbox: want 4 elements, got %d", len(arr))
	}
	r.X, r.Y, r.W, r.H = arr[0], arr[1], arr[2], arr[3]
	return nil
}

// Subject is one detected face in a single classification response.
// IDs are unique within one response only and never stable across frames.
type Subject struct {
	ID            int                `json:"id"`
	Box           Rect               `json:"bbox"`
	Emotion       Emotion            `json:"emotion"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"all_probs,omitempty"`
}

// DetectionResult is one classifier response. It is transient: consumed
// by the renderer and the aggregator right after the dispatch resolves,
// never retained.
type DetectionResult struct {
	NumSubjects int       `json:"num_faces"`
	Subjects    []Subject `json:"results"`
}
