// Package emostats maintains the exponentially decayed emotion statistic
// table behind the live summary.
//
// The table has exactly one row per enumerated emotion, always fully
// populated. It mutates only through decay-then-add (Update) and Reset:
// every Update first multiplies both accumulators of every row by the
// decay factor, then adds the new batch at full weight. Decay is applied
// once per Update call (per observation batch, not per wall-clock time),
// so an Update with no subjects still decays. The order guarantees the
// most recent batch always counts at full weight.
package emostats

import (
	"fmt"
	"sync"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
)

// DefaultDecay is the per-update attenuation factor λ.
const DefaultDecay = 0.97

// Row is the stored accumulator pair for one emotion.
type Row struct {
	WeightedCount         float64 `json:"weighted_count"`
	WeightedConfidenceSum float64 `json:"confidence_sum"`
}

// Entry is one reported table row with its derived values. Percentage is
// WeightedCount over the table total (0 when the total is 0) and
// AvgConfidence is WeightedConfidenceSum over WeightedCount (0 when the
// count is 0). Neither is stored; both are computed at snapshot time.
type Entry struct {
	Emotion types.Emotion `json:"emotion"`
	Row
	Percentage    float64 `json:"percentage"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// Snapshot is one consistent view of the table, rows in canonical
// enumeration order.
type Snapshot struct {
	Rows     []Entry       `json:"table"`
	Total    float64       `json:"total"`
	Dominant types.Emotion `json:"dominant"`
	Updates  uint64        `json:"updates"`
}

// Aggregator owns the statistic table. All methods are safe for
// concurrent use; the table is mutated only through Update and Reset.
type Aggregator struct {
	mu      sync.Mutex
	decay   float64
	rows    [types.NumEmotions]Row
	updates uint64
}

// New creates an aggregator with the given decay factor λ. λ must be in
// (0, 1]: 1 disables decay, values at or below 0 would zero or negate
// history and are rejected.
func New(decay float64) (*Aggregator, error) {
	if decay <= 0 || decay > 1 {
		return nil, fmt.Errorf("decay must be in (0,1], got %g", decay)
	}
	return &Aggregator{decay: decay}, nil
}

// Update applies one observation batch: decay first, then add each
// subject whose emotion is in the enumeration at full weight. Subjects
// with out-of-enumeration emotions are skipped entirely. The call is
// atomic with respect to its inputs: readers never observe a decayed
// table without the batch applied.
func (a *Aggregator) Update(subjects []types.Subject) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.rows {
		a.rows[i].WeightedCount *= a.decay
		a.rows[i].WeightedConfidenceSum *= a.decay
	}

	for _, s := range subjects {
		idx := types.EmotionIndex(s.Emotion)
		if idx < 0 {
			continue
		}
		a.rows[idx].WeightedCount++
		a.rows[idx].WeightedConfidenceSum += s.Confidence
	}

	a.updates++
}

// Reset zeroes every row. Called when a session stops so the next one
// starts from a clean baseline.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rows = [types.NumEmotions]Row{}
	a.updates = 0
}

// Dominant returns the emotion with the highest share of the current
// table, EmotionNone when the table is empty. Ties resolve to the
// leftmost emotion in canonical enumeration order.
func (a *Aggregator) Dominant() types.Emotion {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dominantLocked()
}

func (a *Aggregator) dominantLocked() types.Emotion {
	best := -1
	bestCount := 0.0
	total := 0.0
	for i := range a.rows {
		total += a.rows[i].WeightedCount
		if a.rows[i].WeightedCount > bestCount {
			best = i
			bestCount = a.rows[i].WeightedCount
		}
	}
	if total == 0 || best < 0 {
		return types.EmotionNone
	}
	return types.Emotions()[best]
}

// Table returns a snapshot with derived percentages and average
// confidences, taken under a single lock acquisition so the rows, total
// and dominant emotion are mutually consistent.
func (a *Aggregator) Table() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0.0
	for i := range a.rows {
		total += a.rows[i].WeightedCount
	}

	snap := Snapshot{
		Rows:     make([]Entry, types.NumEmotions),
		Total:    total,
		Dominant: a.dominantLocked(),
		Updates:  a.updates,
	}

	for i, e := range types.Emotions() {
		entry := Entry{Emotion: e, Row: a.rows[i]}
		if total > 0 {
			entry.Percentage = a.rows[i].WeightedCount / total
		}
		if a.rows[i].WeightedCount > 0 {
			entry.AvgConfidence = a.rows[i].WeightedConfidenceSum / a.rows[i].WeightedCount
		}
		snap.Rows[i] = entry
	}
	return snap
}
