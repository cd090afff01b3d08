package emitter

import "context"

// NoopEmitter discards everything. Used when MQTT is disabled so the
// rest of the pipeline never has to check for a nil emitter.
type NoopEmitter struct{}

// NewNoopEmitter creates an emitter that discards all messages.
func NewNoopEmitter() *NoopEmitter {
	return &NoopEmitter{}
}

func (n *NoopEmitter) Connect(ctx context.Context) error { return nil }

func (n *NoopEmitter) PublishDetections(payload []byte) error { return nil }

func (n *NoopEmitter) PublishSummary(payload []byte) error { return nil }

func (n *NoopEmitter) PublishHealth(payload []byte) error { return nil }

func (n *NoopEmitter) Disconnect() error { return nil }

func (n *NoopEmitter) Stats() Stats { return Stats{Published: map[string]uint64{}} }
