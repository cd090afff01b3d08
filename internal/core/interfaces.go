package core

import (
	"context"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/emitter"
)

// Emitter is the outbound message boundary. The MQTT implementation is
// swapped for a noop when no broker is configured.
type Emitter interface {
	Connect(ctx context.Context) error
	PublishDetections(payload []byte) error
	PublishSummary(payload []byte) error
	PublishHealth(payload []byte) error
	Disconnect() error
	Stats() emitter.Stats
}

var (
	_ Emitter = (*emitter.MQTTEmitter)(nil)
	_ Emitter = (*emitter.NoopEmitter)(nil)
)
