// Package bus carries realtime messages between processes so the replica holding an event
// stream sees changes written by any API or worker process.
package bus

import (
	"context"

	"github.com/yungbote/dataset-engine/internal/realtime"
)

// Bus is implemented in process (MemoryBus) and over redis pub/sub.
type Bus interface {
	// Publish must not be called with an empty channel.
	Publish(ctx context.Context, msg realtime.Message) error
	// StartForwarder delivers every message published by any process to onMsg until ctx ends.
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}
