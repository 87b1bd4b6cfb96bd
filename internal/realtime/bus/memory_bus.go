package bus

import (
	"context"
	"sync"

	"github.com/yungbote/dataset-engine/internal/realtime"
)

// MemoryBus delivers messages within the process. It is used when redis is not configured.
type MemoryBus struct {
	mu        sync.RWMutex
	listeners []func(realtime.Message)
	published []realtime.Message
}

func NewMemoryBus() *MemoryBus { return &MemoryBus{} }

func (b *MemoryBus) Publish(_ context.Context, msg realtime.Message) error {
	b.mu.Lock()
	b.published = append(b.published, msg)
	listeners := append([]func(realtime.Message){}, b.listeners...)
	b.mu.Unlock()
	for _, l := range listeners {
		l(msg)
	}
	return nil
}

func (b *MemoryBus) StartForwarder(_ context.Context, onMsg func(m realtime.Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, onMsg)
	return nil
}

// Published returns every message published so far.
func (b *MemoryBus) Published() []realtime.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]realtime.Message(nil), b.published...)
}

func (b *MemoryBus) Close() error { return nil }
