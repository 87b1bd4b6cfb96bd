package realtime

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

const outboundBuffer = 64

// Client is one event-stream connection following a single dataset.
type Client struct {
	ID        uuid.UUID
	DatasetID string
	Channels  map[string]bool
	Outbound  chan Message

	done    chan struct{}
	dropped atomic.Int64
	log     *logger.Logger
}

func (hub *Hub) NewClient(datasetID string) *Client {
	id := uuid.New()
	return &Client{
		ID:        id,
		DatasetID: datasetID,
		Channels:  make(map[string]bool),
		Outbound:  make(chan Message, outboundBuffer),
		done:      make(chan struct{}),
		log:       hub.log.With("client_id", id.String(), "dataset_id", datasetID),
	}
}

// Dropped counts messages lost because the client read slower than events arrived.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// offer queues msg without blocking and reports whether it was accepted.
func (c *Client) offer(msg Message) bool {
	select {
	case c.Outbound <- msg:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}
