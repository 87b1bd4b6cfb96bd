package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/dataset-engine/internal/data/repos/datasets"
	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
	"github.com/yungbote/dataset-engine/internal/platform/dbctx"
	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/realtime"
	"github.com/yungbote/dataset-engine/internal/realtime/bus"
)

// Notifier records journal events and publishes dataset changes to realtime subscribers.
type Notifier interface {
	Journal(ctx context.Context, datasetID, eventType, message string, data any) error
	Transactions(datasetID string, txs []Transaction)
	ExtensionProgress(datasetID string, ext types.Extension)
	// Close publishes what is already queued and stops the publisher.
	Close()
}

const publishQueueSize = 1024

type notifier struct {
	log     *logger.Logger
	journal datasets.JournalRepo
	bus     bus.Bus
	timeout time.Duration

	queue     chan realtime.Message
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewNotifier(journal datasets.JournalRepo, b bus.Bus, baseLog *logger.Logger) Notifier {
	n := &notifier{
		log:     baseLog.With("service", "Notifier"),
		journal: journal,
		bus:     b,
		timeout: 5 * time.Second,
		queue:   make(chan realtime.Message, publishQueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) Journal(ctx context.Context, datasetID, eventType, message string, data any) error {
	ev := &types.JournalEvent{DatasetID: datasetID, Type: eventType, Message: message}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		ev.Data = datatypes.JSON(raw)
	}
	if err := n.journal.Append(dbctx.With(ctx), ev); err != nil {
		return err
	}
	n.publish(realtime.Message{Channel: realtime.JournalChannel(datasetID), Event: realtime.EventJournal, Data: ev})
	return nil
}

func (n *notifier) Transactions(datasetID string, txs []Transaction) {
	if len(txs) == 0 {
		return
	}
	n.publish(realtime.Message{Channel: realtime.TransactionsChannel(datasetID), Event: realtime.EventTransactions, Data: txs})
}

func (n *notifier) ExtensionProgress(datasetID string, ext types.Extension) {
	n.publish(realtime.Message{
		Channel: realtime.ProgressChannel(datasetID),
		Event:   realtime.EventProgress,
		Data: map[string]any{
			"remoteService": ext.RemoteService,
			"action":        ext.Action,
			"progress":      ext.Progress,
			"error":         ext.Error,
		},
	})
}

// publish queues msg for the publisher goroutine, which keeps the order of calls. A full
// queue drops the message.
func (n *notifier) publish(msg realtime.Message) {
	if n.bus == nil {
		return
	}
	select {
	case n.queue <- msg:
	default:
		n.log.Warn("publish queue full, message dropped", "channel", msg.Channel)
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		select {
		case msg := <-n.queue:
			n.send(msg)
		case <-n.stop:
			for {
				select {
				case msg := <-n.queue:
					n.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (n *notifier) send(msg realtime.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.bus.Publish(ctx, msg); err != nil {
		n.log.Warn("publish failed", "channel", msg.Channel, "error", err)
	}
}

func (n *notifier) Close() {
	n.closeOnce.Do(func() { close(n.stop) })
	<-n.done
}
