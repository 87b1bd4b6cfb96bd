package bus

import (
	"context"
	"testing"

	"github.com/yungbote/dataset-engine/internal/platform/logger"
	"github.com/yungbote/dataset-engine/internal/realtime"
)

func TestMemoryBusForwardsToEveryListener(t *testing.T) {
	b := NewMemoryBus()
	var a, c []realtime.Message
	_ = b.StartForwarder(context.Background(), func(m realtime.Message) { a = append(a, m) })
	_ = b.StartForwarder(context.Background(), func(m realtime.Message) { c = append(c, m) })

	msg := realtime.Message{Channel: realtime.JournalChannel("villes"), Event: realtime.EventJournal}
	if err := b.Publish(context.Background(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(a) != 1 || len(c) != 1 || a[0].Channel != msg.Channel {
		t.Fatalf("listeners: want one message each got=%v %v", a, c)
	}
	if got := len(b.Published()); got != 1 {
		t.Fatalf("published: want=1 got=%d", got)
	}
}

func TestRedisBusKeysByDatasetChannel(t *testing.T) {
	raw, err := NewRedisBus(nil, "", logger.Nop())
	if err == nil || raw != nil {
		t.Fatalf("nil client: want error")
	}
	b := &redisBus{prefix: "events"}
	if got, want := b.key(realtime.TransactionsChannel("villes")), "events:datasets/villes/transactions"; got != want {
		t.Fatalf("key: want=%s got=%s", want, got)
	}
	if err := b.Publish(context.Background(), realtime.Message{}); err == nil {
		t.Fatalf("publish without channel: want error")
	}
}
