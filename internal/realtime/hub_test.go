package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/dataset-engine/internal/platform/logger"
)

func recvMessage(t *testing.T, ch <-chan Message, timeout time.Duration) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}

func TestHubOrderingAndReconnect(t *testing.T) {
	hub := NewHub(logger.Nop())
	channel := TransactionsChannel("ds1")

	clientA := hub.NewClient("ds1")
	hub.AddChannel(clientA, channel)

	hub.Broadcast(Message{Channel: channel, Event: EventTransactions, Data: map[string]any{"seq": 1}})
	hub.Broadcast(Message{Channel: channel, Event: EventJournal, Data: map[string]any{"seq": 2}})

	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != EventTransactions {
		t.Fatalf("first event: want=%s got=%s", EventTransactions, got.Event)
	}
	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != EventJournal {
		t.Fatalf("second event: want=%s got=%s", EventJournal, got.Event)
	}

	hub.CloseClient(clientA)
	if _, ok := <-clientA.Outbound; ok {
		t.Fatalf("outbound should be closed after disconnect")
	}
	if n := hub.Subscribers(channel); n != 0 {
		t.Fatalf("subscribers: want=0 got=%d", n)
	}

	clientB := hub.NewClient("ds1")
	hub.AddChannel(clientB, channel)
	hub.Broadcast(Message{Channel: channel, Event: EventTransactions})
	recvMessage(t, clientB.Outbound, time.Second)
}

func TestHubIgnoresOtherChannels(t *testing.T) {
	hub := NewHub(logger.Nop())
	client := hub.NewClient("ds1")
	hub.AddChannel(client, JournalChannel("ds1"))

	hub.Broadcast(Message{Channel: JournalChannel("ds2"), Event: EventJournal})
	select {
	case msg := <-client.Outbound:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubServeHTTPWritesEvents(t *testing.T) {
	hub := NewHub(logger.Nop())
	client := hub.NewClient("ds1")
	hub.AddChannel(client, JournalChannel("ds1"))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		hub.ServeHTTP(rec, req, client)
		close(done)
	}()
	hub.Broadcast(Message{Channel: JournalChannel("ds1"), Event: EventJournal, Data: map[string]any{"type": "finalize-end"}})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "event: journal\ndata: {\"type\":\"finalize-end\"}") {
		t.Fatalf("body: got=%q", body)
	}
}

func TestHubCountsDroppedMessages(t *testing.T) {
	hub := NewHub(logger.Nop())
	client := hub.NewClient("ds1")
	channel := ProgressChannel("ds1")
	hub.AddChannel(client, channel)

	for i := 0; i < outboundBuffer+3; i++ {
		hub.Broadcast(Message{Channel: channel, Event: EventProgress, Data: i})
	}
	if got := client.Dropped(); got != 3 {
		t.Fatalf("dropped: want=3 got=%d", got)
	}
	if got := recvMessage(t, client.Outbound, time.Second); got.Data != 0 {
		t.Fatalf("first kept message: want=0 got=%v", got.Data)
	}
}
