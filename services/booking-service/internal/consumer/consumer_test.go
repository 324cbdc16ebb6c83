package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/salonbook/libs/kafkax"
)

type memInbox struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (m *memInbox) Record(_ context.Context, eventID, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.seen[eventID] {
		return false, nil
	}
	m.seen[eventID] = true
	return true, nil
}

func (m *memInbox) Forget(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, eventID)
	return nil
}

func newTestConsumer(inbox Inbox, h Handler) *Consumer {
	return &Consumer{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), inbox: inbox, handler: h}
}

func message(id string) kafka.Message {
	meta := kafkax.EventMeta{EventID: id, EventType: "billing.subscription.activated.v1"}
	return kafka.Message{Topic: meta.EventType, Value: []byte(`{}`), Headers: meta.Headers(context.Background())}
}

func TestProcessDeduplicatesByEventID(t *testing.T) {
	calls := 0
	c := newTestConsumer(&memInbox{seen: map[string]bool{}}, func(context.Context, kafka.Message) error {
		calls++
		return nil
	})

	require.NoError(t, c.Process(context.Background(), message("evt-1")))
	require.NoError(t, c.Process(context.Background(), message("evt-1")))
	require.NoError(t, c.Process(context.Background(), message("evt-2")))
	assert.Equal(t, 2, calls)
}

func TestProcessReturnsFailures(t *testing.T) {
	boom := errors.New("db down")

	c := newTestConsumer(&memInbox{err: boom}, func(context.Context, kafka.Message) error { return nil })
	assert.ErrorIs(t, c.Process(context.Background(), message("evt-1")), boom)

	fail := true
	calls := 0
	c = newTestConsumer(&memInbox{seen: map[string]bool{}}, func(context.Context, kafka.Message) error {
		calls++
		if fail {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, c.Process(context.Background(), message("evt-1")), boom)

	// A failed delivery is not remembered, so the redelivery is handled.
	fail = false
	require.NoError(t, c.Process(context.Background(), message("evt-1")))
	assert.Equal(t, 2, calls)
}
