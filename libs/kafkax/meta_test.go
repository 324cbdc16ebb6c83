package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestEventMetaHeadersRoundTrip(t *testing.T) {
	meta := EventMeta{EventID: "evt-1", EventType: "booking.hold.created.v1", TenantID: "tenant-1"}
	msg := kafka.Message{Topic: "booking.hold.created.v1", Headers: meta.Headers(context.Background())}

	assert.Equal(t, meta, ExtractEventMeta(msg))
}

func TestExtractEventMetaFallsBackToKeyAndTopic(t *testing.T) {
	msg := kafka.Message{Topic: "billing.subscription.activated.v1", Key: []byte("k-9")}

	got := ExtractEventMeta(msg)
	assert.Equal(t, "k-9", got.EventID)
	assert.Equal(t, "billing.subscription.activated.v1", got.EventType)
	assert.Empty(t, got.TenantID)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, SplitBrokers(""))
}
