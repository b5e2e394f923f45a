package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestKafkaPublisherWritesEnvelope(t *testing.T) {
	writer := &captureWriter{}
	pub := &KafkaPublisher{writer: writer, topicPrefix: "storeledger."}

	evt := New("inventory.transferred", 7, map[string]any{"transfer_id": 3})
	require.NoError(t, pub.Publish(context.Background(), evt))

	require.Len(t, writer.msgs, 1)
	msg := writer.msgs[0]
	require.Equal(t, "storeledger.inventory.transferred", msg.Topic)
	require.Equal(t, "7", string(msg.Key))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, evt.ID, decoded.ID)
	require.Equal(t, int64(7), decoded.TenantID)
}

func TestNopPublisher(t *testing.T) {
	require.NoError(t, Nop{}.Publish(context.Background(), New("x", 1, nil)))
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, Event) error {
	p.calls++
	return errors.New("broker down")
}

func TestLoggedSwallowsDeliveryErrors(t *testing.T) {
	var buf bytes.Buffer
	inner := &failingPublisher{}
	pub := Logged(inner, slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, pub.Publish(context.Background(), New("ledger.entry_posted", 3, nil)))
	require.Equal(t, 1, inner.calls)
	require.Contains(t, buf.String(), "broker down")
	require.Contains(t, buf.String(), "type=ledger.entry_posted")
	require.IsType(t, Nop{}, Logged(nil, nil))
}
