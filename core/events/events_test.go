package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage(t *testing.T) {
	e := New(TypeNotificationCreated, "user-1", map[string]string{"title": "hi"})
	m, err := Message(e)
	require.NoError(t, err)
	assert.Equal(t, []byte("user-1"), m.Key)
	assert.Equal(t, e.Timestamp, m.Time)
	require.Len(t, m.Headers, 1)
	assert.Equal(t, "type", m.Headers[0].Key)
	assert.Equal(t, TypeNotificationCreated, string(m.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(m.Value, &decoded))
	assert.Equal(t, TypeNotificationCreated, decoded.Type)
	assert.JSONEq(t, `{"title":"hi"}`, string(decoded.Payload))
}

func TestNewRawPayload(t *testing.T) {
	e := New(TypeMessageCreated, "c", []byte(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, string(e.Payload))
}

func TestNop(t *testing.T) {
	p := Nop()
	assert.NoError(t, p.Publish(context.Background(), New("x", "y", nil)))
	assert.NoError(t, p.Close())
}

func TestNoBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(" , ", "")
	assert.Error(t, err)
}

func TestPublishDoesNotWaitForBroker(t *testing.T) {
	p, err := NewKafkaPublisher("127.0.0.1:1", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	start := time.Now()
	assert.NoError(t, p.Publish(ctx, New(TypeMessageCreated, "conversation", map[string]string{"id": "1"})))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// the background write outlives the request context
	cancel()
	assert.NoError(t, p.Close())
}

// TestKafkaPublisher needs a broker, e.g. KAFKA_BROKERS=localhost:9092
func TestKafkaPublisher(t *testing.T) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if testing.Short() || brokers == "" {
		t.Skip("KAFKA_BROKERS not set")
	}
	topic := "kumii_test_" + uuid.NewString()[:8]
	p, err := NewKafkaPublisher(brokers, topic)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m, err := Message(New(TypePostCreated, "thread-1", map[string]int{"n": 1}))
	require.NoError(t, err)
	// the first write may fail while the topic gets created
	for {
		err = p.write(ctx, []kafka.Message{m})
		if err == nil || ctx.Err() != nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, err)

	reader := kafka.NewReader(kafka.ReaderConfig{Brokers: []string{brokers}, Topic: topic})
	defer reader.Close()
	read, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "thread-1", string(read.Key))
}
