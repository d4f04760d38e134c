package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	solanapay "github.com/coinbase/solanapay"
	"github.com/coinbase/solanapay/pkg/config"
)

type recordingPublisher struct {
	mu       sync.Mutex
	events   []Event
	calls    int
	failures int
	err      error
	block    chan struct{}
}

func (p *recordingPublisher) Publish(ctx context.Context, event Event) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) delivered() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *recordingPublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeWriter struct {
	messages []kafka.Message
	closed   bool
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (s *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	s.args = append(s.args, a)
	return redis.NewStringResult("1-0", s.err)
}

func (s *fakeStream) Close() error { return nil }

func confirmedContext() solanapay.SessionStatusContext {
	ref := solana.NewWallet().PublicKey()
	sig := solana.Signature{1, 2, 3}
	amount := "1.5"
	return solanapay.SessionStatusContext{
		Ctx:       context.Background(),
		SessionID: "session-1",
		From:      solanapay.SessionStatusPending,
		To:        solanapay.SessionStatusConfirmed,
		Reference: &ref,
		Signature: &sig,
		Amount:    &amount,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher(t *testing.T) {
	writer := &fakeWriter{}
	pub := &KafkaPublisher{writer: writer}

	event, err := NewSessionConfirmed(confirmedContext())
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, []byte("session-1"), msg.Key)
	assert.Equal(t, "type", msg.Headers[0].Key)
	assert.Equal(t, []byte(TypeSessionConfirmed), msg.Headers[0].Value)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.ID, decoded.ID)

	writer.err = errors.New("leader not available")
	assert.ErrorIs(t, pub.Publish(context.Background(), event), writer.err)

	require.NoError(t, pub.Close())
	assert.True(t, writer.closed)
}

func TestRedisPublisher(t *testing.T) {
	stream := &fakeStream{}
	pub := &RedisPublisher{client: stream, stream: "solanapay.events"}

	event, err := NewTransferObserved("acct", solanapay.TransferRecord{Signature: "sig-a"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, stream.args, 1)
	args := stream.args[0]
	assert.Equal(t, "solanapay.events", args.Stream)
	values := args.Values.(map[string]interface{})
	assert.Equal(t, TypeTransferObserved, values["type"])
	assert.Equal(t, "sig-a", values["subject"])

	stream.err = errors.New("NOGROUP")
	assert.ErrorIs(t, pub.Publish(context.Background(), event), stream.err)
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	pub := NewLogPublisher(zap.New(core))

	event, err := NewSessionConfirmed(confirmedContext())
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), event))

	entries := logs.FilterMessage("event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, TypeSessionConfirmed, entries[0].ContextMap()["type"])
}

func TestNew(t *testing.T) {
	tests := []struct {
		driver string
		want   interface{}
	}{
		{config.EventsDriverNone, NopPublisher{}},
		{config.EventsDriverLog, &LogPublisher{}},
		{config.EventsDriverKafka, &KafkaPublisher{}},
		{config.EventsDriverRedis, &RedisPublisher{}},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			pub, err := New(config.EventsConfig{
				Driver: tt.driver,
				Topic:  "solanapay.events",
				Kafka:  config.KafkaConfig{Brokers: []string{"localhost:9092"}},
				Redis:  config.RedisConfig{Addr: "localhost:6379"},
			}, zap.NewNop())
			require.NoError(t, err)
			assert.IsType(t, tt.want, pub)
			assert.NoError(t, pub.Close())
		})
	}

	_, err := New(config.EventsConfig{Driver: "sqs"}, zap.NewNop())
	assert.Error(t, err)
}
