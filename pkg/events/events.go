// Package events publishes payment notifications to a message bus.
//
// Two events are emitted:
//   - session.confirmed when a PaymentSession reaches the confirmed status
//   - transfer.observed the first time the reconciler publishes a signature
//
// Hooks hand events to a Dispatcher, which delivers them on its own goroutine
// and retries until the backend accepts them. Delivery is at-least-once from
// the process's point of view. Nothing is deduplicated across restarts, so
// consumers should key on Event.Subject.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	solanapay "github.com/coinbase/solanapay"
)

// Event types
const (
	TypeSessionConfirmed = "session.confirmed"
	TypeTransferObserved = "transfer.observed"
)

// DefaultPublishTimeout bounds a single Publish attempt made by a Dispatcher
const DefaultPublishTimeout = 5 * time.Second

// Event is the envelope written to every backend
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Subject   string          `json:"subject"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Publisher delivers events to a backend. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// SessionConfirmedData is the payload of session.confirmed
type SessionConfirmedData struct {
	SessionID string  `json:"sessionId"`
	Reference string  `json:"reference"`
	Signature string  `json:"signature"`
	Amount    *string `json:"amount,omitempty"`
}

// TransferObservedData is the payload of transfer.observed
type TransferObservedData struct {
	Account string                   `json:"account"`
	Record  solanapay.TransferRecord `json:"record"`
}

func newEvent(eventType, subject string, at time.Time, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Subject:   subject,
		Timestamp: at.UTC(),
		Data:      raw,
	}, nil
}

// NewSessionConfirmed builds a session.confirmed event keyed by the session ID
func NewSessionConfirmed(ctx solanapay.SessionStatusContext) (Event, error) {
	data := SessionConfirmedData{
		SessionID: ctx.SessionID,
		Amount:    ctx.Amount,
	}
	if ctx.Reference != nil {
		data.Reference = ctx.Reference.String()
	}
	if ctx.Signature != nil {
		data.Signature = ctx.Signature.String()
	}
	return newEvent(TypeSessionConfirmed, ctx.SessionID, ctx.Timestamp, data)
}

// NewTransferObserved builds a transfer.observed event keyed by the signature
func NewTransferObserved(account string, record solanapay.TransferRecord, at time.Time) (Event, error) {
	return newEvent(TypeTransferObserved, record.Signature, at, TransferObservedData{
		Account: account,
		Record:  record,
	})
}

// LogPublisher writes events to a zap logger
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher that logs every event at info level
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.Info("event",
		zap.String("id", event.ID),
		zap.String("type", event.Type),
		zap.String("subject", event.Subject),
		zap.ByteString("data", event.Data),
	)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}

// NopPublisher discards events
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

var (
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = NopPublisher{}
)
