package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation adds a correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher publishes events to a message broker
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Common event types
const (
	EventWalletCredited       = "wallet.credited"
	EventWalletDebited        = "wallet.debited"
	EventDepositInitialized   = "deposit.initialized"
	EventPurchaseCompleted    = "purchase.completed"
	EventPurchasePending      = "purchase.pending"
	EventRegistrationComplete = "registration.completed"
)

// WalletCreditedData is the data for wallet.credited events
type WalletCreditedData struct {
	WalletKey     string `json:"wallet_key"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Reference     string `json:"reference,omitempty"`
	NewBalance    int64  `json:"new_balance"`
}

// DepositInitializedData is the data for deposit.initialized events
type DepositInitializedData struct {
	WalletKey string `json:"wallet_key"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

// WalletDebitedData is the data for wallet.debited events
type WalletDebitedData struct {
	WalletKey     string `json:"wallet_key"`
	TransactionID string `json:"transaction_id"`
	Kind          string `json:"kind"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	NewBalance    int64  `json:"new_balance"`
}

// PurchaseCompletedData is the data for purchase.completed events
type PurchaseCompletedData struct {
	PurchaseID    string `json:"purchase_id"`
	WalletKey     string `json:"wallet_key"`
	Network       string `json:"network"`
	Bundle        string `json:"bundle"`
	Recipient     string `json:"recipient"`
	Price         int64  `json:"price"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// RegistrationCompletedData is the data for registration.completed events
type RegistrationCompletedData struct {
	RegistrationID string `json:"registration_id"`
	WalletKey      string `json:"wallet_key"`
	FullName       string `json:"full_name"`
	Phone          string `json:"phone"`
	TransactionID  string `json:"transaction_id,omitempty"`
}

// NoopPublisher discards events. Used when NATS is not configured.
type NoopPublisher struct{}

// Publish implements Publisher
func (NoopPublisher) Publish(context.Context, *Event) error { return nil }
