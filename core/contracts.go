package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// MessageStore persists Message rows. GetByProviderMessageID reports
// found=false when no row matches.
type MessageStore interface {
	Create(ctx context.Context, in CreateMessageInput) (Message, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (Message, bool, error)
	UpdateStatus(ctx context.Context, id string, status DeliveryStatus, missing bool) error
	DeleteExpiredActive(ctx context.Context, statuses []DeliveryStatus, before time.Time) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// EventStore persists Event rows under a uniqueness guarantee on
// ProviderEventID. Append reports created=false when the id was already
// recorded; a unique-constraint violation on insert is "already
// processed", never an error.
type EventStore interface {
	Append(ctx context.Context, in AppendEventInput) (event Event, created bool, err error)
	GetByProviderEventID(ctx context.Context, providerEventID string) (Event, bool, error)
}

// RecipientDirectory is the capability interface over the external
// recipient-verification records. Only delivery state machine effects
// mutate the transient-bounce counter.
type RecipientDirectory interface {
	Find(ctx context.Context, address string) (RecipientHandle, bool, error)
	MarkUnverified(ctx context.Context, handle RecipientHandle, reason UnverifyReason) error
	ResetBounceCounter(ctx context.Context, handle RecipientHandle) error
	// IncrementBounceCounter returns the counter value after the increment.
	IncrementBounceCounter(ctx context.Context, handle RecipientHandle) (int, error)
}

// SubscriptionConfirmer completes a topic subscription handshake with the
// provider using the topic ARN and the one-time token from the payload.
type SubscriptionConfirmer interface {
	ConfirmSubscription(ctx context.Context, topicARN string, token string) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}
