package core

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus is the per-message delivery state. It always equals the
// state reached by replaying the message's events, in arrival order,
// through the delivery state machine starting from StatusAccepted.
type DeliveryStatus string

const (
	StatusAccepted    DeliveryStatus = "accepted"
	StatusDelivered   DeliveryStatus = "delivered"
	StatusBounced     DeliveryStatus = "bounced"
	StatusSoftBounced DeliveryStatus = "soft_bounced"
	StatusComplained  DeliveryStatus = "complained"
)

func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusAccepted, StatusDelivered, StatusBounced, StatusSoftBounced, StatusComplained:
		return true
	default:
		return false
	}
}

func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	status := DeliveryStatus(strings.TrimSpace(strings.ToLower(value)))
	if !status.Valid() {
		return "", fmt.Errorf("core: unknown delivery status %q", value)
	}
	return status, nil
}

// EventKind is the notification kind reported by the provider.
type EventKind string

const (
	EventKindDelivery  EventKind = "delivery"
	EventKindBounce    EventKind = "bounce"
	EventKindComplaint EventKind = "complaint"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventKindDelivery, EventKindBounce, EventKindComplaint:
		return true
	default:
		return false
	}
}

// BounceType is the provider's bounce sub-classification. Only
// BounceTypePermanent maps to a hard bounce; every other value is treated
// as transient.
type BounceType string

const (
	BounceTypePermanent    BounceType = "Permanent"
	BounceTypeTransient    BounceType = "Transient"
	BounceTypeUndetermined BounceType = "Undetermined"
)

// UnverifyReason records why a recipient lost its verified flag.
type UnverifyReason string

const (
	UnverifyReasonHardBounce    UnverifyReason = "hard_bounce"
	UnverifyReasonSoftBounce    UnverifyReason = "soft_bounce"
	UnverifyReasonSpamComplaint UnverifyReason = "spam_complaint"
)

// Message is a previously sent email tracked for delivery outcomes. It is
// created when the message is sent and mutated only by verified inbound
// events; the retention sweeper eventually deletes it.
type Message struct {
	ID                string
	ProviderMessageID string
	Status            DeliveryStatus
	From              string
	To                string
	Subject           string
	// Missing is set once a recipient-verification lookup for To failed,
	// so later transitions skip the lookup's side effects.
	Missing   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Event is a single verified provider notification applied to a Message.
// ProviderEventID is the idempotency key: at most one Event exists per id.
type Event struct {
	ID              string
	MessageID       string
	ProviderEventID string
	Kind            EventKind
	Payload         map[string]any
	CreatedAt       time.Time
}

type CreateMessageInput struct {
	ProviderMessageID string
	From              string
	To                string
	Subject           string
}

type AppendEventInput struct {
	MessageID       string
	ProviderEventID string
	Kind            EventKind
	Payload         map[string]any
}

// RecipientHandle is an opaque reference to a recipient-verification
// record, resolved by address and passed back into directory mutations.
type RecipientHandle struct {
	ID      string
	Address string
}
