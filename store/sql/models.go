package sqlstore

import (
	"time"

	"github.com/goliatone/go-mailstatus/core"
	"github.com/uptrace/bun"
)

type messageRecord struct {
	bun.BaseModel `bun:"table:email_messages,alias:em"`

	ID                string    `bun:"id,pk"`
	ProviderMessageID string    `bun:"provider_message_id,notnull,unique"`
	Status            string    `bun:"status,notnull"`
	FromAddress       string    `bun:"from_address,notnull"`
	ToAddress         string    `bun:"to_address,notnull"`
	Subject           string    `bun:"subject"`
	Missing           bool      `bun:"missing,notnull"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type eventRecord struct {
	bun.BaseModel `bun:"table:email_events,alias:ee"`

	ID              string         `bun:"id,pk"`
	MessageID       string         `bun:"message_id,notnull"`
	ProviderEventID string         `bun:"provider_event_id,notnull,unique"`
	Kind            string         `bun:"kind,notnull"`
	Payload         map[string]any `bun:"payload,type:jsonb,notnull"`
	CreatedAt       time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type recipientRecord struct {
	bun.BaseModel `bun:"table:email_recipients,alias:er"`

	ID               string    `bun:"id,pk"`
	Address          string    `bun:"address,notnull,unique"`
	Verified         bool      `bun:"verified,notnull"`
	UnverifyReason   string    `bun:"unverify_reason"`
	TransientBounces int       `bun:"transient_bounces,notnull"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func messageToDomain(record *messageRecord) core.Message {
	if record == nil {
		return core.Message{}
	}
	return core.Message{
		ID:                record.ID,
		ProviderMessageID: record.ProviderMessageID,
		Status:            core.DeliveryStatus(record.Status),
		From:              record.FromAddress,
		To:                record.ToAddress,
		Subject:           record.Subject,
		Missing:           record.Missing,
		CreatedAt:         record.CreatedAt,
		UpdatedAt:         record.UpdatedAt,
	}
}

func eventToDomain(record *eventRecord) core.Event {
	if record == nil {
		return core.Event{}
	}
	return core.Event{
		ID:              record.ID,
		MessageID:       record.MessageID,
		ProviderEventID: record.ProviderEventID,
		Kind:            core.EventKind(record.Kind),
		Payload:         copyAnyMap(record.Payload),
		CreatedAt:       record.CreatedAt,
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
