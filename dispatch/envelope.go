package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/goliatone/go-mailstatus/core"
)

// Envelope is the provider-specific document nested inside a verified
// notification's Message field.
type Envelope struct {
	Kind              core.EventKind
	BounceType        core.BounceType
	ProviderMessageID string
	// Detail is the kind-specific sub-object (delivery, bounce or
	// complaint), stored verbatim as the event payload.
	Detail map[string]any
}

// ParseEnvelope decodes the inner notification document. The outer
// payload is already authenticated, so failures here are format errors,
// never authentication errors.
func ParseEnvelope(message string) (Envelope, error) {
	var raw struct {
		NotificationType string `json:"notificationType"`
		Mail             struct {
			MessageID string `json:"messageId"`
		} `json:"mail"`
		Delivery  map[string]any `json:"delivery"`
		Bounce    map[string]any `json:"bounce"`
		Complaint map[string]any `json:"complaint"`
	}
	if err := json.Unmarshal([]byte(message), &raw); err != nil {
		return Envelope{}, core.WrapFormatError(err, "dispatch: inner notification document is not valid JSON", nil)
	}

	providerMessageID := strings.TrimSpace(raw.Mail.MessageID)
	if providerMessageID == "" {
		return Envelope{}, core.NewFormatError("dispatch: inner notification is missing mail.messageId", nil)
	}

	envelope := Envelope{ProviderMessageID: providerMessageID}
	switch raw.NotificationType {
	case "Delivery":
		envelope.Kind = core.EventKindDelivery
		envelope.Detail = raw.Delivery
	case "Bounce":
		envelope.Kind = core.EventKindBounce
		envelope.Detail = raw.Bounce
		if raw.Bounce != nil {
			if value, ok := raw.Bounce["bounceType"].(string); ok {
				envelope.BounceType = core.BounceType(value)
			}
		}
	case "Complaint":
		envelope.Kind = core.EventKindComplaint
		envelope.Detail = raw.Complaint
	default:
		return Envelope{}, core.NewUnknownKindError(raw.NotificationType)
	}
	if envelope.Detail == nil {
		envelope.Detail = map[string]any{}
	}
	return envelope, nil
}
