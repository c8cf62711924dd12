package sns

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Payload message types.
const (
	TypeNotification             = "Notification"
	TypeSubscriptionConfirmation = "SubscriptionConfirmation"
	TypeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// Payload is the outer signed document posted to the webhook. Subject is
// a pointer because canonicalization depends on whether the field was
// present, not on whether it was empty.
type Payload struct {
	Type             string  `json:"Type"`
	MessageID        string  `json:"MessageId"`
	Token            string  `json:"Token,omitempty"`
	TopicARN         string  `json:"TopicArn"`
	Subject          *string `json:"Subject,omitempty"`
	Message          string  `json:"Message"`
	Timestamp        string  `json:"Timestamp"`
	SignatureVersion string  `json:"SignatureVersion"`
	Signature        string  `json:"Signature"`
	SigningCertURL   string  `json:"SigningCertURL"`
	SubscribeURL     string  `json:"SubscribeURL,omitempty"`
	UnsubscribeURL   string  `json:"UnsubscribeURL,omitempty"`
}

// ParsePayload decodes the raw webhook body. Unknown fields are ignored;
// the signature covers only the canonical fields.
func ParsePayload(body []byte) (Payload, error) {
	var payload Payload
	decoder := json.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(&payload); err != nil {
		return Payload{}, err
	}
	return payload, nil
}

// CanonicalBytes builds the exact byte string the provider signed:
// key\nvalue\n pairs in a fixed per-type order.
func (p Payload) CanonicalBytes() ([]byte, error) {
	var pairs [][2]string
	switch p.Type {
	case TypeNotification:
		pairs = [][2]string{
			{"Message", p.Message},
			{"MessageId", p.MessageID},
		}
		if p.Subject != nil {
			pairs = append(pairs, [2]string{"Subject", *p.Subject})
		}
		pairs = append(pairs,
			[2]string{"Timestamp", p.Timestamp},
			[2]string{"TopicArn", p.TopicARN},
			[2]string{"Type", p.Type},
		)
	case TypeSubscriptionConfirmation, TypeUnsubscribeConfirmation:
		pairs = [][2]string{
			{"Message", p.Message},
			{"MessageId", p.MessageID},
			{"SubscribeURL", p.SubscribeURL},
			{"Timestamp", p.Timestamp},
			{"Token", p.Token},
			{"TopicArn", p.TopicARN},
			{"Type", p.Type},
		}
	default:
		return nil, newVerificationError(
			"sns: unsupported payload type",
			ErrorCodeInvalidType,
			map[string]any{"type": p.Type},
		)
	}

	var buf strings.Builder
	for _, pair := range pairs {
		buf.WriteString(pair[0])
		buf.WriteByte('\n')
		buf.WriteString(pair[1])
		buf.WriteByte('\n')
	}
	return []byte(buf.String()), nil
}
