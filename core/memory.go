package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryMessageStore is a mutex-guarded MessageStore for tests and
// light deployments.
type InMemoryMessageStore struct {
	mu       sync.Mutex
	messages map[string]Message
	Now      func() time.Time
}

func NewInMemoryMessageStore() *InMemoryMessageStore {
	return &InMemoryMessageStore{
		messages: map[string]Message{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *InMemoryMessageStore) Create(_ context.Context, in CreateMessageInput) (Message, error) {
	providerMessageID := strings.TrimSpace(in.ProviderMessageID)
	if providerMessageID == "" {
		return Message{}, NewBadInputError("core: provider message id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.messages {
		if existing.ProviderMessageID == providerMessageID {
			return Message{}, NewBadInputError("core: provider message id already exists", map[string]any{
				"provider_message_id": providerMessageID,
			})
		}
	}
	now := s.now()
	message := Message{
		ID:                uuid.NewString(),
		ProviderMessageID: providerMessageID,
		Status:            StatusAccepted,
		From:              strings.TrimSpace(in.From),
		To:                strings.TrimSpace(in.To),
		Subject:           in.Subject,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.messages[message.ID] = message
	return message, nil
}

func (s *InMemoryMessageStore) GetByProviderMessageID(_ context.Context, providerMessageID string) (Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, message := range s.messages {
		if message.ProviderMessageID == strings.TrimSpace(providerMessageID) {
			return message, true, nil
		}
	}
	return Message{}, false, nil
}

func (s *InMemoryMessageStore) UpdateStatus(_ context.Context, id string, status DeliveryStatus, missing bool) error {
	if !status.Valid() {
		return NewBadInputError("core: invalid delivery status", map[string]any{"status": string(status)})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	message, ok := s.messages[id]
	if !ok {
		return NewBadInputError("core: message not found", map[string]any{"message_id": id})
	}
	message.Status = status
	message.Missing = missing
	message.UpdatedAt = s.now()
	s.messages[id] = message
	return nil
}

func (s *InMemoryMessageStore) DeleteExpiredActive(_ context.Context, statuses []DeliveryStatus, before time.Time) (int, error) {
	allowed := make(map[DeliveryStatus]struct{}, len(statuses))
	for _, status := range statuses {
		allowed[status] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, message := range s.messages {
		if _, ok := allowed[message.Status]; !ok {
			continue
		}
		if message.CreatedAt.Before(before) {
			delete(s.messages, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *InMemoryMessageStore) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, message := range s.messages {
		if message.CreatedAt.Before(before) {
			delete(s.messages, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports how many messages the store currently holds.
func (s *InMemoryMessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *InMemoryMessageStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// InMemoryEventStore enforces provider-event-id uniqueness the way a SQL
// unique constraint would: a duplicate Append reports created=false.
type InMemoryEventStore struct {
	mu     sync.Mutex
	events map[string]Event
	order  []string
	Now    func() time.Time
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		events: map[string]Event{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *InMemoryEventStore) Append(_ context.Context, in AppendEventInput) (Event, bool, error) {
	providerEventID := strings.TrimSpace(in.ProviderEventID)
	if providerEventID == "" {
		return Event{}, false, NewBadInputError("core: provider event id is required", nil)
	}
	if !in.Kind.Valid() {
		return Event{}, false, NewBadInputError("core: invalid event kind", map[string]any{"kind": string(in.Kind)})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.events[providerEventID]; ok {
		return existing, false, nil
	}
	event := Event{
		ID:              uuid.NewString(),
		MessageID:       strings.TrimSpace(in.MessageID),
		ProviderEventID: providerEventID,
		Kind:            in.Kind,
		Payload:         cloneAnyMap(in.Payload),
		CreatedAt:       s.now(),
	}
	s.events[providerEventID] = event
	s.order = append(s.order, providerEventID)
	return event, true, nil
}

func (s *InMemoryEventStore) GetByProviderEventID(_ context.Context, providerEventID string) (Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[strings.TrimSpace(providerEventID)]
	return event, ok, nil
}

// ListByMessageID returns the message's events in arrival order.
func (s *InMemoryEventStore) ListByMessageID(_ context.Context, messageID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.order))
	for _, id := range s.order {
		event := s.events[id]
		if event.MessageID == messageID {
			out = append(out, event)
		}
	}
	return out, nil
}

// Len reports how many events the store currently holds.
func (s *InMemoryEventStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *InMemoryEventStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Recipient is the external recipient-verification record as held by the
// in-memory directory.
type Recipient struct {
	ID               string
	Address          string
	Verified         bool
	UnverifyReason   UnverifyReason
	TransientBounces int
}

// InMemoryRecipientDirectory is a RecipientDirectory over a map keyed by
// address.
type InMemoryRecipientDirectory struct {
	mu         sync.Mutex
	recipients map[string]Recipient
}

func NewInMemoryRecipientDirectory() *InMemoryRecipientDirectory {
	return &InMemoryRecipientDirectory{recipients: map[string]Recipient{}}
}

// Put registers or replaces a recipient record.
func (d *InMemoryRecipientDirectory) Put(recipient Recipient) {
	address := strings.TrimSpace(strings.ToLower(recipient.Address))
	if address == "" {
		return
	}
	if strings.TrimSpace(recipient.ID) == "" {
		recipient.ID = uuid.NewString()
	}
	recipient.Address = address

	d.mu.Lock()
	defer d.mu.Unlock()
	d.recipients[address] = recipient
}

// Get returns the stored record for inspection in tests.
func (d *InMemoryRecipientDirectory) Get(address string) (Recipient, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	recipient, ok := d.recipients[strings.TrimSpace(strings.ToLower(address))]
	return recipient, ok
}

func (d *InMemoryRecipientDirectory) Find(_ context.Context, address string) (RecipientHandle, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	recipient, ok := d.recipients[strings.TrimSpace(strings.ToLower(address))]
	if !ok {
		return RecipientHandle{}, false, nil
	}
	return RecipientHandle{ID: recipient.ID, Address: recipient.Address}, true, nil
}

func (d *InMemoryRecipientDirectory) MarkUnverified(_ context.Context, handle RecipientHandle, reason UnverifyReason) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	recipient, ok := d.recipients[handle.Address]
	if !ok {
		return NewBadInputError("core: recipient not found", map[string]any{"address": handle.Address})
	}
	recipient.Verified = false
	recipient.UnverifyReason = reason
	d.recipients[handle.Address] = recipient
	return nil
}

func (d *InMemoryRecipientDirectory) ResetBounceCounter(_ context.Context, handle RecipientHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	recipient, ok := d.recipients[handle.Address]
	if !ok {
		return NewBadInputError("core: recipient not found", map[string]any{"address": handle.Address})
	}
	recipient.TransientBounces = 0
	d.recipients[handle.Address] = recipient
	return nil
}

func (d *InMemoryRecipientDirectory) IncrementBounceCounter(_ context.Context, handle RecipientHandle) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	recipient, ok := d.recipients[handle.Address]
	if !ok {
		return 0, NewBadInputError("core: recipient not found", map[string]any{"address": handle.Address})
	}
	recipient.TransientBounces++
	d.recipients[handle.Address] = recipient
	return recipient.TransientBounces, nil
}

func cloneAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ MessageStore       = (*InMemoryMessageStore)(nil)
	_ EventStore         = (*InMemoryEventStore)(nil)
	_ RecipientDirectory = (*InMemoryRecipientDirectory)(nil)
)
