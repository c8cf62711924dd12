package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-mailstatus/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type EventStore struct {
	db   *bun.DB
	repo repository.Repository[*eventRecord]
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*eventRecord](db, eventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid event repository wiring: %w", err)
		}
	}
	return &EventStore{db: db, repo: repo}, nil
}

// Append inserts under the provider_event_id uniqueness constraint. A
// constraint violation means the event was already processed: the
// existing row is returned with created=false, never an error.
func (s *EventStore) Append(ctx context.Context, in core.AppendEventInput) (core.Event, bool, error) {
	if s == nil || s.db == nil {
		return core.Event{}, false, fmt.Errorf("sqlstore: event store is not configured")
	}
	providerEventID := strings.TrimSpace(in.ProviderEventID)
	if providerEventID == "" {
		return core.Event{}, false, core.NewBadInputError("sqlstore: provider event id is required", nil)
	}
	if !in.Kind.Valid() {
		return core.Event{}, false, core.NewBadInputError("sqlstore: invalid event kind", map[string]any{"kind": string(in.Kind)})
	}

	record := &eventRecord{
		ID:              uuid.NewString(),
		MessageID:       strings.TrimSpace(in.MessageID),
		ProviderEventID: providerEventID,
		Kind:            string(in.Kind),
		Payload:         copyAnyMap(in.Payload),
		CreatedAt:       time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existing, found, getErr := s.GetByProviderEventID(ctx, providerEventID)
			if getErr != nil {
				return core.Event{}, false, getErr
			}
			if !found {
				return core.Event{}, false, fmt.Errorf("sqlstore: event %q conflicted but cannot be read back", providerEventID)
			}
			return existing, false, nil
		}
		return core.Event{}, false, err
	}
	return eventToDomain(record), true, nil
}

func (s *EventStore) GetByProviderEventID(ctx context.Context, providerEventID string) (core.Event, bool, error) {
	if s == nil || s.db == nil {
		return core.Event{}, false, fmt.Errorf("sqlstore: event store is not configured")
	}
	record := &eventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_event_id = ?", strings.TrimSpace(providerEventID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Event{}, false, nil
		}
		return core.Event{}, false, err
	}
	return eventToDomain(record), true, nil
}

// ListByMessageID returns a message's events in arrival order.
func (s *EventStore) ListByMessageID(ctx context.Context, messageID string) ([]core.Event, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: event store is not configured")
	}
	var records []*eventRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.message_id = ?", strings.TrimSpace(messageID)).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	events := make([]core.Event, 0, len(records))
	for _, record := range records {
		events = append(events, eventToDomain(record))
	}
	return events, nil
}

var _ core.EventStore = (*EventStore)(nil)
