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

type MessageStore struct {
	db   *bun.DB
	repo repository.Repository[*messageRecord]
}

func NewMessageStore(db *bun.DB) (*MessageStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*messageRecord](db, messageHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid message repository wiring: %w", err)
		}
	}
	return &MessageStore{db: db, repo: repo}, nil
}

func (s *MessageStore) Create(ctx context.Context, in core.CreateMessageInput) (core.Message, error) {
	if s == nil || s.db == nil {
		return core.Message{}, fmt.Errorf("sqlstore: message store is not configured")
	}
	providerMessageID := strings.TrimSpace(in.ProviderMessageID)
	if providerMessageID == "" {
		return core.Message{}, core.NewBadInputError("sqlstore: provider message id is required", nil)
	}
	now := time.Now().UTC()
	record := &messageRecord{
		ID:                uuid.NewString(),
		ProviderMessageID: providerMessageID,
		Status:            string(core.StatusAccepted),
		FromAddress:       strings.TrimSpace(in.From),
		ToAddress:         strings.TrimSpace(in.To),
		Subject:           in.Subject,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.Message{}, core.NewBadInputError("sqlstore: provider message id already exists", map[string]any{
				"provider_message_id": providerMessageID,
			})
		}
		return core.Message{}, err
	}
	return messageToDomain(record), nil
}

func (s *MessageStore) GetByProviderMessageID(ctx context.Context, providerMessageID string) (core.Message, bool, error) {
	if s == nil || s.db == nil {
		return core.Message{}, false, fmt.Errorf("sqlstore: message store is not configured")
	}
	record := &messageRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_message_id = ?", strings.TrimSpace(providerMessageID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Message{}, false, nil
		}
		return core.Message{}, false, err
	}
	return messageToDomain(record), true, nil
}

func (s *MessageStore) UpdateStatus(ctx context.Context, id string, status core.DeliveryStatus, missing bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: message store is not configured")
	}
	if !status.Valid() {
		return core.NewBadInputError("sqlstore: invalid delivery status", map[string]any{"status": string(status)})
	}
	result, err := s.db.NewUpdate().
		Model((*messageRecord)(nil)).
		Set("status = ?", string(status)).
		Set("missing = ?", missing).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.NewBadInputError("sqlstore: message not found", map[string]any{"message_id": id})
	}
	return nil
}

func (s *MessageStore) DeleteExpiredActive(ctx context.Context, statuses []core.DeliveryStatus, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: message store is not configured")
	}
	if len(statuses) == 0 {
		return 0, nil
	}
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	result, err := s.db.NewDelete().
		Model((*messageRecord)(nil)).
		Where("status IN (?)", bun.In(values)).
		Where("created_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *MessageStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: message store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*messageRecord)(nil)).
		Where("created_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ core.MessageStore = (*MessageStore)(nil)
