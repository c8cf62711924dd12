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

// RecipientStore is the SQL-backed recipient-verification directory.
// Only delivery state machine effects call the mutation methods.
type RecipientStore struct {
	db   *bun.DB
	repo repository.Repository[*recipientRecord]
}

func NewRecipientStore(db *bun.DB) (*RecipientStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*recipientRecord](db, recipientHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid recipient repository wiring: %w", err)
		}
	}
	return &RecipientStore{db: db, repo: repo}, nil
}

// Register creates or refreshes a recipient row. It exists for
// provisioning and tests; webhook traffic never calls it.
func (s *RecipientStore) Register(ctx context.Context, address string, verified bool) (core.RecipientHandle, error) {
	if s == nil || s.db == nil {
		return core.RecipientHandle{}, fmt.Errorf("sqlstore: recipient store is not configured")
	}
	address = normalizeAddress(address)
	if address == "" {
		return core.RecipientHandle{}, core.NewBadInputError("sqlstore: recipient address is required", nil)
	}
	now := time.Now().UTC()
	record := &recipientRecord{
		ID:        uuid.NewString(),
		Address:   address,
		Verified:  verified,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (address) DO UPDATE").
		Set("verified = EXCLUDED.verified").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.RecipientHandle{}, err
	}
	handle, found, err := s.Find(ctx, address)
	if err != nil {
		return core.RecipientHandle{}, err
	}
	if !found {
		return core.RecipientHandle{}, fmt.Errorf("sqlstore: recipient %q missing after upsert", address)
	}
	return handle, nil
}

func (s *RecipientStore) Find(ctx context.Context, address string) (core.RecipientHandle, bool, error) {
	if s == nil || s.db == nil {
		return core.RecipientHandle{}, false, fmt.Errorf("sqlstore: recipient store is not configured")
	}
	record := &recipientRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.address = ?", normalizeAddress(address)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.RecipientHandle{}, false, nil
		}
		return core.RecipientHandle{}, false, err
	}
	return core.RecipientHandle{ID: record.ID, Address: record.Address}, true, nil
}

func (s *RecipientStore) MarkUnverified(ctx context.Context, handle core.RecipientHandle, reason core.UnverifyReason) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: recipient store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*recipientRecord)(nil)).
		Set("verified = ?", false).
		Set("unverify_reason = ?", string(reason)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(handle.ID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result, handle)
}

func (s *RecipientStore) ResetBounceCounter(ctx context.Context, handle core.RecipientHandle) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: recipient store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*recipientRecord)(nil)).
		Set("transient_bounces = 0").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(handle.ID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result, handle)
}

// IncrementBounceCounter bumps the counter atomically and reads back the
// new value so callers can apply the threshold without a race.
func (s *RecipientStore) IncrementBounceCounter(ctx context.Context, handle core.RecipientHandle) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: recipient store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*recipientRecord)(nil)).
		Set("transient_bounces = transient_bounces + 1").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(handle.ID)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	if err := requireAffected(result, handle); err != nil {
		return 0, err
	}

	record := &recipientRecord{}
	err = s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(handle.ID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return 0, err
	}
	return record.TransientBounces, nil
}

// Get returns the full recipient row for assertions and operator tools.
func (s *RecipientStore) Get(ctx context.Context, address string) (core.Recipient, bool, error) {
	if s == nil || s.db == nil {
		return core.Recipient{}, false, fmt.Errorf("sqlstore: recipient store is not configured")
	}
	record := &recipientRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.address = ?", normalizeAddress(address)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Recipient{}, false, nil
		}
		return core.Recipient{}, false, err
	}
	return core.Recipient{
		ID:               record.ID,
		Address:          record.Address,
		Verified:         record.Verified,
		UnverifyReason:   core.UnverifyReason(record.UnverifyReason),
		TransientBounces: record.TransientBounces,
	}, true, nil
}

func requireAffected(result sql.Result, handle core.RecipientHandle) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.NewBadInputError("sqlstore: recipient not found", map[string]any{
			"recipient_id": handle.ID,
			"address":      handle.Address,
		})
	}
	return nil
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

var _ core.RecipientDirectory = (*RecipientStore)(nil)
