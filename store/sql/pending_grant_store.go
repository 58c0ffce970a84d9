package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-donations/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

const defaultPendingGrantTTL = time.Hour

const pgUniqueViolation = "23505"

// PendingGrantStore persists pending outgoing grants in
// pending_outgoing_grants. Consumed rows are kept as tombstones until they
// expire so replays are reported as consumed.
type PendingGrantStore struct {
	db      *bun.DB
	repo    repository.Repository[*pendingGrantRecord]
	secrets core.SecretProvider
	ttl     time.Duration

	Now func() time.Time
}

func NewPendingGrantStore(db *bun.DB, secrets core.SecretProvider, ttl time.Duration) (*PendingGrantStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*pendingGrantRecord](db, pendingGrantHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid pending grant repository wiring: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = defaultPendingGrantTTL
	}
	return &PendingGrantStore{
		db:      db,
		repo:    repo,
		secrets: secrets,
		ttl:     ttl,
	}, nil
}

func (s *PendingGrantStore) Put(ctx context.Context, in core.PendingOutgoingGrant) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: pending grant store is not configured")
	}
	now := s.now()
	in, err := core.NormalizePendingGrant(in, now, s.ttl)
	if err != nil {
		return err
	}
	sealed, err := s.seal(ctx, in.Continuation.AccessToken)
	if err != nil {
		return err
	}
	record := newPendingGrantRecord(uuid.NewString(), in, sealed)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := findPendingGrantTx(ctx, tx, in.CorrelationKey)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.live(now) {
				return fmt.Errorf("%w for %q", core.ErrPendingGrantExists, in.CorrelationKey)
			}
			if _, err := tx.NewDelete().
				Model((*pendingGrantRecord)(nil)).
				Where("id = ?", existing.ID).
				Exec(ctx); err != nil {
				return err
			}
		}
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w for %q", core.ErrPendingGrantExists, in.CorrelationKey)
			}
			return err
		}
		return nil
	})
}

func (s *PendingGrantStore) Get(ctx context.Context, correlationKey string) (core.PendingOutgoingGrant, error) {
	if s == nil || s.repo == nil {
		return core.PendingOutgoingGrant{}, fmt.Errorf("sqlstore: pending grant store is not configured")
	}
	key := strings.TrimSpace(correlationKey)
	if key == "" {
		return core.PendingOutgoingGrant{}, fmt.Errorf("sqlstore: correlation key is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("correlation_key", "=", key),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.PendingOutgoingGrant{}, err
	}
	var record *pendingGrantRecord
	if len(records) > 0 {
		record = records[0]
	}
	if err := s.missing(key, record, s.now()); err != nil {
		return core.PendingOutgoingGrant{}, err
	}
	return s.open(ctx, record)
}

// Consume claims the record with a conditional update so concurrent callers
// cannot both win, whatever the isolation level.
func (s *PendingGrantStore) Consume(ctx context.Context, correlationKey string) (core.PendingOutgoingGrant, error) {
	if s == nil || s.db == nil {
		return core.PendingOutgoingGrant{}, fmt.Errorf("sqlstore: pending grant store is not configured")
	}
	key := strings.TrimSpace(correlationKey)
	if key == "" {
		return core.PendingOutgoingGrant{}, fmt.Errorf("sqlstore: correlation key is required")
	}
	now := s.now()

	var (
		claimed *pendingGrantRecord
		outcome error
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findPendingGrantTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if outcome = s.missing(key, record, now); outcome != nil {
			if record == nil || record.ConsumedAt != nil {
				return nil
			}
			_, err := tx.NewDelete().
				Model((*pendingGrantRecord)(nil)).
				Where("id = ?", record.ID).
				Exec(ctx)
			return err
		}
		res, err := tx.NewUpdate().
			Model((*pendingGrantRecord)(nil)).
			Set("consumed_at = ?", now).
			Where("id = ?", record.ID).
			Where("consumed_at IS NULL").
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			outcome = &core.NoPendingGrantError{CorrelationKey: key, Consumed: true}
			return nil
		}
		claimed = record
		return nil
	})
	if err != nil {
		return core.PendingOutgoingGrant{}, err
	}
	if outcome != nil {
		return core.PendingOutgoingGrant{}, outcome
	}
	return s.open(ctx, claimed)
}

func (s *PendingGrantStore) Remove(ctx context.Context, correlationKey string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: pending grant store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*pendingGrantRecord)(nil)).
		Where("correlation_key = ?", strings.TrimSpace(correlationKey)).
		Where("consumed_at IS NULL").
		Exec(ctx)
	return err
}

// PurgeExpired deletes expired records and tombstones.
func (s *PendingGrantStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: pending grant store is not configured")
	}
	if now.IsZero() {
		now = s.now()
	}
	res, err := s.db.NewDelete().
		Model((*pendingGrantRecord)(nil)).
		Where("expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// List returns live pending grants ordered by expiry, soonest first.
func (s *PendingGrantStore) List(ctx context.Context, limit int) ([]core.PendingDonation, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: pending grant store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	now := s.now()
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.consumed_at IS NULL").
				Where("?TableAlias.expires_at > ?", now).
				OrderExpr("?TableAlias.expires_at ASC")
		}),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.PendingDonation, 0, len(records))
	for _, record := range records {
		if !record.live(now) {
			continue
		}
		out = append(out, core.PendingDonation{
			CorrelationKey:      record.CorrelationKey,
			SenderWalletAddress: record.SenderWalletAddress,
			RedirectURL:         record.RedirectURL,
			QuoteID:             record.QuoteID,
			DebitAmount: core.Amount{
				Value:      record.DebitValue,
				AssetCode:  record.DebitAssetCode,
				AssetScale: record.DebitAssetScale,
			},
			CreatedAt: record.CreatedAt.UTC(),
			ExpiresAt: record.ExpiresAt.UTC(),
		})
	}
	return out, nil
}

func (s *PendingGrantStore) missing(key string, record *pendingGrantRecord, now time.Time) error {
	switch {
	case record == nil:
		return &core.NoPendingGrantError{CorrelationKey: key}
	case record.ConsumedAt != nil && now.Before(record.ExpiresAt):
		return &core.NoPendingGrantError{CorrelationKey: key, Consumed: true}
	case record.ConsumedAt != nil:
		return &core.NoPendingGrantError{CorrelationKey: key}
	case !now.Before(record.ExpiresAt):
		return &core.NoPendingGrantError{CorrelationKey: key, Expired: true}
	}
	return nil
}

func (s *PendingGrantStore) seal(ctx context.Context, token string) ([]byte, error) {
	if s.secrets == nil {
		return []byte(token), nil
	}
	sealed, err := s.secrets.Encrypt(ctx, []byte(token))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: seal continuation token: %w", err)
	}
	return sealed, nil
}

func (s *PendingGrantStore) open(ctx context.Context, record *pendingGrantRecord) (core.PendingOutgoingGrant, error) {
	if s.secrets == nil {
		return record.toDomain(string(record.ContinueToken)), nil
	}
	token, err := s.secrets.Decrypt(ctx, record.ContinueToken)
	if err != nil {
		return core.PendingOutgoingGrant{}, fmt.Errorf("sqlstore: open continuation token: %w", err)
	}
	return record.toDomain(string(token)), nil
}

func (s *PendingGrantStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func findPendingGrantTx(ctx context.Context, tx bun.Tx, key string) (*pendingGrantRecord, error) {
	record := &pendingGrantRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.correlation_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
