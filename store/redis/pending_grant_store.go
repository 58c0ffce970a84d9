package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-donations/core"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix        = "donations"
	defaultPendingGrantTTL  = time.Hour
	recordKeySegment        = "pending"
	tombstoneKeySegment     = "consumed"
	tombstoneValue          = "1"
	minimumRecordExpiration = time.Millisecond
)

type Option func(*PendingGrantStore)

func WithKeyPrefix(prefix string) Option {
	return func(s *PendingGrantStore) {
		if trimmed := strings.Trim(strings.TrimSpace(prefix), ":"); trimmed != "" {
			s.prefix = trimmed
		}
	}
}

// WithSecretProvider seals continuation tokens before they are written.
func WithSecretProvider(secrets core.SecretProvider) Option {
	return func(s *PendingGrantStore) {
		s.secrets = secrets
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *PendingGrantStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// PendingGrantStore keeps pending grants in Redis. Records carry a PX expiry
// matching ExpiresAt so Redis drops them on its own; PurgeExpired has nothing
// left to do.
type PendingGrantStore struct {
	client  redis.Cmdable
	prefix  string
	secrets core.SecretProvider
	ttl     time.Duration

	Now func() time.Time
}

type storedGrant struct {
	CorrelationKey        string      `json:"correlation_key"`
	SenderWalletAddress   string      `json:"sender_wallet_address"`
	ReceiverWalletAddress string      `json:"receiver_wallet_address,omitempty"`
	QuoteID               string      `json:"quote_id"`
	DebitAmount           core.Amount `json:"debit_amount"`
	ContinueURI           string      `json:"continue_uri"`
	ContinueToken         []byte      `json:"continue_token"`
	ContinueWaitSeconds   int64       `json:"continue_wait_seconds,omitempty"`
	RedirectURL           string      `json:"redirect_url,omitempty"`
	FinishClientNonce     string      `json:"finish_client_nonce,omitempty"`
	FinishServerNonce     string      `json:"finish_server_nonce,omitempty"`
	GrantEndpoint         string      `json:"grant_endpoint,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	ExpiresAt             time.Time   `json:"expires_at"`
}

func NewPendingGrantStore(client redis.Cmdable, opts ...Option) (*PendingGrantStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	store := &PendingGrantStore{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    defaultPendingGrantTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Put fences with SET NX: an unexpired record under the same key wins.
func (s *PendingGrantStore) Put(ctx context.Context, in core.PendingOutgoingGrant) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redisstore: pending grant store is not configured")
	}
	now := s.now()
	in, err := core.NormalizePendingGrant(in, now, s.ttl)
	if err != nil {
		return err
	}
	ttl := in.ExpiresAt.Sub(now)
	if ttl < minimumRecordExpiration {
		return fmt.Errorf("redisstore: pending grant for %q is already expired", in.CorrelationKey)
	}
	payload, err := s.encode(ctx, in)
	if err != nil {
		return err
	}
	stored, err := s.client.SetNX(ctx, s.recordKey(in.CorrelationKey), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("redisstore: put pending grant: %w", err)
	}
	if !stored {
		return fmt.Errorf("%w for %q", core.ErrPendingGrantExists, in.CorrelationKey)
	}
	if err := s.client.Del(ctx, s.tombstoneKey(in.CorrelationKey)).Err(); err != nil {
		return fmt.Errorf("redisstore: clear tombstone: %w", err)
	}
	return nil
}

func (s *PendingGrantStore) Get(ctx context.Context, correlationKey string) (core.PendingOutgoingGrant, error) {
	if s == nil || s.client == nil {
		return core.PendingOutgoingGrant{}, fmt.Errorf("redisstore: pending grant store is not configured")
	}
	key := strings.TrimSpace(correlationKey)
	if key == "" {
		return core.PendingOutgoingGrant{}, fmt.Errorf("redisstore: correlation key is required")
	}
	payload, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.PendingOutgoingGrant{}, s.missing(ctx, key)
		}
		return core.PendingOutgoingGrant{}, fmt.Errorf("redisstore: get pending grant: %w", err)
	}
	record, err := s.decode(ctx, payload)
	if err != nil {
		return core.PendingOutgoingGrant{}, err
	}
	if record.Expired(s.now()) {
		return core.PendingOutgoingGrant{}, &core.NoPendingGrantError{CorrelationKey: key, Expired: true}
	}
	return record, nil
}

// Consume relies on GETDEL so exactly one caller receives the payload.
func (s *PendingGrantStore) Consume(ctx context.Context, correlationKey string) (core.PendingOutgoingGrant, error) {
	if s == nil || s.client == nil {
		return core.PendingOutgoingGrant{}, fmt.Errorf("redisstore: pending grant store is not configured")
	}
	key := strings.TrimSpace(correlationKey)
	if key == "" {
		return core.PendingOutgoingGrant{}, fmt.Errorf("redisstore: correlation key is required")
	}
	payload, err := s.client.GetDel(ctx, s.recordKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.PendingOutgoingGrant{}, s.missing(ctx, key)
		}
		return core.PendingOutgoingGrant{}, fmt.Errorf("redisstore: consume pending grant: %w", err)
	}
	record, err := s.decode(ctx, payload)
	if err != nil {
		return core.PendingOutgoingGrant{}, err
	}
	now := s.now()
	if record.Expired(now) {
		return core.PendingOutgoingGrant{}, &core.NoPendingGrantError{CorrelationKey: key, Expired: true}
	}
	if err := s.client.Set(ctx, s.tombstoneKey(key), tombstoneValue, record.ExpiresAt.Sub(now)).Err(); err != nil {
		return core.PendingOutgoingGrant{}, fmt.Errorf("redisstore: write tombstone: %w", err)
	}
	return record, nil
}

func (s *PendingGrantStore) Remove(ctx context.Context, correlationKey string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redisstore: pending grant store is not configured")
	}
	return s.client.Del(ctx, s.recordKey(strings.TrimSpace(correlationKey))).Err()
}

func (s *PendingGrantStore) PurgeExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *PendingGrantStore) missing(ctx context.Context, key string) error {
	count, err := s.client.Exists(ctx, s.tombstoneKey(key)).Result()
	if err != nil {
		return fmt.Errorf("redisstore: check tombstone: %w", err)
	}
	if count > 0 {
		return &core.NoPendingGrantError{CorrelationKey: key, Consumed: true}
	}
	return &core.NoPendingGrantError{CorrelationKey: key}
}

func (s *PendingGrantStore) encode(ctx context.Context, in core.PendingOutgoingGrant) ([]byte, error) {
	token := []byte(in.Continuation.AccessToken)
	if s.secrets != nil {
		sealed, err := s.secrets.Encrypt(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("redisstore: seal continuation token: %w", err)
		}
		token = sealed
	}
	payload, err := json.Marshal(storedGrant{
		CorrelationKey:        in.CorrelationKey,
		SenderWalletAddress:   in.SenderWalletAddress,
		ReceiverWalletAddress: in.ReceiverWalletAddress,
		QuoteID:               in.QuoteID,
		DebitAmount:           in.DebitAmount,
		ContinueURI:           in.Continuation.URI,
		ContinueToken:         token,
		ContinueWaitSeconds:   int64(in.Continuation.Wait / time.Second),
		RedirectURL:           in.RedirectURL,
		FinishClientNonce:     in.Finish.ClientNonce,
		FinishServerNonce:     in.Finish.ServerNonce,
		GrantEndpoint:         in.Finish.GrantEndpoint,
		CreatedAt:             in.CreatedAt,
		ExpiresAt:             in.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("redisstore: encode pending grant: %w", err)
	}
	return payload, nil
}

func (s *PendingGrantStore) decode(ctx context.Context, payload []byte) (core.PendingOutgoingGrant, error) {
	var stored storedGrant
	if err := json.Unmarshal(payload, &stored); err != nil {
		return core.PendingOutgoingGrant{}, fmt.Errorf("redisstore: decode pending grant: %w", err)
	}
	token := stored.ContinueToken
	if s.secrets != nil {
		opened, err := s.secrets.Decrypt(ctx, token)
		if err != nil {
			return core.PendingOutgoingGrant{}, fmt.Errorf("redisstore: open continuation token: %w", err)
		}
		token = opened
	}
	return core.PendingOutgoingGrant{
		CorrelationKey:        stored.CorrelationKey,
		SenderWalletAddress:   stored.SenderWalletAddress,
		ReceiverWalletAddress: stored.ReceiverWalletAddress,
		QuoteID:               stored.QuoteID,
		DebitAmount:           stored.DebitAmount,
		Continuation: core.Continuation{
			URI:         stored.ContinueURI,
			AccessToken: string(token),
			Wait:        time.Duration(stored.ContinueWaitSeconds) * time.Second,
		},
		RedirectURL: stored.RedirectURL,
		Finish: core.FinishProof{
			ClientNonce:   stored.FinishClientNonce,
			ServerNonce:   stored.FinishServerNonce,
			GrantEndpoint: stored.GrantEndpoint,
		},
		CreatedAt: stored.CreatedAt.UTC(),
		ExpiresAt: stored.ExpiresAt.UTC(),
	}, nil
}

func (s *PendingGrantStore) recordKey(key string) string {
	return s.prefix + ":" + recordKeySegment + ":" + key
}

func (s *PendingGrantStore) tombstoneKey(key string) string {
	return s.prefix + ":" + tombstoneKeySegment + ":" + key
}

func (s *PendingGrantStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.PendingGrantStore = (*PendingGrantStore)(nil)
