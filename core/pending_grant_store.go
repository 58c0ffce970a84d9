package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultPendingGrantMaxEntries = 10000

// MemoryPendingGrantStore keeps pending grants for the process lifetime.
// Consumed keys leave a tombstone until the record would have expired so a
// replay is reported as consumed rather than unknown.
type MemoryPendingGrantStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]PendingOutgoingGrant
	tombstones map[string]time.Time

	Now func() time.Time
}

func NewMemoryPendingGrantStore(ttl time.Duration) *MemoryPendingGrantStore {
	return NewMemoryPendingGrantStoreWithLimits(ttl, defaultPendingGrantMaxEntries)
}

func NewMemoryPendingGrantStoreWithLimits(ttl time.Duration, maxEntries int) *MemoryPendingGrantStore {
	if ttl <= 0 {
		ttl = defaultPendingGrantTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultPendingGrantMaxEntries
	}
	return &MemoryPendingGrantStore{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    map[string]PendingOutgoingGrant{},
		tombstones: map[string]time.Time{},
	}
}

func (s *MemoryPendingGrantStore) Put(_ context.Context, record PendingOutgoingGrant) error {
	if s == nil {
		return fmt.Errorf("core: pending grant store is not configured")
	}
	record, err := NormalizePendingGrant(record, s.now(), s.ttl)
	if err != nil {
		return err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[record.CorrelationKey]; ok && !existing.Expired(now) {
		return fmt.Errorf("%w for %q", ErrPendingGrantExists, record.CorrelationKey)
	}
	if len(s.entries) >= s.maxEntries {
		s.pruneLocked(now)
		if len(s.entries) >= s.maxEntries {
			return fmt.Errorf("core: pending grant store is full (%d entries)", s.maxEntries)
		}
	}
	s.entries[record.CorrelationKey] = record
	delete(s.tombstones, record.CorrelationKey)
	return nil
}

func (s *MemoryPendingGrantStore) Get(_ context.Context, correlationKey string) (PendingOutgoingGrant, error) {
	if s == nil {
		return PendingOutgoingGrant{}, fmt.Errorf("core: pending grant store is not configured")
	}
	key := strings.TrimSpace(correlationKey)
	if key == "" {
		return PendingOutgoingGrant{}, fmt.Errorf("core: correlation key is required")
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.entries[key]
	if !ok {
		return PendingOutgoingGrant{}, s.missingLocked(key, now)
	}
	if record.Expired(now) {
		return PendingOutgoingGrant{}, &NoPendingGrantError{CorrelationKey: key, Expired: true}
	}
	return record, nil
}

func (s *MemoryPendingGrantStore) Consume(_ context.Context, correlationKey string) (PendingOutgoingGrant, error) {
	if s == nil {
		return PendingOutgoingGrant{}, fmt.Errorf("core: pending grant store is not configured")
	}
	key := strings.TrimSpace(correlationKey)
	if key == "" {
		return PendingOutgoingGrant{}, fmt.Errorf("core: correlation key is required")
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.entries[key]
	if !ok {
		return PendingOutgoingGrant{}, s.missingLocked(key, now)
	}
	delete(s.entries, key)
	if record.Expired(now) {
		return PendingOutgoingGrant{}, &NoPendingGrantError{CorrelationKey: key, Expired: true}
	}
	s.tombstones[key] = record.ExpiresAt
	return record, nil
}

func (s *MemoryPendingGrantStore) Remove(_ context.Context, correlationKey string) error {
	if s == nil {
		return fmt.Errorf("core: pending grant store is not configured")
	}
	key := strings.TrimSpace(correlationKey)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryPendingGrantStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("core: pending grant store is not configured")
	}
	if now.IsZero() {
		now = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(now), nil
}

// Len reports the number of stored records, expired ones included.
func (s *MemoryPendingGrantStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryPendingGrantStore) missingLocked(key string, now time.Time) error {
	if until, ok := s.tombstones[key]; ok && (until.IsZero() || now.Before(until)) {
		return &NoPendingGrantError{CorrelationKey: key, Consumed: true}
	}
	return noPendingGrant(key)
}

func (s *MemoryPendingGrantStore) pruneLocked(now time.Time) int {
	purged := 0
	for key, record := range s.entries {
		if record.Expired(now) {
			delete(s.entries, key)
			purged++
		}
	}
	for key, until := range s.tombstones {
		if !until.IsZero() && !now.Before(until) {
			delete(s.tombstones, key)
		}
	}
	return purged
}

func (s *MemoryPendingGrantStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// NormalizePendingGrant validates a record and fills CreatedAt and ExpiresAt.
func NormalizePendingGrant(record PendingOutgoingGrant, now time.Time, ttl time.Duration) (PendingOutgoingGrant, error) {
	record.CorrelationKey = strings.TrimSpace(record.CorrelationKey)
	record.QuoteID = strings.TrimSpace(record.QuoteID)
	record.SenderWalletAddress = strings.TrimSpace(record.SenderWalletAddress)
	record.Continuation.URI = strings.TrimSpace(record.Continuation.URI)
	record.Continuation.AccessToken = strings.TrimSpace(record.Continuation.AccessToken)
	record.Finish = record.Finish.normalized()
	switch {
	case record.CorrelationKey == "":
		return PendingOutgoingGrant{}, fmt.Errorf("core: correlation key is required")
	case record.QuoteID == "":
		return PendingOutgoingGrant{}, fmt.Errorf("core: pending grant quote id is required")
	case record.SenderWalletAddress == "":
		return PendingOutgoingGrant{}, fmt.Errorf("core: pending grant sender wallet address is required")
	case !record.Continuation.Valid():
		return PendingOutgoingGrant{}, fmt.Errorf("core: pending grant continuation is required")
	}
	if ttl <= 0 {
		ttl = defaultPendingGrantTTL
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.CreatedAt = record.CreatedAt.UTC()
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = record.CreatedAt.Add(ttl)
	}
	record.ExpiresAt = record.ExpiresAt.UTC()
	return record, nil
}
