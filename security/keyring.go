package security

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goliatone/go-donations/core"
)

type keyRingEntry struct {
	provider *AppKeySecretProvider
	window   KeyRotationWindow
}

// KeyRing seals with the newest key whose rotation window is open and opens
// with whichever key id the envelope names. Pending grants live for minutes to
// hours, so a retired key only has to outlive the longest grant TTL.
type KeyRing struct {
	entries []keyRingEntry
	byID    map[string]*AppKeySecretProvider
	Now     func() time.Time
}

func NewKeyRing() *KeyRing {
	return &KeyRing{byID: map[string]*AppKeySecretProvider{}, Now: time.Now}
}

func (r *KeyRing) Add(provider *AppKeySecretProvider, window KeyRotationWindow) error {
	if provider == nil {
		return fmt.Errorf("security: key ring provider is required")
	}
	if _, exists := r.byID[provider.KeyID()]; exists {
		return fmt.Errorf("security: key id %q already registered", provider.KeyID())
	}
	r.byID[provider.KeyID()] = provider
	r.entries = append(r.entries, keyRingEntry{provider: provider, window: window})
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].provider.Version() > r.entries[j].provider.Version()
	})
	return nil
}

func (r *KeyRing) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	now := r.Now()
	for _, entry := range r.entries {
		if entry.window.Allows(now) {
			return entry.provider.Encrypt(ctx, plaintext)
		}
	}
	return nil, fmt.Errorf("security: no active key at %s", now.UTC().Format(time.RFC3339))
}

func (r *KeyRing) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return nil, err
	}
	provider, ok := r.byID[meta.KeyID]
	if !ok {
		return nil, fmt.Errorf("security: unknown key id %q", meta.KeyID)
	}
	return provider.Decrypt(ctx, ciphertext)
}

var _ core.SecretProvider = (*KeyRing)(nil)
