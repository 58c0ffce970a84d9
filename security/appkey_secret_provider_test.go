package security

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestAppKeySecretProvider_EncryptDecryptRoundTrip(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("super-secret-test-key", WithKeyID("donations-v1"), WithVersion(3))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	plaintext := []byte("continue-token-123")
	encrypted, err := provider.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(encrypted, plaintext) {
		t.Fatalf("expected encrypted payload to hide plaintext")
	}
	if !bytes.HasPrefix(encrypted, []byte(envelopePrefix)) {
		t.Fatalf("expected envelope prefix")
	}
	meta, err := ParseEnvelopeMetadata(encrypted)
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	if meta.KeyID != "donations-v1" || meta.Version != 3 || meta.Algorithm != envelopeAlgorithm {
		t.Fatalf("unexpected metadata %#v", meta)
	}

	decrypted, err := provider.Decrypt(context.Background(), encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected roundtrip plaintext; got %q", string(decrypted))
	}
}

func TestAppKeySecretProvider_RejectsMetadataMismatch(t *testing.T) {
	issuer, err := NewAppKeySecretProviderFromString("super-secret-test-key", WithKeyID("donations-v1"), WithVersion(1))
	if err != nil {
		t.Fatalf("new issuer provider: %v", err)
	}
	receiver, err := NewAppKeySecretProviderFromString("super-secret-test-key", WithKeyID("donations-v2"), WithVersion(2))
	if err != nil {
		t.Fatalf("new receiver provider: %v", err)
	}

	encrypted, err := issuer.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := receiver.Decrypt(context.Background(), encrypted); err == nil {
		t.Fatalf("expected metadata mismatch error")
	}
}

func TestAppKeySecretProvider_RejectsMalformedInput(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("super-secret-test-key")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := NewAppKeySecretProvider(nil); err == nil {
		t.Fatalf("expected empty key material to fail")
	}
	if _, err := provider.Encrypt(context.Background(), nil); err == nil {
		t.Fatalf("expected empty plaintext to fail")
	}
	for _, raw := range []string{"", "plain-token", envelopePrefix + "{", envelopePrefix + `{"kid":"app-key"}`} {
		if _, err := provider.Decrypt(context.Background(), []byte(raw)); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestKeyRing_RotatesAndOpensOldValues(t *testing.T) {
	ctx := context.Background()
	rotation := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	oldKey, _ := NewAppKeySecretProviderFromString("old-key", WithKeyID("k1"), WithVersion(1))
	newKey, _ := NewAppKeySecretProviderFromString("new-key", WithKeyID("k2"), WithVersion(2))

	ring := NewKeyRing()
	if err := ring.Add(oldKey, KeyRotationWindow{NotAfter: rotation}); err != nil {
		t.Fatalf("add old key: %v", err)
	}
	if err := ring.Add(newKey, KeyRotationWindow{NotBefore: rotation}); err != nil {
		t.Fatalf("add new key: %v", err)
	}
	if err := ring.Add(oldKey, KeyRotationWindow{}); err == nil {
		t.Fatalf("expected duplicate key id to be rejected")
	}

	ring.Now = func() time.Time { return rotation.Add(-time.Hour) }
	sealedBefore, err := ring.Encrypt(ctx, []byte("before"))
	if err != nil {
		t.Fatalf("encrypt before rotation: %v", err)
	}
	if meta, _ := ParseEnvelopeMetadata(sealedBefore); meta.KeyID != "k1" {
		t.Fatalf("expected old key before rotation, got %q", meta.KeyID)
	}

	ring.Now = func() time.Time { return rotation.Add(time.Hour) }
	sealedAfter, err := ring.Encrypt(ctx, []byte("after"))
	if err != nil {
		t.Fatalf("encrypt after rotation: %v", err)
	}
	if meta, _ := ParseEnvelopeMetadata(sealedAfter); meta.KeyID != "k2" {
		t.Fatalf("expected new key after rotation, got %q", meta.KeyID)
	}

	opened, err := ring.Decrypt(ctx, sealedBefore)
	if err != nil || string(opened) != "before" {
		t.Fatalf("expected retired key to open old value, got %q, %v", opened, err)
	}
}

func TestKeyRing_NoActiveKey(t *testing.T) {
	key, _ := NewAppKeySecretProviderFromString("key", WithKeyID("k1"))
	ring := NewKeyRing()
	_ = ring.Add(key, KeyRotationWindow{NotAfter: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)})
	if _, err := ring.Encrypt(context.Background(), []byte("x")); err == nil {
		t.Fatalf("expected encrypt without active key to fail")
	}
}
