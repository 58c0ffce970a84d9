package core

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// FinishProof holds the values an authorization server folds into the hash
// it appends to the interaction finish redirect.
type FinishProof struct {
	ClientNonce   string
	ServerNonce   string
	GrantEndpoint string
}

func (p FinishProof) Complete() bool {
	return strings.TrimSpace(p.ClientNonce) != "" &&
		strings.TrimSpace(p.ServerNonce) != "" &&
		strings.TrimSpace(p.GrantEndpoint) != ""
}

func (p FinishProof) normalized() FinishProof {
	return FinishProof{
		ClientNonce:   strings.TrimSpace(p.ClientNonce),
		ServerNonce:   strings.TrimSpace(p.ServerNonce),
		GrantEndpoint: strings.TrimSpace(p.GrantEndpoint),
	}
}

// InteractHash computes sha-256 over the newline-joined client nonce, server
// nonce, interact_ref and grant endpoint, base64 encoded.
func InteractHash(proof FinishProof, interactRef string) string {
	return base64.StdEncoding.EncodeToString(interactDigest(proof, interactRef))
}

func interactDigest(proof FinishProof, interactRef string) []byte {
	proof = proof.normalized()
	sum := sha256.Sum256([]byte(strings.Join([]string{
		proof.ClientNonce,
		proof.ServerNonce,
		strings.TrimSpace(interactRef),
		proof.GrantEndpoint,
	}, "\n")))
	return sum[:]
}

var interactHashEncodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// VerifyInteractHash checks the hash received on the finish redirect. Both
// the standard and the url-safe alphabets are accepted.
func VerifyInteractHash(proof FinishProof, interactRef, hash string) error {
	if !proof.Complete() {
		return fmt.Errorf("%w: pending grant carries no finish nonces", ErrInteractHashMismatch)
	}
	if strings.TrimSpace(interactRef) == "" {
		return fmt.Errorf("%w: interact_ref is required", ErrInteractHashMismatch)
	}
	// A '+' that went through query decoding arrives as a space.
	hash = strings.ReplaceAll(strings.TrimSpace(hash), " ", "+")
	if hash == "" {
		return fmt.Errorf("%w: hash is required", ErrInteractHashMismatch)
	}
	expected := interactDigest(proof, interactRef)
	for _, encoding := range interactHashEncodings {
		received, err := encoding.DecodeString(hash)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare(received, expected) == 1 {
			return nil
		}
		break
	}
	return ErrInteractHashMismatch
}
