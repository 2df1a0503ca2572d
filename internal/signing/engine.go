// Package signing produces identity assertions. Ed25519 is
// deterministic, so a signature here is a pure function of the claim
// set and the private key.
package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"

	"attestd/go-agent/internal/keyring"
	"attestd/go-agent/pkg/models"
)

// ErrMalformedKey means the keypair handed in does not have Ed25519
// key sizes. The keyring never produces such a pair, so hitting this
// is a programming error, not a user-facing condition.
var ErrMalformedKey = errors.New("malformed signing key material")

// ClaimSet is the signed statement. Field order here fixes the
// canonical serialization: external verifiers must reproduce the JSON
// object {"name":…,"email":…,"timestamp":…,"nonce":…} byte for byte.
type ClaimSet struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Timestamp string `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// CanonicalPayload returns the exact byte sequence that is signed:
// compact JSON of the claim set with the four keys in declaration
// order.
func CanonicalPayload(claims ClaimSet) ([]byte, error) {
	return json.Marshal(claims)
}

// Sign builds a SignedAssertion over claims with the keypair's private
// key. The keypair is never mutated.
func Sign(claims ClaimSet, kp keyring.Keypair) (models.SignedAssertion, error) {
	if len(kp.Private) != ed25519.PrivateKeySize || len(kp.Public) != ed25519.PublicKeySize {
		return models.SignedAssertion{}, ErrMalformedKey
	}
	payload, err := CanonicalPayload(claims)
	if err != nil {
		return models.SignedAssertion{}, err
	}
	sig := ed25519.Sign(kp.Private, payload)
	return models.SignedAssertion{
		Name:      claims.Name,
		Email:     claims.Email,
		PublicKey: base64.StdEncoding.EncodeToString(kp.Public),
		Timestamp: claims.Timestamp,
		Signature: base64.StdEncoding.EncodeToString(sig),
		Nonce:     claims.Nonce,
	}, nil
}

// Verify checks a SignedAssertion the way an external verifier would:
// decode the encoded key and signature, rebuild the canonical payload
// from the assertion's own fields, and verify.
func Verify(assertion models.SignedAssertion) (bool, error) {
	publicKey, err := base64.StdEncoding.DecodeString(assertion.PublicKey)
	if err != nil {
		return false, err
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return false, ErrMalformedKey
	}
	sig, err := base64.StdEncoding.DecodeString(assertion.Signature)
	if err != nil {
		return false, err
	}
	payload, err := CanonicalPayload(ClaimSet{
		Name:      assertion.Name,
		Email:     assertion.Email,
		Timestamp: assertion.Timestamp,
		Nonce:     assertion.Nonce,
	})
	if err != nil {
		return false, err
	}
	return ed25519.Verify(publicKey, payload, sig), nil
}
