package keyring

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/mr-tron/base58/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfoSigning = "attestd/keyring/signing/v1"

// deriveFromMnemonic expands a BIP-39 mnemonic into the Ed25519 signing
// key. The HKDF step keeps the raw BIP-39 seed out of the key itself so
// future key kinds can be derived from the same mnemonic.
func deriveFromMnemonic(mnemonic string) (ed25519.PrivateKey, error) {
	seedBytes := bip39.NewSeed(mnemonic, "")
	signingSeed, err := hkdfExpand(seedBytes, hkdfInfoSigning, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(signingSeed), nil
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// KeyID is the stable public fingerprint of a signing key, shown in
// consent prompts and status output.
func KeyID(publicKey []byte) (string, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid signing public key size: %d", len(publicKey))
	}
	h := blake2b.Sum256(publicKey)
	return "att1" + base58.Encode(h[:]), nil
}
