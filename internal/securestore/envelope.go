// Package securestore encrypts small state files with a user
// passphrase. It backs the recovery-phrase export: argon2id key
// derivation and XChaCha20-Poly1305 sealing, with KDF parameters
// recorded in the envelope so older files stay readable after a
// parameter bump.
package securestore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	filePrefix      = "ATTENC1\n"

	kdfName     = "argon2id"
	kdfTime     = uint32(2)
	kdfMemoryKB = uint32(64 * 1024)
	kdfThreads  = uint8(1)
)

var (
	ErrPassphraseMismatch = errors.New("securestore passphrase authentication failed")
	ErrEnvelopeInvalid    = errors.New("securestore envelope is invalid")
)

type Envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// Seal encrypts plaintext under passphrase and returns the serialized
// envelope file content, including the format prefix.
func Seal(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, salt, kdfTime, kdfMemoryKB, kdfThreads)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	env := Envelope{
		Version:     envelopeVersion,
		KDF:         kdfName,
		KDFTime:     kdfTime,
		KDFMemoryKB: kdfMemoryKB,
		KDFThreads:  kdfThreads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, nil),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(filePrefix), raw...), nil
}

// Open decrypts envelope file content produced by Seal.
func Open(passphrase string, data []byte) ([]byte, error) {
	if !strings.HasPrefix(string(data), filePrefix) {
		return nil, ErrEnvelopeInvalid
	}
	var env Envelope
	if err := json.Unmarshal(data[len(filePrefix):], &env); err != nil {
		return nil, ErrEnvelopeInvalid
	}
	if env.Version != envelopeVersion || env.KDF != kdfName {
		return nil, ErrEnvelopeInvalid
	}
	key := deriveKey(passphrase, env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrPassphraseMismatch
	}
	return plaintext, nil
}

func deriveKey(passphrase string, salt []byte, time, memoryKB uint32, threads uint8) []byte {
	return argon2.IDKey([]byte(passphrase), salt, time, memoryKB, threads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
