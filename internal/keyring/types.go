package keyring

import (
	"crypto/ed25519"
	"time"
)

// Keypair is the active signing keypair. Private key bytes stay inside
// the process; callers receive defensive copies.
type Keypair struct {
	Public    ed25519.PublicKey
	Private   ed25519.PrivateKey
	CreatedAt time.Time
}

func (k Keypair) clone() Keypair {
	return Keypair{
		Public:    append(ed25519.PublicKey(nil), k.Public...),
		Private:   append(ed25519.PrivateKey(nil), k.Private...),
		CreatedAt: k.CreatedAt,
	}
}

// record is the persisted keyring file shape. encoding/json renders
// the byte slices as base64, which is the documented on-disk format.
type record struct {
	PrivateKey []byte    `json:"privateKey"`
	PublicKey  []byte    `json:"publicKey"`
	CreatedAt  time.Time `json:"createdAt"`
}
