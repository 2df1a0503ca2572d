package keyring

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	keyringFileName  = "keyring.json"
	recoveryFileName = "recovery.enc"
)

// ErrCorrupt marks a persisted keyring that exists but cannot be used.
// The manager recovers by generating a replacement.
var ErrCorrupt = errors.New("persisted keyring is corrupt")

type store struct {
	dir string
}

func (s store) keyringPath() string {
	return filepath.Join(s.dir, keyringFileName)
}

func (s store) recoveryPath() string {
	return filepath.Join(s.dir, recoveryFileName)
}

// load reads the persisted keyring. A missing file returns fs.ErrNotExist;
// anything present but unusable returns ErrCorrupt.
func (s store) load() (Keypair, error) {
	raw, err := os.ReadFile(s.keyringPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Keypair{}, err
		}
		return Keypair{}, errors.Join(ErrCorrupt, err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Keypair{}, errors.Join(ErrCorrupt, err)
	}
	if len(rec.PrivateKey) != ed25519.PrivateKeySize || len(rec.PublicKey) != ed25519.PublicKeySize {
		return Keypair{}, ErrCorrupt
	}
	priv := ed25519.PrivateKey(append([]byte(nil), rec.PrivateKey...))
	derived := priv.Public().(ed25519.PublicKey)
	if !derived.Equal(ed25519.PublicKey(rec.PublicKey)) {
		return Keypair{}, ErrCorrupt
	}
	return Keypair{
		Public:    append(ed25519.PublicKey(nil), rec.PublicKey...),
		Private:   priv,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// save persists the keypair with owner-only permissions, writing through
// a temp file so a crash cannot leave a truncated keyring behind.
func (s store) save(kp Keypair) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	raw, err := json.Marshal(record{
		PrivateKey: kp.Private,
		PublicKey:  kp.Public,
		CreatedAt:  kp.CreatedAt,
	})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".keyring-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.keyringPath())
}

// remove deletes the persisted keyring and any sealed recovery file.
// Reports whether a keyring file existed.
func (s store) remove() (bool, error) {
	existed := true
	if err := os.Remove(s.keyringPath()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
		existed = false
	}
	if err := os.Remove(s.recoveryPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return existed, err
	}
	return existed, nil
}
