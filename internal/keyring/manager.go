// Package keyring owns the persistent Ed25519 signing keypair: one
// active keypair per installation, generated from a BIP-39 mnemonic on
// first run, persisted with owner-only permissions, replaced only on
// explicit reset or recovery import.
package keyring

import (
	"crypto/ed25519"
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tyler-smith/go-bip39"

	"attestd/go-agent/pkg/models"
)

var (
	ErrInvalidMnemonic      = errors.New("invalid mnemonic")
	ErrPassphraseRequired   = errors.New("passphrase is required")
	ErrMnemonicRequired     = errors.New("mnemonic is required")
	ErrRecoveryUnavailable  = errors.New("recovery phrase is not available")
	ErrRecoveryLocked       = errors.New("recovery passphrase attempts are temporarily locked")
	ErrRecoveryWrongSecret  = errors.New("recovery passphrase is invalid")
	errNoActiveKeypairState = errors.New("no active keypair")
)

type Manager struct {
	mu      sync.RWMutex
	store   store
	active  *Keypair
	vault   *recoveryVault
	logger  *slog.Logger
	nowFunc func() time.Time
}

func NewManager(dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store{dir: dir},
		vault:   newRecoveryVault(time.Now),
		logger:  logger,
		nowFunc: time.Now,
	}
}

func newManagerWithClock(dir string, logger *slog.Logger, now func() time.Time) *Manager {
	m := NewManager(dir, logger)
	m.nowFunc = now
	m.vault = newRecoveryVault(now)
	return m
}

// LoadOrCreate returns the active keypair, loading it from disk or
// generating and persisting a fresh one. A corrupt persisted keyring is
// replaced rather than partially used; the replacement changes the
// public identity, so it is logged as a warning.
func (m *Manager) LoadOrCreate() (Keypair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return m.active.clone(), nil
	}

	kp, err := m.store.load()
	switch {
	case err == nil:
		m.active = &kp
		return kp.clone(), nil
	case errors.Is(err, fs.ErrNotExist):
		m.logger.Info("no persisted keyring; generating")
	case errors.Is(err, ErrCorrupt):
		m.logger.Warn("persisted keyring is corrupt; generating replacement", "err", err)
	default:
		return Keypair{}, err
	}
	return m.generateLocked()
}

// Reset deletes the persisted keyring and drops the active keypair.
// It does not regenerate; the next LoadOrCreate does. Reports whether a
// persisted keyring existed.
func (m *Manager) Reset() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existed, err := m.store.remove()
	if err != nil {
		return false, err
	}
	m.active = nil
	m.vault.clear()
	m.logger.Info("keyring reset", "existed", existed)
	return existed, nil
}

// Status reports the active keypair's public identity.
func (m *Manager) Status() (models.KeyringStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return models.KeyringStatus{}, errNoActiveKeypairState
	}
	return statusOf(*m.active)
}

// ExportRecovery returns the recovery mnemonic for the active keypair,
// sealing it to disk under passphrase on first export. After a restart
// the mnemonic is only recoverable from that sealed file, gated by the
// same passphrase with lockout backoff on failures.
func (m *Manager) ExportRecovery(passphrase string) (string, error) {
	if strings.TrimSpace(passphrase) == "" {
		return "", ErrPassphraseRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vault.export(m.store.recoveryPath(), passphrase)
}

// ImportRecovery rebuilds the keyring from a recovery mnemonic,
// replacing any active keypair, and reseals the mnemonic under
// passphrase.
func (m *Manager) ImportRecovery(mnemonic, passphrase string) (models.KeyringStatus, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return models.KeyringStatus{}, ErrMnemonicRequired
	}
	if strings.TrimSpace(passphrase) == "" {
		return models.KeyringStatus{}, ErrPassphraseRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return models.KeyringStatus{}, ErrInvalidMnemonic
	}

	priv, err := deriveFromMnemonic(mnemonic)
	if err != nil {
		return models.KeyringStatus{}, err
	}
	kp := Keypair{
		Public:    priv.Public().(ed25519.PublicKey),
		Private:   priv,
		CreatedAt: m.nowFunc().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.save(kp); err != nil {
		return models.KeyringStatus{}, err
	}
	m.active = &kp
	if err := m.vault.adopt(m.store.recoveryPath(), mnemonic, passphrase); err != nil {
		return models.KeyringStatus{}, err
	}
	m.logger.Info("keyring restored from recovery mnemonic")
	return statusOf(kp)
}

// ValidateMnemonic reports whether a candidate recovery phrase is
// well-formed.
func (m *Manager) ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(strings.TrimSpace(mnemonic))
}

func (m *Manager) generateLocked() (Keypair, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return Keypair{}, err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return Keypair{}, err
	}
	priv, err := deriveFromMnemonic(mnemonic)
	if err != nil {
		return Keypair{}, err
	}
	kp := Keypair{
		Public:    priv.Public().(ed25519.PublicKey),
		Private:   priv,
		CreatedAt: m.nowFunc().UTC(),
	}
	if err := m.store.save(kp); err != nil {
		return Keypair{}, err
	}
	m.active = &kp
	m.vault.hold(mnemonic)

	keyID, err := KeyID(kp.Public)
	if err != nil {
		return Keypair{}, err
	}
	m.logger.Info("generated new signing keypair", "key_id", keyID)
	return kp.clone(), nil
}

func statusOf(kp Keypair) (models.KeyringStatus, error) {
	keyID, err := KeyID(kp.Public)
	if err != nil {
		return models.KeyringStatus{}, err
	}
	return models.KeyringStatus{
		KeyID:     keyID,
		PublicKey: encodePublicKey(kp.Public),
		CreatedAt: kp.CreatedAt,
	}, nil
}
