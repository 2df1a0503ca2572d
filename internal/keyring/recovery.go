package keyring

import (
	"encoding/base64"
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/tyler-smith/go-bip39"

	"attestd/go-agent/internal/securestore"
)

// recoveryVault holds the recovery mnemonic for the active keypair. The
// mnemonic lives in process memory from generation or import until the
// daemon restarts; once exported it is also sealed to disk under a user
// passphrase. Wrong passphrases against the sealed file back off
// exponentially.
type recoveryVault struct {
	mnemonic       string
	failedAttempts int
	lockedUntil    time.Time
	now            func() time.Time
}

func newRecoveryVault(now func() time.Time) *recoveryVault {
	return &recoveryVault{now: now}
}

func (v *recoveryVault) hold(mnemonic string) {
	v.mnemonic = mnemonic
}

func (v *recoveryVault) clear() {
	v.mnemonic = ""
	v.failedAttempts = 0
	v.lockedUntil = time.Time{}
}

func (v *recoveryVault) export(sealedPath, passphrase string) (string, error) {
	if v.mnemonic != "" {
		if err := securestore.WriteSealedFile(sealedPath, passphrase, []byte(v.mnemonic)); err != nil {
			return "", err
		}
		return v.mnemonic, nil
	}

	if err := v.ensureUnlocked(); err != nil {
		return "", err
	}
	plaintext, err := securestore.ReadSealedFile(sealedPath, passphrase)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrRecoveryUnavailable
		}
		if errors.Is(err, securestore.ErrPassphraseMismatch) {
			v.onFailedAttempt()
			return "", ErrRecoveryWrongSecret
		}
		return "", err
	}
	v.resetAttemptState()

	mnemonic := strings.TrimSpace(string(plaintext))
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", errors.Join(ErrInvalidMnemonic, errors.New("sealed recovery payload is corrupted"))
	}
	v.mnemonic = mnemonic
	return mnemonic, nil
}

func (v *recoveryVault) adopt(sealedPath, mnemonic, passphrase string) error {
	if err := securestore.WriteSealedFile(sealedPath, passphrase, []byte(mnemonic)); err != nil {
		return err
	}
	v.mnemonic = mnemonic
	v.resetAttemptState()
	return nil
}

func (v *recoveryVault) ensureUnlocked() error {
	if v.lockedUntil.IsZero() {
		return nil
	}
	if v.now().Before(v.lockedUntil) {
		return ErrRecoveryLocked
	}
	return nil
}

func (v *recoveryVault) onFailedAttempt() {
	v.failedAttempts++
	v.lockedUntil = v.now().Add(failedAttemptBackoff(v.failedAttempts))
}

func (v *recoveryVault) resetAttemptState() {
	v.failedAttempts = 0
	v.lockedUntil = time.Time{}
}

func failedAttemptBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	// 1s, 2s, 4s... up to 32s max.
	shift := attempt - 1
	if shift > 5 {
		shift = 5
	}
	return time.Second * time.Duration(1<<shift)
}

func encodePublicKey(publicKey []byte) string {
	return base64.StdEncoding.EncodeToString(publicKey)
}
