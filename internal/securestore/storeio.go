package securestore

import (
	"os"
	"path/filepath"
)

// WriteSealedFile seals payload and writes it with owner-only
// permissions, via a temp file so a crash never leaves a half-written
// envelope behind.
func WriteSealedFile(path, passphrase string, payload []byte) error {
	sealed, err := Seal(passphrase, payload)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".securestore-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// ReadSealedFile reads and opens an envelope file written by
// WriteSealedFile.
func ReadSealedFile(path, passphrase string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Open(passphrase, raw)
}
