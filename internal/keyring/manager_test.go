package keyring

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"attestd/go-agent/internal/testutil/fsperm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadOrCreateIsIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keyring")
	mgr := NewManager(dir, testLogger())

	first, err := mgr.LoadOrCreate()
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	second, err := mgr.LoadOrCreate()
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if !bytes.Equal(first.Public, second.Public) {
		t.Fatal("repeated LoadOrCreate must return the same public key")
	}
	fsperm.AssertPrivateDirPerm(t, dir)
	fsperm.AssertPrivateFilePerm(t, filepath.Join(dir, keyringFileName))
}

func TestLoadOrCreateSurvivesRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keyring")
	first, err := NewManager(dir, testLogger()).LoadOrCreate()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	second, err := NewManager(dir, testLogger()).LoadOrCreate()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !bytes.Equal(first.Public, second.Public) {
		t.Fatal("persisted keypair must survive a manager restart")
	}
}

func TestResetYieldsFreshKeypair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keyring")
	mgr := NewManager(dir, testLogger())

	before, err := mgr.LoadOrCreate()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	existed, err := mgr.Reset()
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if !existed {
		t.Fatal("reset should report an existing keyring")
	}
	after, err := mgr.LoadOrCreate()
	if err != nil {
		t.Fatalf("load after reset failed: %v", err)
	}
	if bytes.Equal(before.Public, after.Public) {
		t.Fatal("reset must produce a different keypair")
	}
}

func TestResetWithoutKeyringReportsNotExisted(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "keyring"), testLogger())
	existed, err := mgr.Reset()
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if existed {
		t.Fatal("reset on empty dir should report no keyring")
	}
}

func TestCorruptKeyringIsReplaced(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keyring")
	mgr := NewManager(dir, testLogger())
	before, err := mgr.LoadOrCreate()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, keyringFileName), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("corrupt write failed: %v", err)
	}
	after, err := NewManager(dir, testLogger()).LoadOrCreate()
	if err != nil {
		t.Fatalf("load over corrupt keyring failed: %v", err)
	}
	if bytes.Equal(before.Public, after.Public) {
		t.Fatal("corrupt keyring must be replaced, not reused")
	}
}

func TestCorruptKeyringMismatchedPublicKey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keyring")
	mgr := NewManager(dir, testLogger())
	if _, err := mgr.LoadOrCreate(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	other, err := NewManager(filepath.Join(t.TempDir(), "other"), testLogger()).LoadOrCreate()
	if err != nil {
		t.Fatalf("second keypair failed: %v", err)
	}

	s := store{dir: dir}
	kp, err := s.load()
	if err != nil {
		t.Fatalf("raw load failed: %v", err)
	}
	kp.Public = other.Public
	if err := s.save(kp); err != nil {
		t.Fatalf("save mismatched record failed: %v", err)
	}
	if _, err := s.load(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for mismatched keys, got %v", err)
	}
}

func TestStatusExposesNoPrivateMaterial(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "keyring"), testLogger())
	kp, err := mgr.LoadOrCreate()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	status, err := mgr.Status()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.KeyID == "" || status.PublicKey == "" {
		t.Fatal("status must carry key id and public key")
	}
	wantID, err := KeyID(kp.Public)
	if err != nil {
		t.Fatalf("key id failed: %v", err)
	}
	if status.KeyID != wantID {
		t.Fatalf("key id mismatch: %s != %s", status.KeyID, wantID)
	}
}

func TestRecoveryExportImportRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keyring")
	mgr := NewManager(dir, testLogger())
	kp, err := mgr.LoadOrCreate()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	mnemonic, err := mgr.ExportRecovery("pass-1")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !mgr.ValidateMnemonic(mnemonic) {
		t.Fatal("exported mnemonic must be valid")
	}

	fresh := NewManager(filepath.Join(t.TempDir(), "restored"), testLogger())
	status, err := fresh.ImportRecovery(mnemonic, "pass-2")
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	wantID, err := KeyID(kp.Public)
	if err != nil {
		t.Fatalf("key id failed: %v", err)
	}
	if status.KeyID != wantID {
		t.Fatal("importing the mnemonic must reproduce the same key identity")
	}
}

func TestRecoveryExportAfterRestartNeedsSealedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keyring")
	mgr := NewManager(dir, testLogger())
	if _, err := mgr.LoadOrCreate(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	mnemonic, err := mgr.ExportRecovery("pass-1")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	restarted := NewManager(dir, testLogger())
	if _, err := restarted.LoadOrCreate(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	got, err := restarted.ExportRecovery("pass-1")
	if err != nil {
		t.Fatalf("sealed export failed: %v", err)
	}
	if got != mnemonic {
		t.Fatal("sealed recovery file must return the original mnemonic")
	}
}

func TestRecoveryExportNeverSealedIsUnavailable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keyring")
	if _, err := NewManager(dir, testLogger()).LoadOrCreate(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	restarted := NewManager(dir, testLogger())
	if _, err := restarted.LoadOrCreate(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if _, err := restarted.ExportRecovery("pass"); !errors.Is(err, ErrRecoveryUnavailable) {
		t.Fatalf("expected ErrRecoveryUnavailable, got %v", err)
	}
}

func TestRecoveryWrongPassphraseLockout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keyring")
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	mgr := newManagerWithClock(dir, testLogger(), clock)
	if _, err := mgr.LoadOrCreate(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := mgr.ExportRecovery("good-pass"); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	restarted := newManagerWithClock(dir, testLogger(), clock)
	if _, err := restarted.LoadOrCreate(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if _, err := restarted.ExportRecovery("bad-pass"); !errors.Is(err, ErrRecoveryWrongSecret) {
		t.Fatalf("expected ErrRecoveryWrongSecret, got %v", err)
	}
	if _, err := restarted.ExportRecovery("bad-pass"); !errors.Is(err, ErrRecoveryLocked) {
		t.Fatalf("expected ErrRecoveryLocked, got %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := restarted.ExportRecovery("good-pass"); err != nil {
		t.Fatalf("expected unlock after backoff, got %v", err)
	}
}

func TestImportRecoveryRejectsInvalidInputs(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "keyring"), testLogger())
	if _, err := mgr.ImportRecovery("", "pass"); !errors.Is(err, ErrMnemonicRequired) {
		t.Fatalf("expected ErrMnemonicRequired, got %v", err)
	}
	if _, err := mgr.ImportRecovery("not a mnemonic", "pass"); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("expected ErrInvalidMnemonic, got %v", err)
	}
	if _, err := mgr.ImportRecovery("abandon", ""); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}
}

func TestKeyIDShape(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "keyring"), testLogger())
	kp, err := mgr.LoadOrCreate()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	id, err := KeyID(kp.Public)
	if err != nil {
		t.Fatalf("key id failed: %v", err)
	}
	if len(id) < 12 || id[:4] != "att1" {
		t.Fatalf("unexpected key id shape: %s", id)
	}
	if _, err := KeyID([]byte("short")); err == nil {
		t.Fatal("expected error for wrong-size public key")
	}
}
