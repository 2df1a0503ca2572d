package app

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"attestd/go-agent/pkg/models"
)

// ProfileStore persists the user-declared name and email. Reads are
// frequent (every consent prompt); writes only happen through the
// explicit profile_save action, so a read-write lock is enough.
type ProfileStore struct {
	mu     sync.RWMutex
	path   string
	cached *models.IdentityProfile
}

func NewProfileStore(path string) *ProfileStore {
	return &ProfileStore{path: path}
}

// Bootstrap loads the persisted profile into memory. A missing file is
// not an error; the profile simply is not configured yet.
func (s *ProfileStore) Bootstrap() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	var profile models.IdentityProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return errors.Join(ErrProfileCorrupted, err)
	}
	if !profile.IsConfigured() {
		return ErrProfileCorrupted
	}
	s.cached = &profile
	return nil
}

// Current returns the configured profile, if any.
func (s *ProfileStore) Current() (models.IdentityProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil {
		return models.IdentityProfile{}, false
	}
	return *s.cached, true
}

// Save validates and persists a new profile, replacing any previous
// one.
func (s *ProfileStore) Save(name, email string) (models.IdentityProfile, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if err := validateIdentityFields(name, email); err != nil {
		return models.IdentityProfile{}, err
	}
	profile := models.IdentityProfile{
		Name:      name,
		Email:     email,
		UpdatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(profile); err != nil {
		return models.IdentityProfile{}, err
	}
	s.cached = &profile
	return profile, nil
}

func (s *ProfileStore) write(profile models.IdentityProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".profile-*")
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
	return os.Rename(tmpName, s.path)
}

func validateIdentityFields(name, email string) error {
	if name == "" {
		return ErrNameRequired
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil || parsed.Address != email {
		// Reject display-name forms like "John <j@e.com>"; the profile
		// stores the bare address.
		return ErrEmailInvalid
	}
	return nil
}
