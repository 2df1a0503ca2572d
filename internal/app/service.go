// Package app wires the keyring, consent broker and signing engine
// into the assertion service the RPC layer talks to.
package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"attestd/go-agent/internal/consent"
	"attestd/go-agent/internal/keyring"
	"attestd/go-agent/internal/platform/privacylog"
	"attestd/go-agent/internal/signing"
	"attestd/go-agent/pkg/models"
)

const notificationBacklog = 256

// Options tune service behavior; zero values fall back to defaults.
type Options struct {
	ConsentTimeout time.Duration
	// CollectOnFirstUse lets the consent prompt gather name/email when
	// no profile is configured yet. Off by default: an unconfigured
	// profile then fails fast without opening a session.
	CollectOnFirstUse bool
}

type Service struct {
	keys     *keyring.Manager
	profiles *ProfileStore
	broker   *consent.Broker
	hub      *NotificationHub
	metrics  *Metrics
	ops      *opMetricsState
	logger   *slog.Logger
	opts     Options
	nowFunc  func() time.Time
}

func NewService(keys *keyring.Manager, profiles *ProfileStore, metrics *Metrics, logger *slog.Logger, opts Options) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	hub := NewNotificationHub(notificationBacklog)
	svc := &Service{
		keys:     keys,
		profiles: profiles,
		hub:      hub,
		metrics:  metrics,
		ops:      newOpMetricsState(),
		logger:   logger,
		opts:     opts,
		nowFunc:  time.Now,
	}
	svc.broker = consent.NewBroker(&hubPresenter{hub: hub}, opts.ConsentTimeout, logger)

	if err := profiles.Bootstrap(); err != nil {
		// A corrupt profile is recoverable: the user re-saves it. Keep
		// the daemon up.
		logger.Warn("identity profile could not be loaded", "err", err)
	}
	if _, err := keys.LoadOrCreate(); err != nil {
		return nil, err
	}
	return svc, nil
}

// AssertIdentity is the consent-bound signing flow: validate, prompt,
// and on approval sign the canonical claim set. Denials come back as
// results, not errors.
func (s *Service) AssertIdentity(ctx context.Context, req models.IdentityRequest) (models.AssertionResult, error) {
	started := time.Now()
	result, err := s.assertIdentity(ctx, req)
	s.ops.RecordOp("identity_assert", started)
	if err != nil {
		s.ops.RecordOpError("identity_assert")
	}
	return result, err
}

func (s *Service) assertIdentity(ctx context.Context, req models.IdentityRequest) (models.AssertionResult, error) {
	if strings.TrimSpace(req.Nonce) == "" {
		s.metrics.RecordAssertion("validation_error")
		return models.AssertionResult{}, ErrNonceRequired
	}

	kp, err := s.keys.LoadOrCreate()
	if err != nil {
		s.metrics.RecordAssertion("internal_error")
		return models.AssertionResult{}, err
	}
	keyID, err := keyring.KeyID(kp.Public)
	if err != nil {
		s.metrics.RecordAssertion("internal_error")
		return models.AssertionResult{}, err
	}

	profile, configured := s.profiles.Current()
	if !configured && !s.opts.CollectOnFirstUse {
		s.metrics.RecordAssertion(string(models.DenialIdentityNotConfigured))
		return denial(models.DenialIdentityNotConfigured), nil
	}

	prompt := models.ConsentPrompt{
		AppName:         req.AppName,
		AppURL:          req.AppURL,
		Name:            profile.Name,
		Email:           profile.Email,
		KeyID:           keyID,
		CollectIdentity: !configured,
	}
	session, err := s.broker.Open(prompt)
	if err != nil {
		s.metrics.RecordAssertion("internal_error")
		return models.AssertionResult{}, err
	}
	s.metrics.SessionOpened()
	started := s.nowFunc()

	res, err := session.Await(ctx)
	s.metrics.SessionClosed()
	s.metrics.ObserveConsent(started)
	if err != nil {
		s.metrics.RecordAssertion("abandoned")
		return models.AssertionResult{}, err
	}
	if res.Expired {
		s.metrics.RecordAssertion(string(models.DenialTimedOut))
		return denial(models.DenialTimedOut), nil
	}
	if !res.Decision.Approved {
		s.metrics.RecordAssertion(string(models.DenialUserDenied))
		return denial(models.DenialUserDenied), nil
	}

	name, email := profile.Name, profile.Email
	if !configured {
		saved, err := s.profiles.Save(res.Decision.Name, res.Decision.Email)
		if err != nil {
			// Approved but without usable identity fields.
			s.metrics.RecordAssertion(string(models.DenialIdentityNotConfigured))
			return denial(models.DenialIdentityNotConfigured), nil
		}
		name, email = saved.Name, saved.Email
	}

	claims := signing.ClaimSet{
		Name:      name,
		Email:     email,
		Timestamp: s.nowFunc().UTC().Format(time.RFC3339),
		Nonce:     req.Nonce,
	}
	assertion, err := signing.Sign(claims, kp)
	if err != nil {
		s.metrics.RecordAssertion("internal_error")
		return models.AssertionResult{}, err
	}
	s.metrics.RecordAssertion("approved")
	s.logger.Info("assertion issued", privacylog.SanitizeArgs(
		"session_id", session.ID(),
		"nonce", req.Nonce,
		"app_url", req.AppURL,
		"key_id", keyID,
	)...)
	return models.AssertionResult{Approved: true, Assertion: &assertion}, nil
}

// DecideConsent routes a surface decision to its session.
func (s *Service) DecideConsent(sessionID string, approved bool, name, email string) error {
	started := time.Now()
	err := s.broker.Resolve(strings.TrimSpace(sessionID), consent.Decision{
		Approved: approved,
		Name:     strings.TrimSpace(name),
		Email:    strings.TrimSpace(email),
	})
	s.ops.RecordOp("consent_decide", started)
	if err != nil {
		s.ops.RecordOpError("consent_decide")
	}
	return err
}

// PendingConsent lists prompts still awaiting a decision.
func (s *Service) PendingConsent() []models.ConsentPrompt {
	return s.broker.Pending()
}

// Profile returns the configured identity profile, if any.
func (s *Service) Profile() (models.IdentityProfile, bool) {
	return s.profiles.Current()
}

// SaveProfile persists user-declared identity fields.
func (s *Service) SaveProfile(name, email string) (models.IdentityProfile, error) {
	started := time.Now()
	profile, err := s.profiles.Save(name, email)
	s.ops.RecordOp("profile_save", started)
	if err != nil {
		s.ops.RecordOpError("profile_save")
	}
	return profile, err
}

// KeyringStatus reports the active keypair's public identity.
func (s *Service) KeyringStatus() (models.KeyringStatus, error) {
	if _, err := s.keys.LoadOrCreate(); err != nil {
		return models.KeyringStatus{}, err
	}
	return s.keys.Status()
}

// ResetKeyring destroys the persisted keyring. The next request
// regenerates a fresh keypair, which changes the public identity seen
// by verifiers.
func (s *Service) ResetKeyring() (bool, error) {
	return s.keys.Reset()
}

func (s *Service) ExportRecovery(passphrase string) (string, error) {
	return s.keys.ExportRecovery(passphrase)
}

func (s *Service) ImportRecovery(mnemonic, passphrase string) (models.KeyringStatus, error) {
	return s.keys.ImportRecovery(mnemonic, passphrase)
}

func (s *Service) ValidateMnemonic(mnemonic string) bool {
	return s.keys.ValidateMnemonic(mnemonic)
}

// Metrics snapshots the in-process operation counters.
func (s *Service) Metrics() models.ServiceMetrics {
	opStats, updatedAt := s.ops.Snapshot()
	return models.ServiceMetrics{
		OperationStats:      opStats,
		OpenConsentSessions: len(s.broker.Pending()),
		NotificationBacklog: s.hub.BacklogSize(),
		LastUpdatedAt:       updatedAt,
	}
}

// SubscribeNotifications attaches a consent surface to the event
// stream.
func (s *Service) SubscribeNotifications(fromSeq int64) ([]NotificationEvent, <-chan NotificationEvent, func()) {
	return s.hub.Subscribe(fromSeq)
}

// Close expires all open consent sessions.
func (s *Service) Close() {
	s.broker.Close()
}

func denial(reason models.DenialReason) models.AssertionResult {
	return models.AssertionResult{Approved: false, Reason: reason}
}
