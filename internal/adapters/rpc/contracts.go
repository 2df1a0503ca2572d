package rpc

import (
	"context"

	"attestd/go-agent/internal/app"
	"attestd/go-agent/pkg/models"
)

// AgentService is what the transport needs from the daemon core.
type AgentService interface {
	AssertIdentity(ctx context.Context, req models.IdentityRequest) (models.AssertionResult, error)
	DecideConsent(sessionID string, approved bool, name, email string) error
	PendingConsent() []models.ConsentPrompt
	Profile() (models.IdentityProfile, bool)
	SaveProfile(name, email string) (models.IdentityProfile, error)
	KeyringStatus() (models.KeyringStatus, error)
	ResetKeyring() (bool, error)
	ExportRecovery(passphrase string) (string, error)
	ImportRecovery(mnemonic, passphrase string) (models.KeyringStatus, error)
	ValidateMnemonic(mnemonic string) bool
	Metrics() models.ServiceMetrics
	SubscribeNotifications(fromSeq int64) ([]app.NotificationEvent, <-chan app.NotificationEvent, func())
	Close()
}
