package models

import (
	"strings"
	"time"
)

// IdentityRequest is an inbound assertion request from a local web
// application. The nonce is caller-supplied replay protection and is
// echoed verbatim into the signed payload.
type IdentityRequest struct {
	Nonce   string `json:"nonce"`
	AppName string `json:"appName,omitempty"`
	AppURL  string `json:"appUrl,omitempty"`
}

// IdentityProfile is the persisted user-declared identity, independent
// of the keyring.
type IdentityProfile struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (p IdentityProfile) IsConfigured() bool {
	return strings.TrimSpace(p.Name) != "" && strings.TrimSpace(p.Email) != ""
}

// SignedAssertion is the output artifact returned on approval. The
// signature covers the canonical payload of {name, email, timestamp,
// nonce} in that order.
type SignedAssertion struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	PublicKey string `json:"publicKey"`
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
}

// KeyringStatus describes the active keypair without exposing private
// key material.
type KeyringStatus struct {
	KeyID     string    `json:"key_id"`
	PublicKey string    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}

// ConsentPrompt is what the consent surface renders for one pending
// session.
type ConsentPrompt struct {
	SessionID       string    `json:"session_id"`
	AppName         string    `json:"app_name,omitempty"`
	AppURL          string    `json:"app_url,omitempty"`
	Name            string    `json:"name,omitempty"`
	Email           string    `json:"email,omitempty"`
	KeyID           string    `json:"key_id"`
	CollectIdentity bool      `json:"collect_identity"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// DenialReason classifies non-approval outcomes of an assertion request.
type DenialReason string

const (
	DenialUserDenied            DenialReason = "user_denied"
	DenialTimedOut              DenialReason = "timed_out"
	DenialIdentityNotConfigured DenialReason = "identity_not_configured"
)

// AssertionResult is either an approval carrying a SignedAssertion or a
// denial carrying a reason. Denials are expected outcomes, not errors.
type AssertionResult struct {
	Approved  bool             `json:"approved"`
	Assertion *SignedAssertion `json:"assertion,omitempty"`
	Reason    DenialReason     `json:"reason,omitempty"`
}

type OperationMetric struct {
	Count         int   `json:"count"`
	Errors        int   `json:"errors"`
	AvgLatencyMs  int64 `json:"avg_latency_ms"`
	MaxLatencyMs  int64 `json:"max_latency_ms"`
	LastLatencyMs int64 `json:"last_latency_ms"`
}

// ServiceMetrics is the in-process counters surface reported over RPC.
type ServiceMetrics struct {
	OperationStats      map[string]OperationMetric `json:"operation_stats"`
	OpenConsentSessions int                        `json:"open_consent_sessions"`
	NotificationBacklog int                        `json:"notification_backlog"`
	LastUpdatedAt       time.Time                  `json:"last_updated_at"`
}
