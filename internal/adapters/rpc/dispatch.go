package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"attestd/go-agent/internal/app"
	"attestd/go-agent/internal/consent"
	"attestd/go-agent/internal/keyring"
	"attestd/go-agent/pkg/models"
)

func rpcInvalidParams(msg string) *rpcError {
	if msg == "" {
		msg = "invalid params"
	}
	return &rpcError{Code: -32602, Message: msg}
}

func rpcServiceError(code int, err error) *rpcError {
	return &rpcError{Code: code, Message: err.Error()}
}

func rpcInternalError(err error) *rpcError {
	return &rpcError{Code: -32099, Message: err.Error()}
}

type assertParams struct {
	Nonce   string `json:"nonce"`
	AppName string `json:"appName"`
	AppURL  string `json:"appUrl"`
}

type decideParams struct {
	SessionID string `json:"sessionId"`
	Approved  bool   `json:"approved"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

type profileParams struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type recoveryParams struct {
	Mnemonic   string `json:"mnemonic"`
	Passphrase string `json:"passphrase"`
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func (s *Server) dispatchRPC(r *http.Request, method string, rawParams json.RawMessage) (any, *rpcError) {
	switch method {
	case "health_check":
		return map[string]string{"status": "ok"}, nil
	case "metrics_get":
		return s.service.Metrics(), nil
	case "identity_assert":
		return s.rpcIdentityAssert(r, rawParams)
	case "consent_decide":
		return s.rpcConsentDecide(rawParams)
	case "consent_pending":
		return map[string]any{"sessions": s.service.PendingConsent()}, nil
	case "profile_get":
		profile, ok := s.service.Profile()
		if !ok {
			return nil, rpcServiceError(-32020, app.ErrProfileMissing)
		}
		return map[string]any{"profile": profile}, nil
	case "profile_save":
		return s.rpcProfileSave(rawParams)
	case "keyring_status":
		status, err := s.service.KeyringStatus()
		if err != nil {
			return nil, rpcServiceError(-32030, err)
		}
		return map[string]any{"keyring": status}, nil
	case "keyring_reset":
		existed, err := s.service.ResetKeyring()
		if err != nil {
			return nil, rpcServiceError(-32031, err)
		}
		return map[string]bool{"reset": true, "existed": existed}, nil
	case "recovery_export":
		return s.rpcRecoveryExport(rawParams)
	case "recovery_import":
		return s.rpcRecoveryImport(rawParams)
	case "recovery_validate":
		var params recoveryParams
		if err := decodeParams(rawParams, &params); err != nil {
			return nil, rpcInvalidParams("")
		}
		return map[string]bool{"valid": s.service.ValidateMnemonic(params.Mnemonic)}, nil
	default:
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	}
}

func (s *Server) rpcIdentityAssert(r *http.Request, rawParams json.RawMessage) (any, *rpcError) {
	var params assertParams
	if err := decodeParams(rawParams, &params); err != nil {
		return nil, rpcInvalidParams("")
	}
	result, err := s.service.AssertIdentity(r.Context(), models.IdentityRequest{
		Nonce:   params.Nonce,
		AppName: params.AppName,
		AppURL:  params.AppURL,
	})
	if err != nil {
		if errors.Is(err, app.ErrNonceRequired) {
			return nil, rpcInvalidParams(err.Error())
		}
		return nil, rpcInternalError(err)
	}
	if !result.Approved {
		return nil, mapDenialRPCError(result.Reason)
	}
	return result.Assertion, nil
}

func mapDenialRPCError(reason models.DenialReason) *rpcError {
	switch reason {
	case models.DenialUserDenied:
		return &rpcError{Code: -32010, Message: "User denied the request"}
	case models.DenialTimedOut:
		return &rpcError{Code: -32011, Message: "Consent request timed out"}
	case models.DenialIdentityNotConfigured:
		return &rpcError{Code: -32012, Message: "Identity is not configured"}
	default:
		return &rpcError{Code: -32019, Message: "Assertion was not approved"}
	}
}

func (s *Server) rpcConsentDecide(rawParams json.RawMessage) (any, *rpcError) {
	var params decideParams
	if err := decodeParams(rawParams, &params); err != nil || params.SessionID == "" {
		return nil, rpcInvalidParams("")
	}
	if err := s.service.DecideConsent(params.SessionID, params.Approved, params.Name, params.Email); err != nil {
		switch {
		case errors.Is(err, consent.ErrUnknownSession):
			return nil, rpcServiceError(-32013, err)
		case errors.Is(err, consent.ErrBrokerClosed):
			return nil, rpcServiceError(-32014, err)
		default:
			return nil, rpcInternalError(err)
		}
	}
	return map[string]bool{"accepted": true}, nil
}

func (s *Server) rpcProfileSave(rawParams json.RawMessage) (any, *rpcError) {
	var params profileParams
	if err := decodeParams(rawParams, &params); err != nil {
		return nil, rpcInvalidParams("")
	}
	profile, err := s.service.SaveProfile(params.Name, params.Email)
	if err != nil {
		if errors.Is(err, app.ErrNameRequired) || errors.Is(err, app.ErrEmailInvalid) {
			return nil, rpcInvalidParams(err.Error())
		}
		return nil, rpcServiceError(-32022, err)
	}
	return map[string]any{"profile": profile}, nil
}

func (s *Server) rpcRecoveryExport(rawParams json.RawMessage) (any, *rpcError) {
	var params recoveryParams
	if err := decodeParams(rawParams, &params); err != nil {
		return nil, rpcInvalidParams("")
	}
	mnemonic, err := s.service.ExportRecovery(params.Passphrase)
	if err != nil {
		switch {
		case errors.Is(err, keyring.ErrPassphraseRequired):
			return nil, rpcInvalidParams(err.Error())
		case errors.Is(err, keyring.ErrRecoveryUnavailable):
			return nil, rpcServiceError(-32040, err)
		case errors.Is(err, keyring.ErrRecoveryLocked):
			return nil, rpcServiceError(-32041, err)
		case errors.Is(err, keyring.ErrRecoveryWrongSecret):
			return nil, rpcServiceError(-32042, err)
		default:
			return nil, rpcServiceError(-32043, err)
		}
	}
	return map[string]string{"mnemonic": mnemonic}, nil
}

func (s *Server) rpcRecoveryImport(rawParams json.RawMessage) (any, *rpcError) {
	var params recoveryParams
	if err := decodeParams(rawParams, &params); err != nil {
		return nil, rpcInvalidParams("")
	}
	status, err := s.service.ImportRecovery(params.Mnemonic, params.Passphrase)
	if err != nil {
		switch {
		case errors.Is(err, keyring.ErrMnemonicRequired), errors.Is(err, keyring.ErrPassphraseRequired):
			return nil, rpcInvalidParams(err.Error())
		case errors.Is(err, keyring.ErrInvalidMnemonic):
			return nil, rpcServiceError(-32044, err)
		default:
			return nil, rpcServiceError(-32045, err)
		}
	}
	return map[string]any{"keyring": status}, nil
}
