// Package rpc is the loopback HTTP transport: JSON-RPC 2.0 for
// requests, server-sent events for the consent prompt stream. Origins
// are restricted to localhost and a bearer token is required outside
// development environments.
package rpc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attestd/go-agent/internal/agentconfig"
)

const DefaultListenAddr = "127.0.0.1:8787"

type Server struct {
	httpServer *http.Server
	service    AgentService
	initErr    error
	rpcToken   string
	requireRPC bool
	limiter    *rpcRateLimiter
	streams    *rpcStreamLimiter
	logger     *slog.Logger
}

func NewServerWithService(cfg agentconfig.Config, svc AgentService, logger *slog.Logger) *Server {
	requireRPC := requiresRPCToken()
	rpcToken, err := resolveRPCToken()
	if err != nil {
		return &Server{initErr: err}
	}
	if requireRPC && rpcToken == "" {
		return &Server{
			initErr: errors.New("ATTEST_RPC_TOKEN is required unless ATTEST_REQUIRE_RPC_TOKEN=false or ATTEST_ENV is test/development/local"),
		}
	}
	return newServerWithService(cfg, svc, logger, rpcToken, requireRPC)
}

func newServerWithService(cfg agentconfig.Config, svc AgentService, logger *slog.Logger, rpcToken string, requireRPC bool) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	addr := cfg.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		service:    svc,
		rpcToken:   rpcToken,
		requireRPC: requireRPC,
		limiter: newRPCRateLimiter(rpcRateLimitConfig{
			Enabled: cfg.RateLimitEnabled,
			RPS:     cfg.RateLimitRPS,
			Burst:   cfg.RateLimitBurst,
		}),
		streams: newRPCStreamLimiter(loadRPCStreamLimitConfig()),
		logger:  logger,
	}
	if s.rpcToken == "" && !s.requireRPC {
		logger.Warn("ATTEST_RPC_TOKEN is not set; RPC auth disabled")
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/rpc/stream", s.handleRPCStream)
	mux.Handle("/metrics", promhttp.Handler())
	return s
}

func (s *Server) Run(ctx context.Context) error {
	if s.initErr != nil {
		return s.initErr
	}
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.service.Close()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		s.service.Close()
		return err
	}
}

func (s *Server) HandleRPC(w http.ResponseWriter, r *http.Request) {
	s.handleRPC(w, r)
}

func (s *Server) HandleRPCStream(w http.ResponseWriter, r *http.Request) {
	s.handleRPCStream(w, r)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.handleHealth(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin != "" && !isAllowedOrigin(origin) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return false
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, X-Attest-RPC-Token")
	return true
}

func (s *Server) authorizeRPC(w http.ResponseWriter, r *http.Request) bool {
	if s.rpcToken == "" && !s.requireRPC {
		return true
	}
	token := s.extractRPCToken(r)
	if token != s.rpcToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) extractRPCToken(r *http.Request) string {
	token := strings.TrimSpace(r.Header.Get("X-Attest-RPC-Token"))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}

func requiresRPCToken() bool {
	if v, ok := parseBoolEnv("ATTEST_REQUIRE_RPC_TOKEN"); ok {
		if !v && !isNonProdEnv() {
			// Fail-closed in production-like environments.
			return true
		}
		return v
	}
	return !isNonProdEnv()
}

func isNonProdEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ATTEST_ENV"))) {
	case "test", "testing", "dev", "development", "local":
		return true
	default:
		return false
	}
}

func isAllowedOrigin(raw string) bool {
	if raw == "null" {
		allowNull, _ := parseBoolEnv("ATTEST_ALLOW_NULL_ORIGIN")
		return allowNull
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.TrimSpace(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func parseBoolEnv(name string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func resolveRPCToken() (string, error) {
	token := strings.TrimSpace(os.Getenv("ATTEST_RPC_TOKEN"))
	rotate := strings.EqualFold(token, "auto")
	if !rotate {
		if v, ok := parseBoolEnv("ATTEST_RPC_TOKEN_ROTATE_ON_START"); ok && v {
			rotate = true
		}
	}
	if rotate {
		generated, err := generateRPCToken()
		if err != nil {
			return "", err
		}
		token = generated
		_ = os.Setenv("ATTEST_RPC_TOKEN", token)
		if err := persistRPCToken(token); err != nil {
			return "", err
		}
	}
	return token, nil
}

func generateRPCToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "rpc_" + hex.EncodeToString(buf), nil
}

func persistRPCToken(token string) error {
	pathValue := strings.TrimSpace(os.Getenv("ATTEST_RPC_TOKEN_FILE"))
	if pathValue == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(pathValue), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pathValue, []byte(token), 0o600)
}
