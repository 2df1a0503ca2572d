// Package agentserver wires the agent core and its RPC transport.
package agentserver

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"attestd/go-agent/internal/adapters/rpc"
	"attestd/go-agent/internal/agentconfig"
	"attestd/go-agent/internal/app"
	"attestd/go-agent/internal/keyring"
	"attestd/go-agent/internal/platform/privacylog"
)

// NewRPCServerWithOptions builds the assertion service from config and
// binds it to the loopback RPC transport. Flag values override config
// file values, which override defaults.
func NewRPCServerWithOptions(listenAddr, configPath, dataDir string) (*rpc.Server, error) {
	cfg := agentconfig.LoadFromPath(configPath)
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	logger := slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stderr, nil)))
	slog.SetDefault(logger)

	svc, err := buildService(cfg, logger)
	if err != nil {
		return nil, err
	}
	return rpc.NewServerWithService(cfg, svc, logger), nil
}

func buildService(cfg agentconfig.Config, logger *slog.Logger) (*app.Service, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, err
	}
	keys := keyring.NewManager(filepath.Join(cfg.DataDir, "keyring"), logger)
	profiles := app.NewProfileStore(filepath.Join(cfg.DataDir, "profile.json"))
	metrics := app.NewMetrics(prometheus.DefaultRegisterer)
	return app.NewService(keys, profiles, metrics, logger, app.Options{
		ConsentTimeout:    cfg.ConsentTimeout,
		CollectOnFirstUse: cfg.CollectOnFirstUse,
	})
}
