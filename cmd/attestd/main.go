package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"attestd/go-agent/internal/composition/agentserver"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	listenAddr := flag.String("listen-addr", "", "Loopback JSON-RPC listen address (default 127.0.0.1:8787)")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for keyring and profile data (optional)")
	rpcToken := flag.String("rpc-token", "", "RPC token for Authorization/X-Attest-RPC-Token (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("attestd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *rpcToken != "" {
		_ = os.Setenv("ATTEST_RPC_TOKEN", *rpcToken)
	}

	srv, err := agentserver.NewRPCServerWithOptions(*listenAddr, *configPath, *dataDir)
	if err != nil {
		log.Fatalf("attestd failed to initialize: %v", err)
	}

	log.Println("attestd starting")
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("attestd failed: %v", err)
	}
	log.Println("attestd stopped")
}
