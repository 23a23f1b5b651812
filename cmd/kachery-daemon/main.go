// Command kachery-daemon runs one node: it loads its configuration,
// wires CAS/Downloader/SubfeedStore/HubCoordinator, and serves requests
// on its configured channels until signaled. There is no HTTP API (spec
// §1 Non-goals) — this is process lifecycle only.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kachery-network/kachery-daemon/internal/config"
	"github.com/kachery-network/kachery-daemon/internal/node"
)

// shutdownGrace is the deadline of the context handed to Shutdown.
// Shutdown only stops pubsub subscriptions; it does not wait for
// in-flight installs to drain.
const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("kachery-daemon: %v", err)
	}
}

func run() error {
	var configDir string
	flag.StringVar(&configDir, "config-dir", config.DefaultStorageDir(), "directory holding the daemon's config file and storage")
	flag.Parse()

	cfgPath := config.ConfigPath(configDir)
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		if !errors.Is(err, config.ErrConfigNotFound) {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = config.DefaultConfig()
		cfg.StorageDir = configDir
		if err := config.SaveConfig(cfgPath, cfg); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		log.Printf("kachery-daemon: wrote default config to %s", cfgPath)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	n, err := node.New(cfg, node.Options{})
	if err != nil {
		return fmt.Errorf("construct node: %w", err)
	}
	log.Printf("kachery-daemon: node %s joining %d channel(s)", n.Keypair.PublicKeyHex(), len(cfg.Channels))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n.Start()
	log.Printf("kachery-daemon: started, storage at %s", cfg.StorageDir)

	<-ctx.Done()
	log.Printf("kachery-daemon: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	n.Shutdown(shutdownCtx)
	return nil
}
