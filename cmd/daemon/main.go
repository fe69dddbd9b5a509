// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/scrapecast/scrapecast/internal/config"
	"github.com/scrapecast/scrapecast/internal/daemon"
	"github.com/scrapecast/scrapecast/internal/log"
	"github.com/scrapecast/scrapecast/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("scrapecast %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scrapecast: %v\n", err)
		os.Exit(1)
	}

	log.Configure(log.Config{
		Level:   cfg.Log.Level,
		Service: "scrapecast",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.Run(ctx, cfg, version.Version); err != nil {
		log.WithComponent("daemon").Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}
