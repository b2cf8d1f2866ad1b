// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main runs the in-memory development backend.
//
// Settings come from the [server] section of the formchat config file and
// the FORMCHAT_DEV_* environment variables:
//
//	FORMCHAT_DEV_ADDR=127.0.0.1:9090 FORMCHAT_DEV_TOKEN=secret devbackend
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jeranaias/formchat/internal/config"
	"github.com/jeranaias/formchat/internal/logging"
	"github.com/jeranaias/formchat/internal/server"
	"github.com/jeranaias/formchat/internal/util"
)

const shutdownTimeout = 5 * time.Second

func main() {
	for _, arg := range os.Args[1:] {
		switch {
		case arg == "--help" || arg == "-h":
			printHelp()
			return
		case strings.HasPrefix(arg, "--addr="):
			os.Setenv(config.EnvPrefix+"DEV_ADDR", strings.TrimPrefix(arg, "--addr="))
		default:
			fmt.Fprintf(os.Stderr, "unknown argument: %s\n", arg)
			os.Exit(2)
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "devbackend: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   util.ExpandHome(cfg.Log.File),
	})
	if err != nil {
		return err
	}
	defer closer.Close()
	logger = logging.For(logger, logging.Server)

	srv := server.NewServer(cfg.Server.Addr).
		WithLogger(logger).
		WithToken(cfg.Server.Token).
		WithChunking(cfg.Server.ChunkSize, cfg.ChunkDelay())
	if rps := cfg.Server.RatePerSec; rps > 0 {
		srv.WithRateLimiter(server.NewRateLimiter(rps, max(1, int(math.Ceil(rps*2)))))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case err := <-errCh:
		return err
	case <-sigs:
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func printHelp() {
	fmt.Println(`devbackend - in-memory formchat backend for local development

Usage:
  devbackend [--addr=HOST:PORT]

Configuration ([server] in ~/.formchat/config.toml):
  addr            Listen address (FORMCHAT_DEV_ADDR)
  token           Required bearer token, empty to disable (FORMCHAT_DEV_TOKEN)
  chunk_size      Runes per streamed chunk (FORMCHAT_DEV_CHUNK_SIZE)
  chunk_delay_ms  Pause between chunks (FORMCHAT_DEV_CHUNK_DELAY_MS)
  rate_per_sec    Requests per second per client, 0 for no limit (FORMCHAT_DEV_RATE_PER_SEC)`)
}
