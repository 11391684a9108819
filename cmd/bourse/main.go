// Package main provides the bourse daemon - a multi-client TCP exchange
// server for a single instrument.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bourse-exchange/bourse/internal/config"
	"github.com/bourse-exchange/bourse/internal/server"
	"github.com/bourse-exchange/bourse/pkg/logging"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -p <port>\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	var (
		port       = flag.Int("p", 0, "TCP port to listen on (required)")
		configFile = flag.String("config", "", "Config file path (YAML)")
		logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	)
	flag.Usage = usage
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		usage()
		os.Exit(1)
	}

	log := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	srv := server.New(cfg)

	// SIGHUP requests graceful shutdown; other signals keep their OS
	// default behavior.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		log.Info("Received signal, shutting down", "signal", sig)
		srv.Shutdown()
	}()

	if err := srv.ListenAndServe(); err != nil {
		log.Fatal("Server failed", "error", err)
	}

	// Blocks until the signal-triggered shutdown has fully completed.
	srv.Shutdown()
}
