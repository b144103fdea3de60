// Command verifier is the isolated assertion-verification worker. It reads
// one CBOR request from stdin, writes one CBOR reply to stdout and exits.
// It accepts the same configuration as the server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophid/internal/logging"
	"github.com/dmitrijs2005/gophid/internal/server/config"
	"github.com/dmitrijs2005/gophid/internal/server/verifier"
	"github.com/dmitrijs2005/gophid/internal/server/verifier/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// stdout carries the reply, so logs go to stderr
	logger := logging.NewJSON(os.Stderr, cfg.LogLevel).With("module", "verifier_worker")

	engine, _, err := verifier.FromConfig(cfg, logger)
	if err != nil {
		return err
	}
	return worker.ServeOne(context.Background(), engine, os.Stdin, os.Stdout)
}
