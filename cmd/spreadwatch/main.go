// Command spreadwatch is the process entry point: it loads configuration,
// builds the composition root, and runs the poller/HTTP stack until an
// interrupt signal arrives. Wiring style follows the teacher's
// cmd/cryptorun/main.go (cobra root command, zerolog console writer).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/spreadwatch/internal/app"
	"github.com/sawpanic/spreadwatch/internal/config"
)

const appName = "spreadwatch"

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	root := &cobra.Command{
		Use:     appName,
		Short:   "Cross-venue perpetual-futures spread monitor",
		Long:    "spreadwatch polls paired perpetual-futures markets across two venues, computes rolling spread statistics, and serves the enriched samples over HTTP and WebSocket.",
		Version: "0.1.0",
		RunE:    runServe,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (defaults are used when omitted)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pollers and the HTTP/WS server (default command)",
		RunE:  runServe,
	}
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("spreadwatch exited")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Int("pairs", len(cfg.Pairs)).
		Msg("spreadwatch starting")

	return application.Run(ctx)
}
