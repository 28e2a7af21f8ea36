// Command iamdeploy-agent is a simulated management agent. It speaks the
// channel protocol on stdin and stdout and keeps entities in memory, or in a
// state file when --state is given, so the exec channel can be driven without
// a real access management server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/iamdeploy/pkg/catalog"
	"github.com/openfroyo/iamdeploy/pkg/channel/agentsim"
)

func main() {
	// stdout carries the protocol; logs go to stderr
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("LOG_LEVEL") == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("agent failed")
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		statePath string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:           "iamdeploy-agent",
		Short:         "Simulated management agent for the exec channel",
		Version:       agentsim.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ttl > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, ttl)
				defer cancel()
			}

			agent := agentsim.New(catalog.Default())
			if statePath != "" {
				if err := agent.LoadState(statePath); err != nil {
					return err
				}
			}

			log.Debug().Str("state", statePath).Dur("ttl", ttl).Msg("agent starting")
			serveErr := agent.Serve(ctx, os.Stdin, os.Stdout)

			if statePath != "" {
				if err := agent.SaveState(statePath); err != nil {
					return err
				}
			}
			log.Debug().Int("calls", agent.Calls()).Msg("agent stopped")
			return serveErr
		},
	}

	cmd.Flags().StringVar(&statePath, "state", "", "JSON file the simulated entities are loaded from and saved to")
	cmd.Flags().DurationVar(&ttl, "ttl", 10*time.Minute, "exit after this long; 0 disables the limit")
	return cmd
}
