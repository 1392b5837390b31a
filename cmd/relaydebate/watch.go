package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/relaydebate/internal/debate"
	"github.com/agentworkforce/relaydebate/internal/debateclient"
)

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var (
		baseURL       string
		token         string
		debateID      string
		rawRole       string
		cursor        string
		retryInterval time.Duration
		retryJitter   float64
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a debate as proposer or opponent and print each new argument",
		RunE: func(cmd *cobra.Command, _ []string) error {
			role, ok := debate.ParseRole(rawRole)
			if !ok || role == debate.RoleArbitrator {
				return fmt.Errorf("--role must be proposer or opponent")
			}
			if strings.TrimSpace(debateID) == "" {
				return fmt.Errorf("--debate is required")
			}
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()
			if baseURL == "" {
				baseURL = envOrDefault("RELAYDEBATE_BASE_URL", "http://"+cfg.Server.Addr)
			}
			if token == "" {
				token = envOrDefault("RELAYDEBATE_TOKEN", cfg.Server.AuthToken)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := debateclient.NewClient(baseURL, token, nil)
			out := cmd.OutOrStdout()
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))
			for {
				err := client.Follow(ctx, debateID, role, cursor, func(result debate.WaitResult) error {
					cursor = result.Argument.ID
					printArgument(out, *result.Argument)
					fmt.Fprintf(out, "   -> %s (%s)\n", result.Action, result.DebateState)
					return nil
				})
				switch {
				case err == nil, ctx.Err() != nil:
					return nil
				case !retryable(err):
					return err
				}
				delay := jitteredIntervalWithSample(retryInterval, retryJitter, rng.Float64())
				log.Warn("watch interrupted; retrying", "debate_id", debateID, "delay", delay.String(), "error", err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(delay):
				}
			}
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "server base URL (default http://<server.addr>)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (default RELAYDEBATE_TOKEN or server.auth_token)")
	cmd.Flags().StringVar(&debateID, "debate", "", "debate id")
	cmd.Flags().StringVar(&rawRole, "role", "", "proposer or opponent")
	cmd.Flags().StringVar(&cursor, "cursor", "", "last argument id already seen; empty starts from the latest")
	cmd.Flags().DurationVar(&retryInterval, "retry-interval", 2*time.Second, "pause before reconnecting after an error")
	cmd.Flags().Float64Var(&retryJitter, "retry-jitter", 0.2, "retry interval jitter ratio (0.0-1.0)")
	return cmd
}

// retryable reports whether watch should reconnect after err. Request
// errors the server rejected outright are final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	for _, final := range []error{debate.ErrNotFound, debate.ErrInvalidInput, debate.ErrUnauthorized, debate.ErrActionNotAllowed} {
		if errors.Is(err, final) {
			return false
		}
	}
	return true
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
