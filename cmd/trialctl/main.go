// Command trialctl is a development tool for the trial API: it mints tokens
// and runs a heartbeat session against a running server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bianutri/backend/internal/client"
	"github.com/bianutri/backend/internal/domain"
	"github.com/bianutri/backend/internal/heartbeat"
	"github.com/bianutri/backend/internal/logging"
	"github.com/bianutri/backend/internal/service"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	baseURL   string
	token     string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "trialctl",
		Short:         "Development client for the trial API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(logging.Config{Format: opts.logFormat, Level: opts.logLevel, Component: "trialctl"})
		},
	}

	cmd.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("TRIAL_API_URL", "http://localhost:4001"), "trial API base URL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("TRIAL_API_TOKEN"), "bearer token")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "log format (console, json, auto)")

	cmd.AddCommand(newTokenCmd(), newStatusCmd(opts), newHeartbeatCmd(opts))
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		secret string
		userID string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			if userID == "" {
				userID = uuid.NewString()
			}
			token, err := service.NewAuthService(secret).IssueToken(userID, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "JWT signing secret")
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject); a random UUID when empty")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the caller's access status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(opts.baseURL, opts.token, nil)
			access, err := c.Access(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), access)
		},
	}
}

func newHeartbeatCmd(opts *rootOptions) *cobra.Command {
	var (
		start    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Meter a foreground session until the trial runs out or the process is interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runHeartbeat(ctx, client.New(opts.baseURL, opts.token, nil), start, interval, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&start, "start", false, "start the trial first if it has not started")
	cmd.Flags().DurationVar(&interval, "interval", 0, "override the server heartbeat interval")
	return cmd
}

func runHeartbeat(ctx context.Context, c *client.Client, start bool, interval time.Duration, out io.Writer) error {
	cfg, err := c.TrialConfig(ctx)
	if err != nil {
		return fmt.Errorf("load trial config: %w", err)
	}
	if interval <= 0 {
		interval = cfg.HeartbeatInterval()
	}

	profile, err := c.Profile(ctx)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	userID := profile.UserID

	access, err := c.Access(ctx)
	if err != nil {
		return err
	}
	if access.Trial == nil {
		return fmt.Errorf("no profile: %s", access.Status)
	}

	if start && access.Trial.TrialStartedAt == nil {
		if _, err := c.Start(ctx, userID); err != nil {
			return fmt.Errorf("start trial: %w", err)
		}
		if access, err = c.Access(ctx); err != nil {
			return err
		}
	}

	finished := make(chan domain.AccessStatus, 1)
	rejected := make(chan error, 1)
	poller := heartbeat.New(c, heartbeat.Config{
		UserID:   userID,
		Interval: interval,
		Limit:    cfg.LimitSeconds,
		Logger:   log.Logger,
		OnStatus: func(s domain.AccessStatus) {
			if !s.Allowed() {
				finished <- s
			}
		},
		OnError: func(err error) {
			if heartbeat.Fatal(err) {
				rejected <- err
				return
			}
			log.Warn().Err(err).Msg("Heartbeat failed, retrying on next tick")
		},
	})

	err = poller.Start(ctx, heartbeat.Session{
		Profile:            access.Trial.Profile,
		SubscriptionActive: access.SubscriptionActive,
		Foreground:         true,
	})
	if err != nil {
		fmt.Fprintf(out, "not metering: status=%s subscription_active=%t\n", access.Status, access.SubscriptionActive)
		return nil
	}
	log.Info().Str("user_id", userID).Dur("interval", interval).Msg("Heartbeat started")

	select {
	case <-ctx.Done():
		poller.Stop()
	case s := <-finished:
		poller.Stop()
		fmt.Fprintf(out, "trial finished: status=%s\n", s)
	case err := <-rejected:
		poller.Stop()
		return fmt.Errorf("heartbeat rejected: %w", err)
	}
	p := poller.Profile()
	return printJSON(out, domain.NewProfileResponse(&p, cfg.LimitSeconds))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
