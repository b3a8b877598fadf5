package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"classattend/internal/app"
	"classattend/internal/auth"
	"classattend/internal/config"
	"classattend/internal/logger"
	"classattend/internal/notify"
	"classattend/internal/schedule"
)

// Worker runs scheduled sweeps, one-off sweeps and the notification relay.
func main() {
	cfg := config.Load()
	log := logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd(cfg, log).ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("worker failed")
		os.Exit(1)
	}
}

func rootCmd(cfg config.App, log *logrus.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Attendance sweeps and notification relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(cfg, log), sweepCmd(cfg, log), relayCmd(cfg, log), tokenCmd(cfg))
	return root
}

func runCmd(cfg config.App, log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sweep every classroom on the configured schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := app.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			runner := schedule.NewRunner(a.Sweeper, cfg.SweepRetries, cfg.SweepTimeout, log)
			return runner.Start(ctx, cfg.SweepSchedule)
		},
	}
}

func sweepCmd(cfg config.App, log *logrus.Logger) *cobra.Command {
	var (
		classroom string
		at        string
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Sweep one classroom (or all) once and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				ref = parsed
			}
			ctx := cmd.Context()
			a, err := app.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			type output struct {
				ClassroomID string   `json:"classroomId"`
				Late        int      `json:"markedLate"`
				Absent      int      `json:"markedAbsent"`
				Processed   int      `json:"processedSessions"`
				Skipped     int      `json:"skipped"`
				Errors      []string `json:"errors,omitempty"`
			}
			var out []output
			if classroom != "" {
				res, err := a.Sweeper.SweepClassroom(ctx, classroom, ref)
				if err != nil {
					return err
				}
				out = append(out, output{res.ClassroomID, res.MarkedLate, res.MarkedAbsent, res.ProcessedSessions, len(res.Skipped), res.ErrorStrings()})
			} else {
				results, err := a.Sweeper.SweepAll(ctx, ref)
				if err != nil {
					return err
				}
				for _, res := range results {
					out = append(out, output{res.ClassroomID, res.MarkedLate, res.MarkedAbsent, res.ProcessedSessions, len(res.Skipped), res.ErrorStrings()})
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&classroom, "classroom", "", "classroom id (default: all classrooms)")
	cmd.Flags().StringVar(&at, "at", "", "evaluation instant, RFC3339 (default: now)")
	return cmd
}

func relayCmd(cfg config.App, log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Consume the notification queue and log each notification",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := app.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Queue == nil {
				return errors.New("relay needs NOTIFY_BACKEND=redis or memory")
			}
			log.Info("relaying notifications")
			err = notify.Relay(ctx, a.Queue, notify.LogHandler(log), log)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func tokenCmd(cfg config.App) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := auth.Issue(subject, role, cfg.JWTIssuer, cfg.JWTSigningKey, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "student or instructor id")
	cmd.Flags().StringVar(&role, "role", auth.RoleStudent, "student or instructor")
	cmd.Flags().DurationVar(&ttl, "ttl", cfg.AccessTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
