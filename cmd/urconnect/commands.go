package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"urconnect/internal/auth"
	appLog "urconnect/internal/log"
	"urconnect/internal/portal"
	"urconnect/internal/web"
)

func newTimetableCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "timetable",
		Short: "Print the personal timetable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, tt, err := fetch(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), portal.FormatEntries(tt.Entries))
			if tt.Skipped > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d malformed records skipped\n", tt.Skipped)
			}
			return nil
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the personal timetable as an iCalendar file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, tt, err := fetch(cmd.Context(), opts)
			if err != nil {
				return err
			}
			body, err := client.ExportICS(tt.Entries)
			if err != nil {
				return errors.Wrap(err, "[export] ExportICS")
			}
			if output == "" || output == "-" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), body)
				return err
			}
			if err := os.WriteFile(output, []byte(body), 0o600); err != nil {
				return errors.Wrap(err, "[export] write")
			}
			appLog.Info("timetable exported", "path", output, "entries", len(tt.Entries))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file, - for stdout")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Refresh the timetable on a schedule and serve it over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, pass, err := credentials()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			// CLI --listen overrides config file listen if provided.
			if listen != "" {
				cfg.Listen = listen
			}
			client, err := portal.New(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			srv := web.NewServer(cfg)
			r := &refresher{client: client, server: srv, user: user, pass: pass}
			r.run(ctx)

			sched := cron.New(
				cron.WithLocation(cfg.Location()),
				cron.WithLogger(cronLogger{}),
				cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
			)
			if _, err := sched.AddFunc(cfg.RefreshCron, func() { r.run(ctx) }); err != nil {
				return errors.Wrapf(err, "[serve] invalid refresh schedule %q", cfg.RefreshCron)
			}
			sched.Start()
			defer func() {
				<-sched.Stop().Done()
			}()
			appLog.Info("refresh scheduled", "cron", cfg.RefreshCron)

			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config)")
	return cmd
}

// refresher runs one login-and-fetch cycle and publishes the result.
// Runs never overlap: the first one happens before the scheduler starts
// and the scheduler skips runs while one is still going.
type refresher struct {
	client *portal.Client
	server *web.Server
	user   string
	pass   string
}

func (r *refresher) run(ctx context.Context) {
	start := time.Now()
	if r.client.State() != auth.Authenticated {
		if err := r.client.Login(ctx, r.user, r.pass); err != nil {
			r.server.Fail(err)
			return
		}
	}
	tt, err := r.client.GetTimetable(ctx)
	if err != nil {
		appLog.Error("timetable refresh failed", err)
		r.server.Fail(err)
		// The portal session may have expired; start over next time.
		if err := r.client.Login(ctx, r.user, r.pass); err != nil {
			appLog.Error("re-login failed", err)
		}
		return
	}
	r.server.Update(tt)
	appLog.Info("timetable refreshed", "entries", len(tt.Entries), "duration_ms", time.Since(start).Milliseconds())
}

// cronLogger routes scheduler messages to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
