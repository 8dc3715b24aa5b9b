package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"urconnect/internal/config"
	appLog "urconnect/internal/log"
	"urconnect/internal/portal"
)

const (
	envUser     = "UR_USER"
	envPassword = "UR_PASSWORD"
	envConfig   = "UR_CONFIG"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "urconnect",
		Short:         "Log in to the campus portal and fetch your personal timetable",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			appLog.SetLevel(appLog.ParseLevel(opts.logLevel))
		},
	}

	defaultConfig := os.Getenv(envConfig)
	if defaultConfig == "" {
		defaultConfig = "urconnect.yaml"
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfig, "Path to the YAML config file (created with defaults if missing)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	root.AddCommand(
		newTimetableCmd(opts),
		newExportCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// credentials reads the portal login from the environment.
func credentials() (string, string, error) {
	user, pass := os.Getenv(envUser), os.Getenv(envPassword)
	if user == "" || pass == "" {
		return "", "", errors.Errorf("set %s and %s to log in", envUser, envPassword)
	}
	return user, pass, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "[loadConfig] %s", path)
	}
	appLog.Debug("effective config",
		"config_path", path,
		"base_url", cfg.BaseURL,
		"timezone", cfg.Timezone,
		"source", cfg.Timetable.Source,
		"expand_days", cfg.ExpandDays,
		"cache_dir", cfg.CacheDir,
	)
	return cfg, nil
}

// fetch logs in and retrieves the timetable once.
func fetch(ctx context.Context, opts *rootOptions) (*portal.Client, *portal.Timetable, error) {
	user, pass, err := credentials()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	client, err := portal.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Login(ctx, user, pass); err != nil {
		return nil, nil, err
	}
	tt, err := client.GetTimetable(ctx)
	if err != nil {
		return nil, nil, err
	}
	return client, tt, nil
}
