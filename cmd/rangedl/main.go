package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/datallboy/rangedl/internal/app"
	"github.com/datallboy/rangedl/internal/infra/config"
	"github.com/datallboy/rangedl/internal/infra/logger"
)

var version = "dev"

type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "rangedl",
		Short:        "Segmented, resumable HTTP downloader",
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (default "+config.DefaultPath+")")

	cmd.AddCommand(
		newGetCmd(opts),
		newServeCmd(opts),
		newJobsCmd(opts),
		newConfigCmd(opts),
	)

	return cmd
}

// loadConfig reads .env (if present) and then the config file.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	return config.Load(o.configPath)
}

// bootstrap builds the shared application context for a command.
func (o *rootOptions) bootstrap() (*app.Context, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return app.NewContext(cfg, log), nil
}
