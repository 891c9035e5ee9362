package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/transferwire/internal/config"
	"github.com/okian/transferwire/pkg/logger"
)

// cli holds state shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
	log logger.Logger
}

// setup loads configuration (defaults -> optional file -> env -> flags) and
// initializes logging.
func (c *cli) setup() error {
	path := c.configPath
	if path == "" {
		path = os.Getenv(config.EnvFile)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.logFormat != "" {
		cfg.LogFormat = c.logFormat
	}

	// Logs go to stderr; stdout carries command output.
	if err := logger.InitWithOptions(logger.Options{Format: cfg.LogFormat, Output: os.Stderr}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return fmt.Errorf("failed to set log level: %w", err)
	}
	c.cfg = cfg
	c.log = logger.Get()
	return nil
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "transferwire",
		Short:         "Football transfer news pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Configuration file path (defaults to $"+config.EnvFile+")")
	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&c.logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(newServeCommand(c))
	rootCmd.AddCommand(newSourcesCommand(c))
	rootCmd.AddCommand(newReplayCommand(c))

	return rootCmd
}
