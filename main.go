package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"expense-tracker-proxy/internal/config"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
)

// @title Expense Tracker Proxy API
// @version 1.0
// @description Relays exchange rate and icon search lookups so API credentials stay server side.
// @BasePath /

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalFlags are shared by every command
type globalFlags struct {
	envFile  string
	logLevel string
	port     string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "expense-proxy",
		Short:         "Credential-hiding proxy for the expense tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "path to a .env file (default: ./.env if present)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flags.port, "port", "", "listen port override")

	rootCmd.AddCommand(
		newServeCommand(flags, "serve", "Run both proxies", config.ServiceExchangeRate, config.ServiceIcons),
		newServeCommand(flags, string(config.ServiceExchangeRate), "Run only the exchange rate proxy", config.ServiceExchangeRate),
		newServeCommand(flags, string(config.ServiceIcons), "Run only the icon search proxy", config.ServiceIcons),
		newVersionCommand(),
	)

	return rootCmd
}

func newServeCommand(flags *globalFlags, use, short string, services ...config.Service) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, services)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, services)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "expense-proxy %s (commit %s)\n", version, commit)
		},
	}
}

// loadConfig reads the environment, applies flag overrides and validates the result
func loadConfig(flags *globalFlags, services []config.Service) (*config.Config, error) {
	cfg, err := config.Load(flags.envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.port != "" {
		cfg.Port = flags.port
	}

	if err := cfg.Validate(services...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
