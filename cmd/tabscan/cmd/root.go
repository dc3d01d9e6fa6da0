package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/tabscan/internal/config"
	"github.com/MeKo-Tech/tabscan/internal/version"
)

var (
	// Global configuration, loaded before any subcommand runs.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
	// logger is built from the resolved log settings.
	logger = slog.Default()
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tabscan",
	Short: "Extract tables from scanned PDF documents into spreadsheets",
	Long: `tabscan renders every page of a scanned PDF, recognizes its text with
Tesseract, rebuilds the rows and columns of the tabular layout and writes the
result to an XLSX workbook or a CSV file.

Examples:
  tabscan extract register.pdf -o register.xlsx
  tabscan batch scans/ --output-dir out --combined
  tabscan serve --port 8080`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			cfg.Log.Level = "debug"
		}
		globalConfig = cfg
		logger = newLogger(cmd.ErrOrStderr(), cfg)
		slog.SetDefault(logger)
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $XDG_CONFIG_HOME/tabscan, $HOME/.config/tabscan, /etc/tabscan)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// loadConfig reads the config file, environment and bound flags.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadWithFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs go to w so that stdout stays
// free for command output.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// getConfig returns the loaded configuration, loading it on first use.
func getConfig() (*config.Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}
