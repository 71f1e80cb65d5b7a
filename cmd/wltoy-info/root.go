package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var globalOpts struct {
	verbose    bool
	configPath string
	display    string
	format     string
	portal     bool
}

var logger *slog.Logger

var rootCmd = &cobra.Command{
	Use:   "wltoy-info",
	Short: "Report the Wayland globals, outputs and seats wltoy sees",
	Long: `wltoy-info connects to the compositor the same way a wltoy application does
and prints the advertised globals, outputs, seats and shm formats together with
the configuration in effect.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()
		switch globalOpts.format {
		case formatText, formatJSON, formatYAML:
			return nil
		}
		return fmt.Errorf("unknown format %q (want text, json or yaml)", globalOpts.format)
	},
	RunE: runInfo,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wltoy-info:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: ~/.config/wltoy/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&globalOpts.format, "format", "f", formatText,
		"Output format: text, json or yaml")
	rootCmd.Flags().StringVarP(&globalOpts.display, "display", "d", "",
		"Wayland display socket (default: $WAYLAND_DISPLAY)")
	rootCmd.Flags().BoolVar(&globalOpts.portal, "portal", true,
		"Ask the desktop portal for cursor settings")
}

// setupLogger logs text to a terminal and JSON otherwise, always on stderr.
func setupLogger() {
	level := slog.LevelWarn
	if globalOpts.verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger = slog.New(handler)
	slog.SetDefault(logger)
}
