// Command protobus runs the relay server and issues one-off calls on a bus.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drblury/protobus"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:          "protobus",
		Short:        "Name-addressed event bus between processes",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML or TOML client config")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	root.AddCommand(relayCmd())
	root.AddCommand(callCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() protobus.ServiceLogger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return protobus.NewSlogServiceLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig reads --config when given and falls back to an empty config.
func loadConfig() (*protobus.Config, error) {
	if configPath == "" {
		return &protobus.Config{}, nil
	}
	return protobus.LoadFile(configPath)
}
