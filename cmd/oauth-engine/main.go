// Command oauth-engine runs a standalone authorization server.
//
// Clients and users are read from a seed file; the engine configuration
// from a YAML file and OAUTH_ENGINE_ environment variables.
//
//	oauth-engine serve --config config.yaml --seed seed.yaml --signing-key key.pem
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var logLevel, logFormat string

	root := &cobra.Command{
		Use:           "oauth-engine",
		Short:         "OAuth 2.0 and OpenID Connect authorization server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")

	logger := func() (*slog.Logger, error) {
		return newLogger(logLevel, logFormat)
	}
	root.AddCommand(newServeCommand(logger))
	root.AddCommand(newHashCommand())
	return root
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
