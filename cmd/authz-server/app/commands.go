// Package app provides the commands of the authz-server binary.
package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the commands, e.g.
// AUTHZ_LISTEN_ADDR for --listen-addr.
const EnvPrefix = "AUTHZ"

// Version is injected at build time.
var Version = "dev"

// NewRootCmd creates the root command with all subcommands. Every flag can
// also be set from the environment or a config file.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:               "authz-server",
		Short:             "OAuth 2.0 authorization server for extension grants",
		Version:           Version,
		DisableAutoGenTag: true,
		Long: `authz-server issues, introspects and revokes OAuth 2.0 tokens for the
resource owner password grant (including its organization specific alias),
the JWT bearer grant (RFC 7523) and one-time token login.

Authorizations and clients are kept in memory, SQLite, PostgreSQL or Valkey.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return fmt.Errorf("bind flags: %w", err)
			}
			if path := v.GetString("config"); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config %s: %w", path, err)
				}
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Path to a YAML, JSON or TOML config file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(newServeCmd(v))
	rootCmd.AddCommand(newMigrateCmd(v))
	rootCmd.AddCommand(newRegisterClientCmd(v))
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newHashPasswordCmd())

	return rootCmd
}

// newLogger builds the process logger from --log-level and --log-format.
func newLogger(v *viper.Viper, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", v.GetString("log-level"))
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", v.GetString("log-format"))
	}
}

func stderrLogger(v *viper.Viper) (*slog.Logger, error) {
	return newLogger(v, os.Stderr)
}
