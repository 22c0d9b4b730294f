// Package config builds moxy's command-line surface and resolves process
// configuration — as opposed to the catalog file itself (internal/catalogpkg),
// which is a narrower, already-fully-specified concern (SPEC_FULL.md §2.3).
//
// Precedence, highest first: CLI flags > environment (MOXY_ prefix) > config
// file > defaults, via github.com/spf13/viper; the command surface itself is
// github.com/spf13/cobra.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Options is the resolved process configuration moxyd boots with.
type Options struct {
	CatalogPath string
	DBRoot      string
	LogMode     string
	Insecure    bool
	StrictWSS   bool

	// Overrides applied onto the loaded catalog at startup via
	// Catalog.ApplyStartupOverrides; empty strings mean "defer to the
	// catalog file" (spec.md §3 host/remote/build_mode are catalog-resident
	// fields these may override, not replace).
	Host      string
	Remote    string
	BuildMode string
}

func defaults() Options {
	return Options{
		CatalogPath: "./moxy.json",
		DBRoot:      "./db",
		LogMode:     "dev",
	}
}

// NewRootCommand builds the `moxyd` root command. run receives the fully
// resolved Options once flags, environment, and config file have all been
// merged by viper.
func NewRootCommand(run func(Options) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("moxy")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	d := defaults()
	v.SetDefault("catalog", d.CatalogPath)
	v.SetDefault("db", d.DBRoot)
	v.SetDefault("log_mode", d.LogMode)

	cmd := &cobra.Command{
		Use:   "moxyd",
		Short: "Record-and-replay HTTP/WebSocket proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(resolve(v))
		},
	}

	flags := cmd.Flags()
	flags.String("catalog", d.CatalogPath, "path to the catalog file")
	flags.String("db", d.DBRoot, "root directory for stored bodies")
	flags.String("config", "", "optional config file (yaml/json/toml)")
	flags.String("log-mode", d.LogMode, "logging mode: dev or prod")
	flags.Bool("insecure", false, "accept invalid upstream TLS certificates")
	flags.Bool("strict-wss", false, "rewrite https remotes to wss instead of the preserved ws quirk")
	flags.String("host", "", "override the catalog's listen host")
	flags.String("remote", "", "override the catalog's upstream remote")
	flags.String("build-mode", "", "override the catalog's build mode (Read|Write)")

	_ = v.BindPFlag("catalog", flags.Lookup("catalog"))
	_ = v.BindPFlag("db", flags.Lookup("db"))
	_ = v.BindPFlag("log_mode", flags.Lookup("log-mode"))
	_ = v.BindPFlag("insecure", flags.Lookup("insecure"))
	_ = v.BindPFlag("strict_wss", flags.Lookup("strict-wss"))
	_ = v.BindPFlag("host", flags.Lookup("host"))
	_ = v.BindPFlag("remote", flags.Lookup("remote"))
	_ = v.BindPFlag("build_mode", flags.Lookup("build-mode"))

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if path, _ := flags.GetString("config"); path != "" {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
		return nil
	}

	return cmd
}

func resolve(v *viper.Viper) Options {
	return Options{
		CatalogPath: v.GetString("catalog"),
		DBRoot:      v.GetString("db"),
		LogMode:     v.GetString("log_mode"),
		Insecure:    v.GetBool("insecure"),
		StrictWSS:   v.GetBool("strict_wss"),
		Host:        v.GetString("host"),
		Remote:      v.GetString("remote"),
		BuildMode:   v.GetString("build_mode"),
	}
}
