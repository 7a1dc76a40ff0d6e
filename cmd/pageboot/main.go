package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dusk-indust/pageboot/internal/config"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootFlags are shared by every subcommand.
type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "pageboot",
		Short: "Bootstrap content pages in staged loads",
		Long: `pageboot runs the eager, lazy and delayed load stages of a content page,
activates the plugins the page qualifies for, and ships RUM signals to an
analytics collector.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file (default: pageboot.{yml,yaml,toml,json} in the working directory)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error, off")
	root.PersistentFlags().StringVar(&flags.LogFormat, "log-format", "", "log format: text or json")

	root.AddCommand(newRunCmd(flags), newCheckCmd(flags), newCollectCmd(flags), newTailCmd(flags))
	return root
}

// loadConfig resolves the configuration: file, then PAGEBOOT_* variables,
// then command-line flags.
func loadConfig(flags *rootFlags) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if flags.ConfigPath != "" {
		cfg, err = config.Load(flags.ConfigPath)
	} else {
		cfg, _, err = config.Discover(".")
	}
	if err != nil {
		return cfg, err
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}
	if flags.LogFormat != "" {
		cfg.Log.Format = flags.LogFormat
	}
	return cfg, cfg.Validate()
}
