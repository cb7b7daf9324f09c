// Command cascade runs Cascade information reconciliation locally or over
// a TCP classical channel.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/brunorijsman/qkd-cascade/internal/config"
	pkgversion "github.com/brunorijsman/qkd-cascade/pkg/version"
)

// Build-time variables (set via -ldflags)
var (
	version   = ""        // Set via -ldflags "-X main.version=x.y.z"
	buildTime = "unknown" // Set via -ldflags "-X main.buildTime=..."
	gitCommit = "unknown" // Set via -ldflags "-X main.gitCommit=..."
)

func getVersion() string {
	if version != "" {
		return version
	}
	return pkgversion.String()
}

// globalFlags are shared by all commands.
type globalFlags struct {
	configFile string
	logLevel   string
	logFormat  string
	tracing    string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "cascade",
		Short: "Cascade QKD information reconciliation",
		Long: `cascade reconciles a noisy copy of a key against the original using the
Cascade protocol.

Run it locally against an in-process copy of Alice's key, or split the two
parties over TCP with 'serve' (Alice) and 'connect' (Bob).

Algorithms: original, yanetal, option7, option8`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error, silent")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "Log format: text or json")
	root.PersistentFlags().StringVar(&flags.tracing, "tracing", "none", "Tracing mode: none, simple, otel (requires -tags otel)")

	root.AddCommand(
		newReconcileCommand(flags),
		newServeCommand(flags),
		newConnectCommand(flags),
		newVersionCommand(),
	)
	return root
}

// load reads the configuration and applies command-line overrides.
func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	return cfg, cfg.Validate()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
