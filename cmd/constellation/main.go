package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/constellation/pkg/logger"
	"github.com/ajitpratap0/constellation/pkg/observability"
)

var version = "0.1.0"

const envPrefix = "CONSTELLATION"

// globalFlags are shared by every command.
type globalFlags struct {
	configFile    string
	logLevel      string
	logEncoding   string
	enableTracing bool
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	var shutdownTracing func(context.Context) error

	root := &cobra.Command{
		Use:   "constellation",
		Short: "Constellation - progressive explorer for sharded point datasets",
		Long: `Constellation loads a sharded point dataset progressively, materializes
attribute columns on demand, filters and samples records for rendering.

Every flag can also be set through the environment as CONSTELLATION_<FLAG>,
with dashes replaced by underscores (e.g. CONSTELLATION_LOG_LEVEL=debug).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setAllConfig(viper.New(), cmd.Flags()); err != nil {
				return err
			}
			if err := logger.Init(logger.Config{Level: g.logLevel, Encoding: g.logEncoding}); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			if g.enableTracing {
				shutdown, err := observability.InitTracing(observability.TracingConfig{
					ServiceName:    "constellation",
					ServiceVersion: version,
					SamplingRate:   1,
				})
				if err != nil {
					return fmt.Errorf("failed to initialize tracing: %w", err)
				}
				shutdownTracing = shutdown
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if shutdownTracing != nil {
				if err := shutdownTracing(context.Background()); err != nil {
					return err
				}
			}
			_ = logger.Sync()
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configFile, "config", "c", "", "Path to the dataset YAML file (required)")
	pf.StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&g.logEncoding, "log-encoding", "console", "Log encoding (json, console)")
	pf.BoolVar(&g.enableTracing, "enable-tracing", false, "Export OpenTelemetry spans to stdout")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Constellation v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newInspectCommand(g))
	root.AddCommand(newFrameCommand(g))
	root.AddCommand(newServeMetricsCommand(g))
	root.AddCommand(newInitConfigCommand())
	return root
}

// setAllConfig fills every flag that was not given on the command line from
// the environment (CONSTELLATION_<FLAG>). Flags set explicitly win.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		var value string
		switch f.Value.Type() {
		case "stringSlice", "stringArray":
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		default:
			value = v.GetString(f.Name)
		}
		if value == "" || value == f.DefValue {
			return
		}
		if err := f.Value.Set(value); err != nil {
			flagErr = fmt.Errorf("invalid value %q for %s: %w", value, f.Name, err)
		}
	})
	return flagErr
}
