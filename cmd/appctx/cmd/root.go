package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GoCodeAlone/appcontext/environment"
	"github.com/GoCodeAlone/appcontext/feeders"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// DefaultEnvPrefix selects the process variables exposed as properties
const DefaultEnvPrefix = "APPCTX_"

const prefixedEnvironmentSource = "prefixedEnvironment"

// globalOptions are shared by every subcommand
type globalOptions struct {
	configs   []string
	envPrefix string
	verbose   bool
}

// NewRootCommand creates the root command for the appctx application
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "appctx",
		Short: "appctx - run and inspect an application context",
		Long: `appctx boots an application context from configuration files and
environment variables, or prints the properties such a context would see.`,
		Version:       PrintVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringSliceVarP(&opts.configs, "config", "c", nil, "configuration file (yaml, toml, json or .env); repeat for more, earlier files win")
	flags.StringVar(&opts.envPrefix, "env-prefix", DefaultEnvPrefix, "prefix of environment variables mapped to properties")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable development logging and verbose feeder output")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewEnvCommand(opts))
	return cmd
}

// PrintVersion prints version information
func PrintVersion() string {
	return fmt.Sprintf("v%s (commit: %s, built on: %s)", Version, Commit, Date)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config = zap.NewDevelopmentConfig()
	}
	return config.Build()
}

// loadEnvironment layers the prefixed process environment over the
// configuration files. Sources from base keep their precedence.
func loadEnvironment(base *environment.Environment, opts *globalOptions, logger *zap.Logger) (*environment.Environment, error) {
	debug := logger.Sugar()
	for _, path := range opts.configs {
		feeder, err := feeders.ForFile(path)
		if err != nil {
			return nil, err
		}
		feeder.SetVerboseDebug(opts.verbose, zapDebug{debug})
		if err := base.AddFeeder(path, feeder); err != nil {
			return nil, err
		}
	}

	if opts.envPrefix == "" {
		return base, nil
	}
	envFeeder := feeders.NewEnvFeeder(strings.ToUpper(opts.envPrefix))
	envFeeder.SetVerboseDebug(opts.verbose, zapDebug{debug})
	props, err := envFeeder.FeedProperties()
	if err != nil {
		return nil, err
	}
	if err := base.AddFirst(environment.NewMapSource(prefixedEnvironmentSource, props)); err != nil {
		return nil, err
	}
	return base, nil
}

// zapDebug adapts a sugared logger to feeders.DebugLogger
type zapDebug struct {
	sugar *zap.SugaredLogger
}

func (d zapDebug) Debug(msg string, args ...any) {
	d.sugar.Debugw(msg, args...)
}
