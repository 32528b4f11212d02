package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/appcontext/environment"
)

// ErrUnsupportedFormat is returned for an unknown --format value
var ErrUnsupportedFormat = errors.New("unsupported output format")

type envOptions struct {
	format        string
	includeSystem bool
}

// NewEnvCommand creates the env command
func NewEnvCommand(global *globalOptions) *cobra.Command {
	opts := &envOptions{}
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print the resolved properties of the configured environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			zl, err := newLogger(global.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = zl.Sync() }()

			base := environment.New()
			if opts.includeSystem {
				base = environment.NewStandard()
			}
			env, err := loadEnvironment(base, global, zl)
			if err != nil {
				return err
			}
			return writeProperties(cmd.OutOrStdout(), env.Properties(), opts.format)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "yaml", "output format: yaml, toml or json")
	cmd.Flags().BoolVar(&opts.includeSystem, "include-system", false, "include system properties and the full process environment")
	return cmd
}

func writeProperties(w io.Writer, props map[string]string, format string) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(props); err != nil {
			return err
		}
		return enc.Close()
	case "toml":
		return toml.NewEncoder(w).Encode(props)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(props)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
