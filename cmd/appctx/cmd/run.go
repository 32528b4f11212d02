package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GoCodeAlone/appcontext"
	"github.com/GoCodeAlone/appcontext/admin"
	"github.com/GoCodeAlone/appcontext/environment"
	"github.com/GoCodeAlone/appcontext/registry"
	"github.com/GoCodeAlone/appcontext/schedule"
)

// AdminComponentName is the name of the admin server component
const AdminComponentName = "adminServer"

type runOptions struct {
	name         string
	adminAddr    string
	noAdmin      bool
	watch        bool
	phaseTimeout time.Duration
	requires     []string
}

// NewRunCommand creates the run command
func NewRunCommand(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Refresh an application context and run it until interrupted",
		Long: `Run refreshes an application context with a cron scheduler and an admin
HTTP server, then blocks until SIGINT or SIGTERM closes it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			zl, err := newLogger(global.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = zl.Sync() }()

			c, err := buildContext(global, opts, zl)
			if err != nil {
				return err
			}
			err = c.RunContext(cmd.Context())
			var warning *appcontext.ShutdownWarning
			if errors.As(err, &warning) {
				zl.Sugar().Warnw("Context closed with warnings", "error", warning.Err)
				return nil
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.name, "name", "appctx", "display name of the context")
	flags.StringVar(&opts.adminAddr, "admin-addr", "", "admin server address, overrides the admin.address property")
	flags.BoolVar(&opts.noAdmin, "no-admin", false, "do not start the admin server")
	flags.BoolVar(&opts.watch, "watch", false, "reload configuration files when they change")
	flags.DurationVar(&opts.phaseTimeout, "phase-timeout", 30*time.Second, "time allowed for each lifecycle phase to stop")
	flags.StringSliceVar(&opts.requires, "require", nil, "property that must be present at refresh")
	return cmd
}

func buildContext(global *globalOptions, opts *runOptions, zl *zap.Logger) (*appcontext.Context, error) {
	logger := appcontext.NewZapLogger(zl)
	env, err := loadEnvironment(environment.NewStandard(), global, zl)
	if err != nil {
		return nil, err
	}
	env.SetRequiredProperties(opts.requires...)

	prov := registry.NewGenericProvisioner()
	reg := prov.Registry()
	if err := schedule.Register(reg, schedule.New(schedule.WithLogger(logger))); err != nil {
		return nil, err
	}
	if !opts.noAdmin {
		def := admin.Definition(AdminComponentName)
		if opts.adminAddr != "" {
			def.WithProperty(admin.PropertyAddress, opts.adminAddr)
		}
		if err := reg.RegisterDefinition(def); err != nil {
			return nil, err
		}
	}

	contextOpts := []appcontext.Option{
		appcontext.WithDisplayName(opts.name),
		appcontext.WithLogger(logger),
		appcontext.WithEnvironment(env),
		appcontext.WithProvisioner(prov),
		appcontext.WithPhaseTimeout(opts.phaseTimeout),
	}
	if opts.watch {
		contextOpts = append(contextOpts, appcontext.WithEnvironmentWatch())
	}
	return appcontext.New(contextOpts...)
}
