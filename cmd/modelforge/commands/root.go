// Package commands implements the modelforge command line.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ekisa-team/modelforge/internal/backend"
	"github.com/ekisa-team/modelforge/internal/backend/tvmc"
	"github.com/ekisa-team/modelforge/internal/cache"
	"github.com/ekisa-team/modelforge/internal/catalog"
	"github.com/ekisa-team/modelforge/internal/config"
	"github.com/ekisa-team/modelforge/internal/env"
	"github.com/ekisa-team/modelforge/internal/envvar"
	"github.com/ekisa-team/modelforge/internal/logger"
	"github.com/ekisa-team/modelforge/internal/metrics"
	"github.com/ekisa-team/modelforge/internal/service"
	"github.com/ekisa-team/modelforge/internal/source"
)

// options are shared by every command. The unexported hooks replace the network and the
// toolchain in tests.
type options struct {
	configPath string
	schemaPath string
	logFile    string
	logToFile  bool

	catalog  catalog.Catalog
	sources  *source.Registry
	runner   backend.CommandRunner
	registry *prometheus.Registry

	collector *metrics.Collector
}

// NewRootCmd returns the modelforge root command.
func NewRootCmd() *cobra.Command {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return newRootCmd(&options{registry: reg})
}

func newRootCmd(o *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "modelforge",
		Short:         "Fetch, compile and run pretrained models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logger.New(env.FromEnv(),
				logger.WithLogToFile(o.logToFile),
				logger.WithLogFile(o.logFile),
				logger.WithConsole(cmd.ErrOrStderr()),
			))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&o.configPath, "config", config.DefaultConfigFile(), "Path to config file")
	flags.StringVar(&o.schemaPath, "schema", "", "Path to schema file (defaults to the embedded schema)")
	flags.StringVar(&o.logFile, "log-file", "logs/modelforge.log", "Path to the rotating log file")
	flags.BoolVar(&o.logToFile, "log-to-file", true, "Also write JSON logs to --log-file")

	rootCmd.AddCommand(
		newKindsCmd(o),
		newFetchCmd(o),
		newCompileCmd(o),
		newRunCmd(o),
		newWatchCmd(o),
		newServeCmd(o),
	)
	return rootCmd
}

// loadConfig reads the config file, or the defaults when the default file does not exist,
// then applies MODELFORGE_TVMC and the command line overrides.
func (o *options) loadConfig(cmd *cobra.Command, f *compileFlags) (*config.CompileConfig, error) {
	cfg := config.Default()

	_, statErr := os.Stat(o.configPath)
	if cmd.Flags().Changed("config") || statErr == nil {
		loaded, err := config.LoadAndValidate(o.configPath, o.schemaPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", statErr)
	}

	applyEnv(cfg)

	if f != nil {
		if err := f.apply(cmd, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv lets MODELFORGE_TVMC point at the toolchain binary.
func applyEnv(cfg *config.CompileConfig) {
	if bin := os.Getenv(envvar.ModelforgeTVMC); bin != "" {
		cfg.Toolchain.Binary = bin
	}
}

func (o *options) metrics() *metrics.Collector {
	if o.collector == nil && o.registry != nil {
		o.collector = metrics.NewCollector(o.registry)
	}
	return o.collector
}

func (o *options) cacheOptions() []cache.Option {
	var opts []cache.Option
	if o.catalog != nil {
		opts = append(opts, cache.WithCatalog(o.catalog))
	}
	if o.sources != nil {
		opts = append(opts, cache.WithSources(o.sources))
	}
	return opts
}

// newForge builds the service for cfg. The returned registry owns the backend and must be
// closed by the caller.
func (o *options) newForge(ctx context.Context, cfg *config.CompileConfig) (*service.Forge, *backend.Registry, error) {
	var topts []tvmc.Option
	if o.runner != nil {
		topts = append(topts, tvmc.WithCommandRunner(o.runner))
	}

	b, err := service.NewBackend(ctx, cfg.Toolchain, topts...)
	if err != nil {
		return nil, nil, err
	}

	backends := backend.NewRegistry()
	if err := backends.Register(b); err != nil {
		return nil, nil, err
	}

	m := o.metrics()
	loaders := service.NewLoaders(cfg.Fetch, m, o.cacheOptions()...)

	return service.New(backends, loaders, m), backends, nil
}
