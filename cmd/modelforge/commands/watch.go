package commands

import (
	"context"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ekisa-team/modelforge/internal/config"
)

func newWatchCmd(o *options) *cobra.Command {
	var flags compileFlags
	c := &cobra.Command{
		Use:   "watch",
		Short: "Recompile whenever the config file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Reloads run on the watcher goroutine and must not overlap a running compile.
			var mu sync.Mutex
			recompile := func(cfg *config.CompileConfig) {
				mu.Lock()
				defer mu.Unlock()

				cfg = cfg.Clone()
				applyEnv(cfg)
				if err := flags.apply(cmd, cfg); err != nil {
					slog.Error("Failed to apply flags to config", "error", err)
					return
				}
				if err := o.compile(ctx, cfg); err != nil {
					slog.Error("Failed to compile model", "kind", cfg.Model.Kind, "error", err)
				}
			}

			watcher, err := config.NewWatcher(o.configPath, o.schemaPath, func(cfg *config.CompileConfig, err error) {
				if err != nil {
					slog.Error("Failed to reload config", "error", err)
					return
				}
				recompile(cfg)
			})
			if err != nil {
				return err
			}
			defer watcher.Close()

			slog.Info("Config loaded successfully", "config", o.configPath, "schema", o.schemaPath)
			recompile(watcher.Snapshot())

			<-ctx.Done()
			slog.Info("Stopped watching config", "config", o.configPath)
			return nil
		},
	}
	flags.register(c)
	return c
}

// compile builds a fresh service for cfg, so toolchain changes take effect on reload.
func (o *options) compile(ctx context.Context, cfg *config.CompileConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	forge, backends, err := o.newForge(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	res, err := forge.Compile(ctx, cfg, true)
	if err != nil {
		return err
	}

	slog.Info("Bundle ready", "kind", cfg.Model.Kind, "manifest", res.Paths.Manifest, "reused", res.Reused)
	return nil
}
