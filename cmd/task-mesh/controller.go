package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alanyang/task-mesh/internal/wire"
)

func newControllerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "controller",
		Short: "Run a controller that executes tasks for a master",
		Example: `  task-mesh controller --master ws://master:8080/api/link
  task-mesh controller --id edge-1 --workers 8 --codec msgpack`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, cancel := signalContext()
			defer cancel()

			app, err := wire.BuildController(ctx, cfg, Version)
			if err != nil {
				return err
			}
			if err := app.Run(ctx); err != nil {
				return err
			}
			slog.Info("task-mesh controller stopped", "controller_id", app.Service.ID())
			return nil
		},
	}

	f := cmd.Flags()
	f.String("master", "", "master link URL")
	f.String("id", "", "controller id (default: hostname plus random suffix)")
	f.Int("workers", 0, "worker pool size (default: one per CPU)")
	f.String("codec", "", "link codec: json or msgpack")
	bindFlag(cmd, "master", "controller.master_url")
	bindFlag(cmd, "id", "controller.id")
	bindFlag(cmd, "workers", "cluster.worker_pool_size")
	bindFlag(cmd, "codec", "link.codec")
	return cmd
}
