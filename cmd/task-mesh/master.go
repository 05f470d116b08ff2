package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alanyang/task-mesh/internal/wire"
)

func newMasterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "master",
		Short: "Run the master",
		Long: `Run the master: accepts tasks over HTTP and MCP, tracks controllers
over the websocket link and dispatches work to them.

With database_url set, results are stored in Postgres, events travel over
LISTEN/NOTIFY and only one master may run against the database.`,
		Example: `  task-mesh master --port 9090
  task-mesh master --local-controllers 2
  DATABASE_URL=postgres://localhost/task_mesh task-mesh master`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, cancel := signalContext()
			defer cancel()

			app, err := wire.BuildMaster(ctx, cfg, Version)
			if err != nil {
				return err
			}
			if err := app.Run(ctx); err != nil {
				return err
			}
			slog.Info("task-mesh master stopped")
			return nil
		},
	}

	f := cmd.Flags()
	f.String("port", "", "HTTP listen port")
	f.Int("local-controllers", 0, "in-process controllers to run beside the master")
	f.Int("max-retries", 0, "redispatches before a task fails")
	f.Duration("heartbeat-timeout", 0, "silence before a controller is suspect")
	f.String("database-url", "", "Postgres connection string")
	f.String("redis-addr", "", "Redis address for the result stream")
	bindFlag(cmd, "port", "master.port")
	bindFlag(cmd, "local-controllers", "master.local_controllers")
	bindFlag(cmd, "max-retries", "cluster.max_retries")
	bindFlag(cmd, "heartbeat-timeout", "cluster.heartbeat_timeout")
	bindFlag(cmd, "database-url", "master.database_url")
	bindFlag(cmd, "redis-addr", "master.redis_addr")
	return cmd
}
