package wire

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/alanyang/task-mesh/internal/config"
	ctrlsvc "github.com/alanyang/task-mesh/internal/service/controller"
	"github.com/alanyang/task-mesh/internal/service/executor"
	"github.com/alanyang/task-mesh/internal/service/worker"
	"github.com/alanyang/task-mesh/internal/transport/link"
)

// ControllerApp is a controller process: the service plus its link to the master.
type ControllerApp struct {
	Service *ctrlsvc.Service
	Link    *link.Client
}

func newRunner(cfg *config.Config) *worker.Runner {
	reg := executor.NewRegistry()
	executor.RegisterBuiltins(reg)
	return worker.NewRunner(reg, cfg.Cluster.PerTaskTimeout)
}

// BuildController wires a standalone controller that reaches the master over
// the websocket link.
func BuildController(ctx context.Context, cfg *config.Config, version string) (*ControllerApp, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "controller"
	}
	id := cfg.Controller.ID
	if id == "" {
		id = host + "-" + uuid.NewString()[:8]
	}
	address := cfg.Controller.Address
	if address == "" {
		address = host
	}
	poolSize := cfg.Cluster.WorkerPoolSize
	if poolSize == 0 {
		poolSize = ctrlsvc.DefaultPoolSize(ctx)
	}

	client := link.NewClient(link.ClientConfig{
		URL:                  cfg.Controller.MasterURL,
		ControllerID:         id,
		Codec:                cfg.Link.Codec,
		RequestTimeout:       cfg.Link.RequestTimeout,
		MaxReconnectInterval: cfg.Link.MaxReconnectInterval,
	}, nil)

	svc, err := ctrlsvc.New(ctrlsvc.Config{
		ID:                id,
		Address:           address,
		PoolSize:          poolSize,
		HeartbeatInterval: cfg.Cluster.HeartbeatInterval,
		ShutdownTimeout:   cfg.Controller.ShutdownTimeout,
		Version:           version,
	}, client, newRunner(cfg), ctrlsvc.WithMeta(ctrlsvc.HostMeta(ctx, version)))
	if err != nil {
		return nil, fmt.Errorf("building controller: %w", err)
	}
	client.SetHandler(svc)

	slog.Info("controller wired", "controller_id", id, "master_url", cfg.Controller.MasterURL, "pool_size", poolSize)
	return &ControllerApp{Service: svc, Link: client}, nil
}

// Run keeps the link up while the controller runs, so deregistration can
// still reach the master after ctx is cancelled.
func (a *ControllerApp) Run(ctx context.Context) error {
	linkCtx, stopLink := context.WithCancel(context.WithoutCancel(ctx))
	linkDone := make(chan struct{})
	go func() {
		defer close(linkDone)
		if err := a.Link.Run(linkCtx); err != nil && linkCtx.Err() == nil {
			slog.Error("controller link stopped", "error", err)
		}
	}()

	err := a.Service.Run(ctx)
	stopLink()
	<-linkDone
	return err
}
