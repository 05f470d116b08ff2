package wire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/alanyang/task-mesh/internal/adapter/memory"
	pgdb "github.com/alanyang/task-mesh/internal/adapter/postgres"
	pgeventbus "github.com/alanyang/task-mesh/internal/adapter/postgres/eventbus"
	pglocker "github.com/alanyang/task-mesh/internal/adapter/postgres/locker"
	pgsink "github.com/alanyang/task-mesh/internal/adapter/postgres/sink"
	"github.com/alanyang/task-mesh/internal/adapter/prometheus"
	redissink "github.com/alanyang/task-mesh/internal/adapter/redis/sink"
	"github.com/alanyang/task-mesh/internal/adapter/resilient"
	"github.com/alanyang/task-mesh/internal/config"
	porteventbus "github.com/alanyang/task-mesh/internal/port/eventbus"
	porttransport "github.com/alanyang/task-mesh/internal/port/transport"
	ctrlsvc "github.com/alanyang/task-mesh/internal/service/controller"
	"github.com/alanyang/task-mesh/internal/service/master"
	"github.com/alanyang/task-mesh/internal/transport"
	"github.com/alanyang/task-mesh/internal/transport/link"
	mcptransport "github.com/alanyang/task-mesh/internal/transport/mcp"
	taskhandler "github.com/alanyang/task-mesh/internal/transport/task"
)

// MasterApp holds the top-level resources needed to run and gracefully stop a master.
type MasterApp struct {
	Master  *master.Master
	Server  *http.Server
	Link    *link.Server
	Results *memory.Sink
	Metrics *prometheus.Metrics

	cfg         *config.Config
	pool        *pgxpool.Pool
	redis       *goredis.Client
	locker      *pglocker.Locker
	network     *memory.Network
	local       []*ctrlsvc.Service
	stopReaper  func()
	stopBuilder context.CancelFunc
}

// MasterConfig maps file settings onto the coordination loop.
func MasterConfig(cfg *config.Config) master.Config {
	return master.Config{
		HeartbeatInterval: cfg.Cluster.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Cluster.HeartbeatTimeout,
		SuspectGrace:      cfg.Cluster.EffectiveSuspectGrace(),
		MaxRetries:        cfg.Cluster.MaxRetries,
		CheckInterval:     cfg.Master.CheckInterval,
		SendTimeout:       cfg.Link.RequestTimeout,
		ResultRetention:   cfg.Master.ResultRetention,
	}
}

// BuildMaster is the composition root for the master: the only place
// concrete types are wired to their interface dependencies.
func BuildMaster(ctx context.Context, cfg *config.Config, version string) (_ *MasterApp, err error) {
	// Subscriptions made here live until the app is closed, not until ctx ends.
	subCtx, stopSubs := context.WithCancel(context.WithoutCancel(ctx))
	app := &MasterApp{cfg: cfg, stopBuilder: stopSubs}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	// ── Storage ──────────────────────────────────────────────────────────────
	if cfg.Master.DatabaseURL != "" {
		if app.pool, err = pgdb.Connect(ctx, cfg.Master.DatabaseURL); err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		app.locker = pglocker.New(app.pool)
	}
	if cfg.Master.RedisAddr != "" {
		app.redis = goredis.NewClient(&goredis.Options{Addr: cfg.Master.RedisAddr})
		if err = app.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
	}

	// ── Adapters ─────────────────────────────────────────────────────────────
	var bus porteventbus.EventBus = memory.NewEventBus()
	if app.pool != nil {
		bus = pgeventbus.New(app.pool)
	}

	app.Results = memory.NewSink(cfg.Master.ResultBuffer)
	sinks := resilient.Fanout{app.Results}
	var history taskhandler.History = app.Results
	if app.pool != nil {
		pg := pgsink.New(app.pool)
		sinks = append(sinks, resilient.New("postgres", pg))
		history = pg
	}
	if app.redis != nil {
		sinks = append(sinks, resilient.New("redis", redissink.New(app.redis, redissink.WithStream(cfg.Master.RedisStream))))
	}

	app.Link = link.NewServer(nil, link.WithSendBuffer(cfg.Link.SendBuffer))
	var ctrlLink porttransport.ControllerLink = app.Link
	if cfg.Master.LocalControllers > 0 {
		app.network = memory.NewNetwork()
		ctrlLink = splitLink{local: app.network, remote: app.Link}
	}

	// ── Services ─────────────────────────────────────────────────────────────
	app.Master = master.New(MasterConfig(cfg), ctrlLink,
		master.WithSink(sinks),
		master.WithEventBus(bus),
	)
	app.Link.SetCoordinator(app.Master)
	if app.network != nil {
		app.network.SetCoordinator(app.Master)
	}

	app.Metrics = prometheus.New(app.Master)
	if err = app.Metrics.Subscribe(subCtx, bus); err != nil {
		return nil, fmt.Errorf("subscribing metrics: %w", err)
	}

	if cfg.Master.DeadControllerTTL > 0 {
		if app.stopReaper, err = startReaper(subCtx, app.Master, bus, cfg.Master.DeadControllerTTL); err != nil {
			return nil, fmt.Errorf("starting reaper: %w", err)
		}
	}

	for i := range cfg.Master.LocalControllers {
		id := fmt.Sprintf("local-%d", i+1)
		svc, err := newLocalController(ctx, cfg, version, id, app.network)
		if err != nil {
			return nil, err
		}
		app.local = append(app.local, svc)
	}

	// ── Transport ────────────────────────────────────────────────────────────
	mcpServer := mcptransport.New(mcptransport.NewWatchRegistry(), app.Master, version)
	router := transport.NewRouter(subCtx, transport.Deps{
		Coordinator: app.Master,
		EventBus:    bus,
		Link:        app.Link,
		MCP:         mcpServer,
		Metrics:     app.Metrics.Handler(),
		History:     history,
		Cache:       memory.NewCache(0),
		IdemTTL:     cfg.Master.IdempotencyTTL,
	})

	app.Server = &http.Server{
		Addr:              ":" + cfg.Master.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("master wired",
		"port", cfg.Master.Port,
		"postgres", app.pool != nil,
		"redis", app.redis != nil,
		"local_controllers", len(app.local),
	)
	return app, nil
}

func newLocalController(ctx context.Context, cfg *config.Config, version, id string, network *memory.Network) (*ctrlsvc.Service, error) {
	poolSize := cfg.Cluster.WorkerPoolSize
	if poolSize == 0 {
		poolSize = ctrlsvc.DefaultPoolSize(ctx)
	}
	meta := ctrlsvc.HostMeta(ctx, version)
	svc, err := ctrlsvc.New(ctrlsvc.Config{
		ID:                id,
		Address:           "local/" + id,
		PoolSize:          poolSize,
		HeartbeatInterval: cfg.Cluster.HeartbeatInterval,
		ShutdownTimeout:   cfg.Controller.ShutdownTimeout,
		Version:           version,
	}, network.Endpoint(id), newRunner(cfg), ctrlsvc.WithMeta(meta))
	if err != nil {
		return nil, fmt.Errorf("building controller %s: %w", id, err)
	}
	network.SetHandler(id, svc)
	return svc, nil
}

// Run serves until ctx is cancelled, then drains the cluster. With a
// database configured only one master may run against it at a time.
func (a *MasterApp) Run(ctx context.Context) error {
	if a.locker == nil {
		return a.serve(ctx)
	}
	err := a.locker.TryWithLock(ctx, pglocker.MasterLockKey, a.serve)
	if errors.Is(err, pglocker.ErrLockHeld) {
		return fmt.Errorf("another master is running against this database: %w", err)
	}
	return err
}

func (a *MasterApp) serve(ctx context.Context) error {
	defer a.close()

	loopCtx, stopLoop := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLoop()
	loopDone := make(chan error, 1)
	go func() { loopDone <- a.Master.Run(loopCtx) }()
	<-a.Master.Started()

	ctrlCtx, stopControllers := context.WithCancel(loopCtx)
	defer stopControllers()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("HTTP + MCP server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	for _, c := range a.local {
		g.Go(func() error {
			if err := c.Run(ctrlCtx); err != nil {
				return fmt.Errorf("local controller %s: %w", c.ID(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("master shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Master.ShutdownTimeout)
		defer cancel()
		if err := a.Master.Shutdown(shutdownCtx); err != nil {
			slog.Error("cluster drain incomplete", "error", err)
		}
		stopControllers()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		return nil
	})

	err := g.Wait()
	stopLoop()
	if loopErr := <-loopDone; err == nil {
		err = loopErr
	}
	return err
}

func (a *MasterApp) close() {
	if a.stopReaper != nil {
		a.stopReaper()
	}
	a.stopBuilder()
	if a.network != nil {
		a.network.Wait()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("closing redis client", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
