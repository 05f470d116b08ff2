package transport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alanyang/task-mesh/internal/domain/event"
	portcoord "github.com/alanyang/task-mesh/internal/port/coordinator"
	porteventbus "github.com/alanyang/task-mesh/internal/port/eventbus"

	controllerhandler "github.com/alanyang/task-mesh/internal/transport/controller"
	"github.com/alanyang/task-mesh/internal/transport/link"
	mcptransport "github.com/alanyang/task-mesh/internal/transport/mcp"
	taskhandler "github.com/alanyang/task-mesh/internal/transport/task"
	wshandler "github.com/alanyang/task-mesh/internal/transport/ws"
)

// Deps is everything the operator surface is built from. Optional parts may be nil.
type Deps struct {
	Coordinator portcoord.Coordinator
	EventBus    porteventbus.EventBus
	Link        *link.Server
	MCP         *mcptransport.Server
	Metrics     http.Handler
	History     taskhandler.History
	Cache       ResponseCache
	IdemTTL     time.Duration
}

func NewRouter(ctx context.Context, d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(CORSMiddleware())
	if d.Cache != nil {
		ttl := d.IdemTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		r.Use(IdempotencyMiddleware(d.Cache, ttl))
	}

	r.GET("/healthz", healthz(d.Coordinator))
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	api := r.Group("/api")

	tasks := api.Group("/tasks")
	taskhandler.Register(tasks, d.Coordinator)
	if d.History != nil {
		taskhandler.RegisterHistory(tasks, d.History)
	}
	controllerhandler.Register(api.Group("/controllers"), d.Coordinator)
	api.GET("/stats", stats(d.Coordinator))

	if d.Link != nil {
		d.Link.Register(api.Group("/link"))
	}
	if d.MCP != nil {
		r.Any("/mcp", gin.WrapH(d.MCP.Handler()))
	}

	hub := wshandler.NewHub()
	hub.Register(api.Group("/ws"))

	if d.EventBus != nil {
		// Heartbeats are in the controller channel but carry nothing for operators.
		for _, ch := range []event.Channel{event.ChannelTask, event.ChannelController} {
			c := ch
			if _, err := d.EventBus.Subscribe(ctx, c, func(_ context.Context, e event.Event) {
				if e.Type == event.TypeControllerHeartbeat {
					return
				}
				hub.Broadcast(e)
			}); err != nil {
				slog.Error("failed to subscribe channel to WS hub", "channel", c, "error", err)
			}
		}
		if d.MCP != nil {
			if _, err := d.EventBus.Subscribe(ctx, event.ChannelTask, d.MCP.Registry().Notify); err != nil {
				slog.Error("failed to subscribe MCP watchers", "error", err)
			}
		}
	}

	return r
}

func stats(coord portcoord.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := coord.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// healthz is healthy while the master loop answers.
func healthz(coord portcoord.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if _, err := coord.Stats(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
