package integration_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyang/task-mesh/internal/adapter/memory"
	"github.com/alanyang/task-mesh/internal/domain/task"
	ctrlsvc "github.com/alanyang/task-mesh/internal/service/controller"
	"github.com/alanyang/task-mesh/internal/service/executor"
	"github.com/alanyang/task-mesh/internal/service/master"
	"github.com/alanyang/task-mesh/internal/service/worker"
	"github.com/alanyang/task-mesh/internal/transport/link"
)

func TestOverWebsocketLink(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, codec := range []string{link.CodecJSON, link.CodecMsgpack} {
		t.Run(codec, func(t *testing.T) {
			srv := link.NewServer(nil)
			sink := memory.NewSink(0)
			m := master.New(masterConfig(), srv, master.WithSink(sink))
			srv.SetCoordinator(m)

			r := gin.New()
			srv.Register(r.Group("/api/link"))
			hs := httptest.NewServer(r)
			defer hs.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() { _ = m.Run(ctx) }()
			<-m.Started()

			client := link.NewClient(link.ClientConfig{
				URL:            "ws" + strings.TrimPrefix(hs.URL, "http") + "/api/link",
				ControllerID:   "ws-1",
				Codec:          codec,
				RequestTimeout: 2 * time.Second,
			}, nil)
			reg := executor.NewRegistry()
			executor.RegisterBuiltins(reg)
			ctrl, err := ctrlsvc.New(ctrlsvc.Config{
				ID:                "ws-1",
				Address:           "ws-1:7000",
				PoolSize:          2,
				HeartbeatInterval: controllerHeartbeat,
				ShutdownTimeout:   time.Second,
			}, client, worker.NewRunner(reg, time.Second))
			require.NoError(t, err)
			client.SetHandler(ctrl)

			linkDone := make(chan struct{})
			go func() {
				defer close(linkDone)
				_ = client.Run(ctx)
			}()
			ctrlCtx, stopCtrl := context.WithCancel(ctx)
			ctrlDone := make(chan error, 1)
			go func() { ctrlDone <- ctrl.Run(ctrlCtx) }()

			require.Eventually(t, func() bool {
				cs, err := m.Controllers(ctx)
				return err == nil && len(cs) == 1
			}, waitFor, tick)

			for _, id := range []string{"w1", "w2", "w3"} {
				_, err := m.Submit(ctx, task.New(id, "echo", task.NewProperties("id", id)))
				require.NoError(t, err)
			}
			require.Eventually(t, func() bool { return len(sink.Results()) == 3 }, waitFor, tick)
			for _, res := range sink.Results() {
				assert.Equal(t, task.OutcomeSucceeded, res.Outcome)
				assert.JSONEq(t, `{"id":"`+res.TaskID+`"}`, string(res.Payload))
			}

			stopCtrl()
			require.NoError(t, <-ctrlDone)
			cs, err := m.Controllers(ctx)
			require.NoError(t, err)
			assert.Empty(t, cs, "controller deregistered on exit")

			cancel()
			<-linkDone
		})
	}
}
