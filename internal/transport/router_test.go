package transport_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/alanyang/task-mesh/internal/adapter/memory"
	domaintask "github.com/alanyang/task-mesh/internal/domain/task"
	"github.com/alanyang/task-mesh/internal/mocks"
	portcoord "github.com/alanyang/task-mesh/internal/port/coordinator"
	"github.com/alanyang/task-mesh/internal/service/master"
	"github.com/alanyang/task-mesh/internal/transport"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(r *gin.Engine, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "loop answering", wantCode: http.StatusOK},
		{name: "loop stopped", err: master.ErrStopped, wantCode: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := mocks.NewMockCoordinator(gomock.NewController(t))
			coord.EXPECT().Stats(gomock.Any()).Return(portcoord.Stats{}, tt.err)
			r := transport.NewRouter(context.Background(), transport.Deps{Coordinator: coord})

			assert.Equal(t, tt.wantCode, serve(r, http.MethodGet, "/healthz", "", nil).Code)
		})
	}
}

func TestStats(t *testing.T) {
	coord := mocks.NewMockCoordinator(gomock.NewController(t))
	coord.EXPECT().Stats(gomock.Any()).Return(portcoord.Stats{
		Tasks: map[domaintask.Status]int{domaintask.StatusPending: 2},
		Load:  1, Capacity: 4,
	}, nil)
	r := transport.NewRouter(context.Background(), transport.Deps{Coordinator: coord})

	w := serve(r, http.MethodGet, "/api/stats", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tasks":{"pending":2},"controllers":null,"load":1,"capacity":4}`, w.Body.String())
}

func TestIdempotencyKeyReplaysSubmit(t *testing.T) {
	coord := mocks.NewMockCoordinator(gomock.NewController(t))
	coord.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, in domaintask.Task) (domaintask.Task, error) {
		in.Status = domaintask.StatusPending
		return in, nil
	}).Times(2)

	r := transport.NewRouter(context.Background(), transport.Deps{Coordinator: coord, Cache: memory.NewCache(0)})
	key := http.Header{transport.IdempotencyHeader: []string{"abc"}}
	body := `{"type":"echo"}`

	first := serve(r, http.MethodPost, "/api/tasks/", body, key)
	assert.Equal(t, http.StatusCreated, first.Code)

	replay := serve(r, http.MethodPost, "/api/tasks/", body, key)
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, first.Body.String(), replay.Body.String(), "generated id is replayed, not regenerated")

	// A different key and a keyless request both reach the master.
	other := serve(r, http.MethodPost, "/api/tasks/", body, http.Header{transport.IdempotencyHeader: []string{"def"}})
	assert.Empty(t, other.Header().Get("Idempotent-Replayed"))
	assert.NotEqual(t, first.Body.String(), other.Body.String())
}

func TestIdempotency_ServerErrorsNotStored(t *testing.T) {
	coord := mocks.NewMockCoordinator(gomock.NewController(t))
	gomock.InOrder(
		coord.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(domaintask.Task{}, master.ErrStopped),
		coord.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, in domaintask.Task) (domaintask.Task, error) {
			return in, nil
		}),
	)
	r := transport.NewRouter(context.Background(), transport.Deps{Coordinator: coord, Cache: memory.NewCache(0)})
	key := http.Header{transport.IdempotencyHeader: []string{"retry-me"}}

	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodPost, "/api/tasks/", `{"type":"echo"}`, key).Code)
	assert.Equal(t, http.StatusCreated, serve(r, http.MethodPost, "/api/tasks/", `{"type":"echo"}`, key).Code)
}
