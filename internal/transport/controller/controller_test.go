package controller_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainctrl "github.com/alanyang/task-mesh/internal/domain/controller"
	"github.com/alanyang/task-mesh/internal/mocks"
	"github.com/alanyang/task-mesh/internal/service/master"
	transportctrl "github.com/alanyang/task-mesh/internal/transport/controller"
)

func init() { gin.SetMode(gin.TestMode) }

func get(t *testing.T, setup func(*mocks.MockCoordinator), path string) *httptest.ResponseRecorder {
	t.Helper()
	coord := mocks.NewMockCoordinator(gomock.NewController(t))
	setup(coord)
	r := gin.New()
	transportctrl.Register(r.Group("/controllers"), coord)

	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

var registry = []domainctrl.Controller{
	{ID: "a", Health: domainctrl.HealthAlive, Capacity: 2, Load: 1},
	{ID: "b", Health: domainctrl.HealthDead, Capacity: 2},
}

func TestListControllers(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantIDs []string
	}{
		{name: "all", path: "/controllers/", wantIDs: []string{"a", "b"}},
		{name: "health filter", path: "/controllers/?health=dead", wantIDs: []string{"b"}},
		{name: "no match", path: "/controllers/?health=suspect", wantIDs: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, func(coord *mocks.MockCoordinator) {
				cs := append([]domainctrl.Controller(nil), registry...)
				coord.EXPECT().Controllers(gomock.Any()).Return(cs, nil)
			}, tt.path)
			require.Equal(t, http.StatusOK, w.Code)

			var got []domainctrl.Controller
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			ids := []string{}
			for _, c := range got {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestGetController(t *testing.T) {
	w := get(t, func(coord *mocks.MockCoordinator) {
		coord.EXPECT().Controllers(gomock.Any()).Return(registry, nil)
	}, "/controllers/a")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"load":1`)

	w = get(t, func(coord *mocks.MockCoordinator) {
		coord.EXPECT().Controllers(gomock.Any()).Return(registry, nil)
	}, "/controllers/zzz")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(t, func(coord *mocks.MockCoordinator) {
		coord.EXPECT().Controllers(gomock.Any()).Return(nil, master.ErrStopped)
	}, "/controllers/")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
