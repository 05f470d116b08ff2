package task

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domaintask "github.com/alanyang/task-mesh/internal/domain/task"
	portcoord "github.com/alanyang/task-mesh/internal/port/coordinator"
	"github.com/alanyang/task-mesh/internal/service/generator"
	"github.com/alanyang/task-mesh/internal/service/master"
)

func Register(rg *gin.RouterGroup, coord portcoord.Coordinator) {
	rg.POST("/", submitTask(coord))
	rg.GET("/", listTasks(coord))
	rg.GET("/:id", getTask(coord))
	rg.DELETE("/:id", cancelTask(coord))
}

// StatusFor maps master errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, master.ErrInvalidTask):
		return http.StatusBadRequest
	case errors.Is(err, master.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, master.ErrTaskConflict), errors.Is(err, master.ErrNotPending):
		return http.StatusConflict
	case errors.Is(err, master.ErrDraining), errors.Is(err, master.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// History reads the results recorded for a task, one per run.
type History interface {
	History(ctx context.Context, taskID string) ([]domaintask.Result, error)
}

// RegisterHistory mounts GET /:id/results on the same group as Register.
func RegisterHistory(rg *gin.RouterGroup, h History) {
	rg.GET("/:id/results", func(c *gin.Context) {
		results, err := h.History(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(results) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no results recorded"})
			return
		}
		c.JSON(http.StatusOK, results)
	})
}

type submitTaskReq struct {
	generator.Spec
}

func submitTask(coord portcoord.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitTaskReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Type == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type is required"})
			return
		}
		t, err := req.Task()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		created, err := coord.Submit(c.Request.Context(), t)
		if err != nil {
			c.JSON(StatusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

func listTasks(coord portcoord.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var filters domaintask.ListFilters
		if v := c.Query("status"); v != "" {
			s := domaintask.Status(v)
			if !s.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
				return
			}
			filters.Status = &s
		}
		filters.Type = c.Query("type")

		tasks, err := coord.Tasks(c.Request.Context(), filters)
		if err != nil {
			c.JSON(StatusFor(err), gin.H{"error": err.Error()})
			return
		}
		if tasks == nil {
			tasks = []domaintask.Task{}
		}
		c.JSON(http.StatusOK, tasks)
	}
}

func getTask(coord portcoord.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := coord.Task(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(StatusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

func cancelTask(coord portcoord.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := coord.Cancel(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(StatusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, t)
	}
}
