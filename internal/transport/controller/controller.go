package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	domainctrl "github.com/alanyang/task-mesh/internal/domain/controller"
	portcoord "github.com/alanyang/task-mesh/internal/port/coordinator"
)

func Register(rg *gin.RouterGroup, coord portcoord.Coordinator) {
	rg.GET("/", listControllers(coord))
	rg.GET("/:id", getController(coord))
}

func listControllers(coord portcoord.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		cs, err := coord.Controllers(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if v := c.Query("health"); v != "" {
			filtered := cs[:0]
			for _, ctrl := range cs {
				if string(ctrl.Health) == v {
					filtered = append(filtered, ctrl)
				}
			}
			cs = filtered
		}
		if cs == nil {
			cs = []domainctrl.Controller{}
		}
		c.JSON(http.StatusOK, cs)
	}
}

func getController(coord portcoord.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		cs, err := coord.Controllers(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		for _, ctrl := range cs {
			if ctrl.ID == c.Param("id") {
				c.JSON(http.StatusOK, ctrl)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "controller not found"})
	}
}
