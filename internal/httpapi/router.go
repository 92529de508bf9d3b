// Package httpapi serves the course-building operations as a JSON API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rcliao/chat2course/internal/logger"
	"github.com/rcliao/chat2course/internal/model"
	"github.com/rcliao/chat2course/internal/orchestrator"
)

// Service is the course-building surface the handlers call into.
type Service interface {
	CreateOrResume(ctx context.Context, content, courseName string, continuePrevious bool) (*orchestrator.Response, error)
	Continue(ctx context.Context, id, additional string) (*orchestrator.Response, error)
	Status(ctx context.Context, id string) (*orchestrator.Snapshot, error)
	Analyze(text string) model.Analysis
	Analytics(ctx context.Context) (*orchestrator.Report, error)
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(svc Service, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := &Handler{svc: svc, log: log}

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/courses", h.CreateCourse)
	r.POST("/sessions/:id/continue", h.ContinueSession)
	r.GET("/sessions/:id", h.GetSession)
	r.POST("/analyze", h.Analyze)
	r.GET("/analytics", h.Analytics)
	return r
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
