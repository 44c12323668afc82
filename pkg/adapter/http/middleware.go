package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/internal/requestid"
)

// unmatchedRoute labels requests that hit no route, keeping metric
// cardinality bounded.
const unmatchedRoute = "unmatched"

func (a *HTTPAdapter) routes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestid.Middleware(), a.observe(), a.rateLimit())

	engine.POST("/upload", a.upload)
	engine.GET("/download/:id", a.download)
	engine.GET("/metadata/:id", a.metadata)
	engine.POST("/files/:id/expire", a.expire)
	engine.DELETE("/files/:id", a.purge)
	engine.GET("/health", a.healthcheck)

	return engine
}

func routeOf(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return unmatchedRoute
}

// observe records request metrics and logs each request at DEBUG.
func (a *HTTPAdapter) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := routeOf(c)
		start := time.Now()

		a.metrics.RecordRequestStart(route)
		defer a.metrics.RecordRequestEnd(route)

		c.Next()

		status := c.Writer.Status()
		duration := time.Since(start)
		a.metrics.RecordRequest(route, c.Request.Method, status, duration)

		reqID := requestid.Get(c)
		if len(c.Errors) > 0 {
			logger.Debug("HTTP [%s] %s %s -> %d (%s): %v", reqID, c.Request.Method, c.Request.URL.Path, status, duration, c.Errors.Last())
		} else {
			logger.Debug("HTTP [%s] %s %s -> %d (%s)", reqID, c.Request.Method, c.Request.URL.Path, status, duration)
		}
	}
}

// rateLimit rejects requests from clients over their budget with 429.
func (a *HTTPAdapter) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.limiter.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		a.metrics.RecordRateLimited(routeOf(c))
		fail(c, http.StatusTooManyRequests, "Too many requests")
	}
}
