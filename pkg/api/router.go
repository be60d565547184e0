package api

import (
	"time"

	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter creates a gin engine with recovery and zap request logging.
func NewRouter(mode string) *gin.Engine {
	switch mode {
	case "production":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
