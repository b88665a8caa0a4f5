package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	deviceHandler "github.com/deeprecall/deeprecall/internal/server/handlers/device"
	syncHandler "github.com/deeprecall/deeprecall/internal/server/handlers/sync"
	"github.com/deeprecall/deeprecall/internal/server/middlewares"
	"github.com/deeprecall/deeprecall/internal/version"
)

func SetupRoutes(config *Config, svc *Services) http.Handler {
	r := gin.New()

	syncH := syncHandler.New(svc.Engine)
	deviceH := deviceHandler.New(svc.Registry)

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	r.Use(gzip.Gzip(gzip.BestSpeed))
	r.Use(cors.Default())

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	v1 := r.Group("/api/v1")
	v1.Use(middlewares.RateLimiter(config.RateLimit))
	v1.Use(middlewares.JWTAuth(svc.Auth))
	{
		v1.POST("/sync/batch", syncH.SubmitBatch)

		v1.GET("/device/view", deviceH.View)
		v1.GET("/device/orphaned", deviceH.Orphaned)
		v1.GET("/device/list", deviceH.Devices)
	}

	r.NoRoute(func(c *gin.Context) {
		c.PureJSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.PureJSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler()
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
