package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/smallbiznis/smallbiznis-gateway/internal/config"
	"github.com/smallbiznis/smallbiznis-gateway/internal/http/handler"
	"github.com/smallbiznis/smallbiznis-gateway/internal/http/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, proxyHandler *handler.ProxyHandler, apiHandler *handler.APIHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(nil))
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	auth := r.Group("/auth")
	{
		auth.GET("/callback", authHandler.Callback)
		auth.GET("/:buid", authHandler.Connect)
		auth.DELETE("/:buid/revoke/:authId", authHandler.Revoke)
	}

	r.Any("/proxy/:buid/*path", proxyHandler.Proxy)

	api := r.Group("/api")
	{
		api.GET("/:buid", apiHandler.GetIntegration)
		api.GET("/:buid/configurations", apiHandler.ListConfigurations)
		api.POST("/:buid/configurations", apiHandler.CreateConfiguration)
		api.GET("/:buid/configurations/:setupId", apiHandler.GetConfiguration)
		api.PUT("/:buid/configurations/:setupId", apiHandler.UpdateConfiguration)
		api.DELETE("/:buid/configurations/:setupId", apiHandler.DeleteConfiguration)
	}

	return r
}
