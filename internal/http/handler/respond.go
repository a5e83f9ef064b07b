package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/smallbiznis-gateway/internal/service"
)

// respondError renders the single user-facing error shape. Anything
// outside the taxonomy is logged and collapsed into a generic 500 so
// internals never leak.
func respondError(c *gin.Context, err error) {
	var gatewayErr *service.GatewayError
	if errors.As(err, &gatewayErr) {
		c.JSON(gatewayErr.Status, gin.H{"error": gin.H{
			"code":    gatewayErr.Code,
			"message": gatewayErr.Description,
		}})
		return
	}
	zap.L().Error("unhandled gateway error",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{
		"code":    "SERVER_ERROR",
		"message": "Internal server error.",
	}})
}
