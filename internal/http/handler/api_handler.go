package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/smallbiznis-gateway/internal/domain"
	"github.com/smallbiznis/smallbiznis-gateway/internal/registry"
	"github.com/smallbiznis/smallbiznis-gateway/internal/service"
)

// APIHandler serves the dashboard-facing integration and configuration
// endpoints.
type APIHandler struct {
	Registry       *registry.Registry
	Configurations service.ConfigurationService
}

func NewAPIHandler(reg *registry.Registry, configurations service.ConfigurationService) *APIHandler {
	return &APIHandler{Registry: reg, Configurations: configurations}
}

// GetIntegration returns an integration summary with its credential
// field labels.
func (h *APIHandler) GetIntegration(c *gin.Context) {
	buid := c.Param("buid")
	integration, err := h.Registry.Get(buid)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrationNotFound) {
			respondError(c, &service.GatewayError{
				Code:        "UNKNOWN_INTEGRATION",
				Description: "No integration definition found for " + buid + ".",
				Status:      http.StatusNotFound,
			})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":               integration.ID,
		"name":             integration.Name,
		"authType":         integration.AuthType,
		"setupKeyLabel":    integration.SetupKeyLabel(),
		"setupSecretLabel": integration.SetupSecretLabel(),
	})
}

func (h *APIHandler) ListConfigurations(c *gin.Context) {
	list, err := h.Configurations.List(c.Request.Context(), c.Param("buid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *APIHandler) GetConfiguration(c *gin.Context) {
	cfg, err := h.Configurations.Get(c.Request.Context(), c.Param("buid"), c.Param("setupId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *APIHandler) CreateConfiguration(c *gin.Context) {
	var in service.ConfigurationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, &service.GatewayError{
			Code:        "INVALID_CONFIGURATION",
			Description: "Request body must be a JSON configuration.",
			Status:      http.StatusBadRequest,
		})
		return
	}
	created, err := h.Configurations.Create(c.Request.Context(), c.Param("buid"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *APIHandler) UpdateConfiguration(c *gin.Context) {
	var in service.ConfigurationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, &service.GatewayError{
			Code:        "INVALID_CONFIGURATION",
			Description: "Request body must be a JSON configuration.",
			Status:      http.StatusBadRequest,
		})
		return
	}
	updated, err := h.Configurations.Update(c.Request.Context(), c.Param("buid"), c.Param("setupId"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *APIHandler) DeleteConfiguration(c *gin.Context) {
	if err := h.Configurations.Delete(c.Request.Context(), c.Param("buid"), c.Param("setupId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
