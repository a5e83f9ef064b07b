package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/smallbiznis-gateway/internal/service"
)

// ProxyHandler resolves and forwards authenticated API calls.
type ProxyHandler struct {
	Builder   *service.ProxyBuilder
	Forwarder *service.Forwarder
}

func NewProxyHandler(builder *service.ProxyBuilder, forwarder *service.Forwarder) *ProxyHandler {
	return &ProxyHandler{Builder: builder, Forwarder: forwarder}
}

// Proxy handles any method under /proxy/:buid/*path.
func (h *ProxyHandler) Proxy(c *gin.Context) {
	req, err := h.Builder.Build(c.Request.Context(), service.ProxyInput{
		Buid:   c.Param("buid"),
		AuthID: c.GetHeader(service.HeaderAuthID),
		Method: c.Request.Method,
		Path:   c.Param("path"),
		Query:  c.Request.URL.Query(),
		Header: c.Request.Header,
		Body:   c.Request.Body,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.Forwarder.Do(c.Request.Context(), req, c.Writer); err != nil {
		respondError(c, err)
	}
}
