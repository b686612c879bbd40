package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/transport/http/middleware"
)

const jwksCacheControl = "public, max-age=3600"

// JWKSSource renders the public signing keys.
type JWKSSource interface {
	JWKS() ([]byte, error)
}

// JWKSHandler provides the JSON Web Key Set used for offline JWT validation by other services.
type JWKSHandler struct {
	source JWKSSource
}

// NewJWKSHandler constructs a JWKS handler backed by the supplied source.
func NewJWKSHandler(source JWKSSource) *JWKSHandler {
	return &JWKSHandler{source: source}
}

// Keys serves the JSON Web Key Set.
func (h *JWKSHandler) Keys(c *gin.Context) {
	if h == nil || h.source == nil {
		middleware.AbortWithError(c, domain.ErrStoreUnavailable.WithMessage("jwks not available"))
		return
	}

	payload, err := h.source.JWKS()
	if err != nil {
		middleware.AbortWithError(c, domain.ErrInternal.Wrap(err))
		return
	}

	c.Header("Cache-Control", jwksCacheControl)
	c.Data(http.StatusOK, "application/json", payload)
}
