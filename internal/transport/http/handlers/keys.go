package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/transport/http/middleware"
)

// KeyRotator exposes the refresh-token key ring to operators.
type KeyRotator interface {
	Versions() []domain.KeyVersionInfo
	Rotate(ctx context.Context) (domain.KeyVersionInfo, error)
}

// KeyVersionResponse is the loggable view of one key generation.
type KeyVersionResponse struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Current   bool      `json:"current"`
}

// KeyHandler lists and rotates encryption key versions.
type KeyHandler struct {
	keys KeyRotator
}

// NewKeyHandler constructs KeyHandler.
func NewKeyHandler(keys KeyRotator) *KeyHandler {
	return &KeyHandler{keys: keys}
}

// RegisterRoutes binds key administration routes. Callers must apply auth middleware to r.
func (h *KeyHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.list)
	r.POST("/rotate", h.rotate)
}

func (h *KeyHandler) list(c *gin.Context) {
	versions := h.keys.Versions()
	resp := make([]KeyVersionResponse, 0, len(versions))
	for _, v := range versions {
		resp = append(resp, newKeyVersionResponse(v))
	}
	c.JSON(http.StatusOK, gin.H{"versions": resp})
}

func (h *KeyHandler) rotate(c *gin.Context) {
	info, err := h.keys.Rotate(c.Request.Context())
	if err != nil {
		middleware.AbortWithError(c, domain.ErrInternal.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, newKeyVersionResponse(info))
}

func newKeyVersionResponse(info domain.KeyVersionInfo) KeyVersionResponse {
	return KeyVersionResponse{Version: info.Version, CreatedAt: info.CreatedAt, Current: info.Current}
}
