package device

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deeprecall/deeprecall/internal/server/device"
	"github.com/deeprecall/deeprecall/internal/server/handlers/api"
	"github.com/deeprecall/deeprecall/internal/server/middlewares"
)

type Handler struct {
	registry *device.Registry
}

func New(registry *device.Registry) *Handler {
	return &Handler{registry: registry}
}

// View returns the per-hash presence summary from the requesting device's
// perspective. The device id comes from the token claims; an explicit
// ?device= query overrides it for cross-device inspection.
func (h *Handler) View(ctx *gin.Context) {
	owner, deviceID, ok := h.scope(ctx)
	if !ok {
		return
	}

	views, err := h.registry.View(ctx.Request.Context(), owner, deviceID)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeDeviceViewFailed, err)
		return
	}

	ctx.PureJSON(http.StatusOK, gin.H{"device": deviceID, "blobs": views})
}

// Orphaned lists content known to exist elsewhere but absent from the
// requesting device.
func (h *Handler) Orphaned(ctx *gin.Context) {
	owner, deviceID, ok := h.scope(ctx)
	if !ok {
		return
	}

	orphans, err := h.registry.Orphaned(ctx.Request.Context(), owner, deviceID)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeDeviceViewFailed, err)
		return
	}

	ctx.PureJSON(http.StatusOK, gin.H{"device": deviceID, "orphaned": orphans})
}

// Devices lists every device holding content for the principal.
func (h *Handler) Devices(ctx *gin.Context) {
	owner := ctx.GetString(middlewares.UserContextKey)
	if owner == "" {
		api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthRequired,
			fmt.Errorf("no authenticated principal"))
		return
	}

	devices, err := h.registry.Devices(ctx.Request.Context(), owner)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeDeviceViewFailed, err)
		return
	}

	ctx.PureJSON(http.StatusOK, gin.H{"devices": devices})
}

func (h *Handler) scope(ctx *gin.Context) (owner, deviceID string, ok bool) {
	owner = ctx.GetString(middlewares.UserContextKey)
	if owner == "" {
		api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthRequired,
			fmt.Errorf("no authenticated principal"))
		return "", "", false
	}

	deviceID = ctx.Query("device")
	if deviceID == "" {
		deviceID = ctx.GetString(middlewares.DeviceContextKey)
	}
	if deviceID == "" {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeDeviceRequired,
			fmt.Errorf("no device id in token or query"))
		return "", "", false
	}

	return owner, deviceID, true
}
