package sync

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deeprecall/deeprecall/internal/server/batch"
	"github.com/deeprecall/deeprecall/internal/server/handlers/api"
	"github.com/deeprecall/deeprecall/internal/server/middlewares"
)

type Handler struct {
	engine *batch.Engine
}

func New(engine *batch.Engine) *Handler {
	return &Handler{engine: engine}
}

// BatchRequest is the batch submission wire contract.
type BatchRequest struct {
	Changes []*batch.Change `json:"changes" binding:"required"`
}

// SubmitBatch applies one batch of changes for the authenticated principal.
// A malformed request or missing principal short-circuits with a single
// error and applies nothing; per-change failures come back in the result.
func (h *Handler) SubmitBatch(ctx *gin.Context) {
	owner := ctx.GetString(middlewares.UserContextKey)
	if owner == "" {
		api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthRequired,
			fmt.Errorf("no authenticated principal"))
		return
	}

	var req BatchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeSyncValidation,
			fmt.Errorf("bind batch request: %w", err))
		return
	}

	result, err := h.engine.Apply(ctx.Request.Context(), owner, req.Changes)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeSyncBatchFailed,
			fmt.Errorf("apply batch: %w", err))
		return
	}

	ctx.PureJSON(http.StatusOK, result)
}
