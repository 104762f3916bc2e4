package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/benefits/middleware"
	"github.com/cppla/benefits/services"
	"github.com/cppla/benefits/utils"
)

func getUserID(ctx *gin.Context) (uint, bool) {
	value, exists := ctx.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, v != 0
	case int:
		return uint(v), v > 0
	case int64:
		return uint(v), v > 0
	case float64:
		return uint(v), v > 0
	default:
		return 0, false
	}
}

// writeServiceError maps typed service errors onto the response envelope.
// Unknown errors are logged and reported with the caller's fallback code.
func writeServiceError(ctx *gin.Context, err error, fallbackCode int, fallbackMsg string) {
	var (
		ve *services.ValidationError
		ne *services.NotFoundError
		ie *services.InsufficientBalanceError
		ae *services.InactiveBenefitError
		ce *services.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		utils.Error(ctx, http.StatusBadRequest, 40020, ve.Error())
	case errors.As(err, &ie):
		utils.Error(ctx, http.StatusBadRequest, 40021, "insufficient coin balance")
	case errors.As(err, &ne):
		utils.Error(ctx, http.StatusNotFound, 40420, ne.Error())
	case errors.As(err, &ae):
		utils.Error(ctx, http.StatusConflict, 40920, "benefit is not active")
	case errors.As(err, &ce):
		utils.Error(ctx, http.StatusConflict, 40921, ce.Reason)
	case services.IsRetryable(err):
		ctx.Header("Retry-After", "1")
		utils.Error(ctx, http.StatusServiceUnavailable, 50320, "temporarily unavailable, please retry")
	default:
		utils.Logger.Error(fallbackMsg, zap.Error(err), zap.String("request_id", ctx.GetString(utils.RequestIDKey)))
		utils.Error(ctx, http.StatusInternalServerError, fallbackCode, fallbackMsg)
	}
}
