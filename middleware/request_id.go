package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cppla/benefits/utils"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID reuses a sane incoming X-Request-ID or assigns a new uuid.
func RequestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		rid := ctx.GetHeader(RequestIDHeader)
		if rid == "" || len(rid) > 64 {
			rid = uuid.NewString()
		}
		ctx.Set(utils.RequestIDKey, rid)
		ctx.Header(RequestIDHeader, rid)
		ctx.Next()
	}
}
