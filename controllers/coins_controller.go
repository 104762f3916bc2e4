package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cppla/benefits/services"
	"github.com/cppla/benefits/utils"
)

// CoinsController lets administrators award coins.
type CoinsController struct {
	ledger *services.CoinLedger
}

// NewCoinsController creates a new CoinsController instance.
func NewCoinsController(ledger *services.CoinLedger) *CoinsController {
	return &CoinsController{ledger: ledger}
}

// Credit adds coins to the user in the path.
func (c *CoinsController) Credit(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil || id == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40050, "invalid user id")
		return
	}

	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	balance, err := c.ledger.Credit(ctx.Request.Context(), uint(id), req.Amount, req.Reason)
	if err != nil {
		writeServiceError(ctx, err, 50040, "failed to credit coins")
		return
	}
	utils.Success(ctx, gin.H{"user_id": id, "balance": balance})
}
