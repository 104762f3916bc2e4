package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/benefits/services"
	"github.com/cppla/benefits/utils"
)

// IdempotencyKeyHeader optionally deduplicates redeem retries.
const IdempotencyKeyHeader = "Idempotency-Key"

// RedemptionController exposes balance, redemption and redemption history endpoints.
type RedemptionController struct {
	engine *services.RedemptionEngine
	ledger *services.CoinLedger
}

// NewRedemptionController creates a new RedemptionController instance.
func NewRedemptionController(engine *services.RedemptionEngine, ledger *services.CoinLedger) *RedemptionController {
	return &RedemptionController{engine: engine, ledger: ledger}
}

// Redeem exchanges the caller's coins for a benefit. The user is always the token's user.
func (r *RedemptionController) Redeem(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	var req struct {
		BenefitID string `json:"benefitId"`
		Comment   string `json:"comment"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	result, err := r.engine.Redeem(ctx.Request.Context(), services.RedeemRequest{
		UserID:         userID,
		BenefitID:      req.BenefitID,
		Comment:        req.Comment,
		IdempotencyKey: ctx.GetHeader(IdempotencyKeyHeader),
	})
	if err != nil {
		writeServiceError(ctx, err, 50030, "failed to redeem benefit")
		return
	}
	utils.Success(ctx, result)
}

// ListMine returns the caller's redemptions, newest first.
func (r *RedemptionController) ListMine(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	records, err := r.engine.ListForUser(ctx.Request.Context(), userID)
	if err != nil {
		writeServiceError(ctx, err, 50031, "failed to list redemptions")
		return
	}
	utils.Success(ctx, records)
}

// ListAll returns every redemption with the redeeming user (admin).
func (r *RedemptionController) ListAll(ctx *gin.Context) {
	views, err := r.engine.ListAll(ctx.Request.Context(), ctx.Query("search"))
	if err != nil {
		writeServiceError(ctx, err, 50032, "failed to list redemptions")
		return
	}
	utils.Success(ctx, views)
}

// Balance returns the caller's coin balance.
func (r *RedemptionController) Balance(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	balance, err := r.ledger.GetBalance(ctx.Request.Context(), userID)
	if err != nil {
		writeServiceError(ctx, err, 50033, "failed to load balance")
		return
	}
	utils.Success(ctx, gin.H{"balance": balance})
}
