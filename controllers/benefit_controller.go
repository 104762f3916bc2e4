package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/benefits/services"
	"github.com/cppla/benefits/utils"
)

// BenefitController exposes the benefit catalog.
type BenefitController struct {
	catalog *services.CatalogStore
}

// NewBenefitController creates a new BenefitController instance.
func NewBenefitController(catalog *services.CatalogStore) *BenefitController {
	return &BenefitController{catalog: catalog}
}

// benefitRequest uses the resource's snake_case names; coinCost is accepted as an alias.
type benefitRequest struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	CoinCost      *int64  `json:"coin_cost"`
	CoinCostCamel *int64  `json:"coinCost"`
	Active        *bool   `json:"active"`
}

func (r *benefitRequest) coinCost() *int64 {
	if r.CoinCost != nil {
		return r.CoinCost
	}
	return r.CoinCostCamel
}

// ListAll returns every benefit including inactive ones (admin).
func (b *BenefitController) ListAll(ctx *gin.Context) {
	benefits, err := b.catalog.List(ctx.Request.Context(), services.BenefitFilter{
		Search: ctx.Query("search"),
	})
	if err != nil {
		writeServiceError(ctx, err, 50020, "failed to list benefits")
		return
	}
	utils.Success(ctx, benefits)
}

// ListAvailable returns active benefits for end users.
func (b *BenefitController) ListAvailable(ctx *gin.Context) {
	benefits, err := b.catalog.List(ctx.Request.Context(), services.BenefitFilter{
		ActiveOnly: true,
		Search:     ctx.Query("search"),
	})
	if err != nil {
		writeServiceError(ctx, err, 50021, "failed to list benefits")
		return
	}
	utils.Success(ctx, benefits)
}

// Create adds a benefit. Active defaults to true.
func (b *BenefitController) Create(ctx *gin.Context) {
	var req benefitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}
	cost := req.coinCost()
	if req.Title == nil || req.Description == nil || cost == nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "title, description and coin_cost are required")
		return
	}
	in := services.BenefitInput{
		Title:       *req.Title,
		Description: *req.Description,
		CoinCost:    *cost,
		Active:      true,
	}
	if req.Active != nil {
		in.Active = *req.Active
	}

	benefit, err := b.catalog.Create(ctx.Request.Context(), in)
	if err != nil {
		writeServiceError(ctx, err, 50022, "failed to create benefit")
		return
	}
	utils.Created(ctx, benefit)
}

// Update changes the supplied fields of a benefit.
func (b *BenefitController) Update(ctx *gin.Context) {
	id := strings.TrimSpace(ctx.Param("id"))
	var req benefitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	benefit, err := b.catalog.Update(ctx.Request.Context(), id, services.BenefitPatch{
		Title:       req.Title,
		Description: req.Description,
		CoinCost:    req.coinCost(),
		Active:      req.Active,
	})
	if err != nil {
		writeServiceError(ctx, err, 50023, "failed to update benefit")
		return
	}
	utils.Success(ctx, benefit)
}

// Delete removes a benefit that has never been redeemed.
func (b *BenefitController) Delete(ctx *gin.Context) {
	id := strings.TrimSpace(ctx.Param("id"))
	if err := b.catalog.Delete(ctx.Request.Context(), id); err != nil {
		writeServiceError(ctx, err, 50024, "failed to delete benefit")
		return
	}
	utils.Success(ctx, gin.H{"id": id, "deleted": true})
}

// Toggle flips the active flag.
func (b *BenefitController) Toggle(ctx *gin.Context) {
	benefit, err := b.catalog.ToggleActive(ctx.Request.Context(), strings.TrimSpace(ctx.Param("id")))
	if err != nil {
		writeServiceError(ctx, err, 50025, "failed to toggle benefit")
		return
	}
	utils.Success(ctx, benefit)
}
