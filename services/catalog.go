package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/benefits/models"
	"github.com/cppla/benefits/utils"
)

const (
	// CachePrefix namespaces every cached catalog listing.
	CachePrefix = "cache:benefits:"

	maxTitleRunes = 255
)

// ListingCache stores serialised listings. Implementations must fail open:
// a miss or a backend error is reported as a miss.
type ListingCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	InvalidatePrefix(ctx context.Context, prefix string)
}

// BenefitFilter selects benefits for listBenefits.
type BenefitFilter struct {
	ActiveOnly bool
	Search     string
}

// BenefitInput carries the fields of a new benefit.
type BenefitInput struct {
	Title       string
	Description string
	CoinCost    int64
	Active      bool
}

// BenefitPatch carries the fields to change; nil means unchanged.
type BenefitPatch struct {
	Title       *string
	Description *string
	CoinCost    *int64
	Active      *bool
}

// CatalogStore persists and queries Benefit records.
type CatalogStore struct {
	db       *gorm.DB
	cache    ListingCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewCatalogStore creates a store. cache may be nil.
func NewCatalogStore(db *gorm.DB, cache ListingCache, cacheTTL time.Duration, logger *zap.Logger) *CatalogStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogStore{db: db, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// List returns benefits newest first. Active-only listings are served from the cache when possible.
func (s *CatalogStore) List(ctx context.Context, filter BenefitFilter) ([]models.Benefit, error) {
	search := strings.TrimSpace(filter.Search)

	var key string
	if filter.ActiveOnly && s.cache != nil {
		key = CachePrefix + "available:q=" + strings.ToLower(search)
		var cached []models.Benefit
		if s.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}

	q := s.db.WithContext(ctx).Model(&models.Benefit{})
	if filter.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	if search != "" {
		pattern := likePattern(search)
		q = q.Where("(LOWER(title) LIKE ? ESCAPE '!' OR LOWER(description) LIKE ? ESCAPE '!')", pattern, pattern)
	}

	benefits := []models.Benefit{}
	if err := q.Order("created_at DESC").Order("id DESC").Find(&benefits).Error; err != nil {
		return nil, wrapDBError("list benefits", err)
	}

	if key != "" {
		s.cache.Set(ctx, key, benefits, s.cacheTTL)
	}
	return benefits, nil
}

// Get returns a single benefit.
func (s *CatalogStore) Get(ctx context.Context, id string) (*models.Benefit, error) {
	var benefit models.Benefit
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&benefit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "benefit", ID: id}
	}
	if err != nil {
		return nil, wrapDBError("get benefit", err)
	}
	return &benefit, nil
}

// Create validates and inserts a new benefit.
func (s *CatalogStore) Create(ctx context.Context, in BenefitInput) (*models.Benefit, error) {
	title, err := cleanTitle(in.Title)
	if err != nil {
		return nil, err
	}
	description, err := cleanDescription(in.Description)
	if err != nil {
		return nil, err
	}
	if in.CoinCost < 0 {
		return nil, &ValidationError{Field: "coin_cost", Message: "must not be negative"}
	}

	benefit := models.Benefit{
		Title:       title,
		Description: description,
		CoinCost:    in.CoinCost,
		Active:      in.Active,
	}
	if err := s.db.WithContext(ctx).Create(&benefit).Error; err != nil {
		return nil, wrapDBError("create benefit", err)
	}

	s.invalidate(ctx)
	s.logger.Info("benefit created", zap.String("benefit_id", benefit.ID), zap.Int64("cost", benefit.CoinCost))
	return &benefit, nil
}

// Update applies patch to the benefit with the given id.
func (s *CatalogStore) Update(ctx context.Context, id string, patch BenefitPatch) (*models.Benefit, error) {
	updates := map[string]interface{}{}
	if patch.Title != nil {
		title, err := cleanTitle(*patch.Title)
		if err != nil {
			return nil, err
		}
		updates["title"] = title
	}
	if patch.Description != nil {
		description, err := cleanDescription(*patch.Description)
		if err != nil {
			return nil, err
		}
		updates["description"] = description
	}
	if patch.CoinCost != nil {
		if *patch.CoinCost < 0 {
			return nil, &ValidationError{Field: "coin_cost", Message: "must not be negative"}
		}
		updates["coin_cost"] = *patch.CoinCost
	}
	if patch.Active != nil {
		updates["active"] = *patch.Active
	}

	var benefit models.Benefit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockBenefit(tx, id, &benefit); err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&benefit).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).First(&benefit).Error
	})
	if err != nil {
		return nil, wrapDBError("update benefit", err)
	}

	if len(updates) > 0 {
		s.invalidate(ctx)
		s.logger.Info("benefit updated", zap.String("benefit_id", id))
	}
	return &benefit, nil
}

// Delete removes a benefit. Benefits referenced by redemptions cannot be deleted.
func (s *CatalogStore) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var benefit models.Benefit
		if err := lockBenefit(tx, id, &benefit); err != nil {
			return err
		}
		var refs int64
		if err := tx.Model(&models.BenefitRedemption{}).Where("benefit_id = ?", id).Count(&refs).Error; err != nil {
			return err
		}
		if refs > 0 {
			return &ConflictError{Reason: "benefit has redemptions and cannot be deleted; deactivate it instead"}
		}
		return tx.Delete(&benefit).Error
	})
	if err != nil {
		return wrapDBError("delete benefit", err)
	}

	s.invalidate(ctx)
	s.logger.Info("benefit deleted", zap.String("benefit_id", id))
	return nil
}

// ToggleActive flips the active flag and returns the updated benefit.
func (s *CatalogStore) ToggleActive(ctx context.Context, id string) (*models.Benefit, error) {
	var benefit models.Benefit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockBenefit(tx, id, &benefit); err != nil {
			return err
		}
		benefit.Active = !benefit.Active
		return tx.Model(&benefit).Update("active", benefit.Active).Error
	})
	if err != nil {
		return nil, wrapDBError("toggle benefit", err)
	}

	s.invalidate(ctx)
	s.logger.Info("benefit toggled", zap.String("benefit_id", id), zap.Bool("active", benefit.Active))
	return &benefit, nil
}

func (s *CatalogStore) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.InvalidatePrefix(ctx, CachePrefix)
	}
}

func lockBenefit(tx *gorm.DB, id string, out *models.Benefit) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Resource: "benefit", ID: id}
	}
	return err
}

func cleanTitle(raw string) (string, error) {
	title := utils.SanitizeText(raw)
	if title == "" {
		return "", &ValidationError{Field: "title", Message: "must not be empty"}
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return "", &ValidationError{Field: "title", Message: "must be at most 255 characters"}
	}
	return title, nil
}

func cleanDescription(raw string) (string, error) {
	description := utils.SanitizeText(raw)
	if description == "" {
		return "", &ValidationError{Field: "description", Message: "must not be empty"}
	}
	return description, nil
}

// likePattern lowercases s and escapes LIKE wildcards with '!'.
func likePattern(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}
