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
	defaultCommentMax = 500
	maxIdempotencyKey = 128
	notifyTimeout     = 15 * time.Second
)

// RedemptionNotice describes a committed redemption for staff notification.
type RedemptionNotice struct {
	RedemptionID string
	UserID       uint
	BenefitTitle string
	CoinCost     int64
	Comment      string
	NewBalance   int64
	RedeemedAt   time.Time
}

// Notifier delivers redemption notices. Delivery is best effort.
type Notifier interface {
	NotifyRedemption(ctx context.Context, notice RedemptionNotice) error
}

// RedeemRequest is the input of Redeem.
type RedeemRequest struct {
	UserID         uint
	BenefitID      string
	Comment        string
	IdempotencyKey string
}

// RedeemResult is the outcome of a successful Redeem.
type RedeemResult struct {
	Redemption *models.BenefitRedemption `json:"redemption"`
	NewBalance int64                     `json:"newBalance"`
	Replayed   bool                      `json:"replayed"`
}

// RedemptionEngine exchanges coins for benefits. Each call either commits
// exactly one debit together with exactly one redemption record, or changes nothing.
type RedemptionEngine struct {
	db         *gorm.DB
	ledger     *CoinLedger
	notifier   Notifier
	logger     *zap.Logger
	commentMax int
	now        func() time.Time
}

// EngineOption customises a RedemptionEngine.
type EngineOption func(*RedemptionEngine)

// WithNotifier sets the notifier called after each committed redemption.
func WithNotifier(n Notifier) EngineOption {
	return func(e *RedemptionEngine) { e.notifier = n }
}

// WithCommentMax limits the comment length in runes.
func WithCommentMax(n int) EngineOption {
	return func(e *RedemptionEngine) {
		if n > 0 {
			e.commentMax = n
		}
	}
}

// WithClock overrides the time source used for redemption timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *RedemptionEngine) { e.now = now }
}

// NewRedemptionEngine wires an engine over db and ledger.
func NewRedemptionEngine(db *gorm.DB, ledger *CoinLedger, logger *zap.Logger, opts ...EngineOption) *RedemptionEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &RedemptionEngine{
		db:         db,
		ledger:     ledger,
		logger:     logger,
		commentMax: defaultCommentMax,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Redeem debits the benefit's cost from the user and records the redemption atomically.
func (e *RedemptionEngine) Redeem(ctx context.Context, req RedeemRequest) (*RedeemResult, error) {
	benefitID := strings.TrimSpace(req.BenefitID)
	if benefitID == "" {
		return nil, &ValidationError{Field: "benefitId", Message: "is required"}
	}
	comment := utils.SanitizeText(req.Comment)
	if utf8.RuneCountInString(comment) > e.commentMax {
		return nil, &ValidationError{Field: "comment", Message: "is too long"}
	}
	var key *string
	if k := strings.TrimSpace(req.IdempotencyKey); k != "" {
		if len(k) > maxIdempotencyKey {
			return nil, &ValidationError{Field: "Idempotency-Key", Message: "must be at most 128 bytes"}
		}
		key = &k
	}

	var result *RedeemResult
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if key != nil {
			replay, err := e.findReplay(tx, req.UserID, benefitID, *key)
			if err != nil || replay != nil {
				result = replay
				return err
			}
		}

		var benefit models.Benefit
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).Where("id = ?", benefitID).First(&benefit).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &NotFoundError{Resource: "benefit", ID: benefitID}
		}
		if err != nil {
			return err
		}
		if !benefit.Active {
			return &InactiveBenefitError{BenefitID: benefit.ID}
		}

		balance, err := e.ledger.DebitTx(tx, req.UserID, benefit.CoinCost)
		if err != nil {
			return err
		}

		record := models.BenefitRedemption{
			UserID:             req.UserID,
			BenefitID:          benefit.ID,
			BenefitTitle:       benefit.Title,
			BenefitDescription: benefit.Description,
			CoinCost:           benefit.CoinCost,
			Comment:            comment,
			IdempotencyKey:     key,
			RedeemedAt:         e.now(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		result = &RedeemResult{Redemption: &record, NewBalance: balance}
		return nil
	})

	if err != nil && key != nil && isDuplicateKey(err) {
		// A concurrent request with the same key committed first.
		result, err = e.replayAfterRace(ctx, req.UserID, benefitID, *key)
	}
	if err != nil {
		err = wrapDBError("redeem", err)
		if IsClientError(err) || IsNotFound(err) {
			e.logger.Info("redemption rejected",
				zap.Uint("user_id", req.UserID),
				zap.String("benefit_id", benefitID),
				zap.Error(err),
			)
		} else {
			e.logger.Error("redemption failed",
				zap.Uint("user_id", req.UserID),
				zap.String("benefit_id", benefitID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	if result.Replayed {
		e.logger.Info("redemption replayed",
			zap.Uint("user_id", req.UserID),
			zap.String("redemption_id", result.Redemption.ID),
		)
		return result, nil
	}

	e.logger.Info("benefit redeemed",
		zap.Uint("user_id", req.UserID),
		zap.String("benefit_id", benefitID),
		zap.Int64("cost", result.Redemption.CoinCost),
		zap.Int64("new_balance", result.NewBalance),
	)
	e.notify(result)
	return result, nil
}

// findReplay returns the stored outcome for (userID, key), or nil when the key is unused.
func (e *RedemptionEngine) findReplay(tx *gorm.DB, userID uint, benefitID, key string) (*RedeemResult, error) {
	var existing models.BenefitRedemption
	err := tx.Where("user_id = ? AND idempotency_key = ?", userID, key).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.BenefitID != benefitID {
		return nil, &ConflictError{Reason: "idempotency key already used for a different benefit"}
	}

	var details models.UserDetails
	if err := tx.Where("user_id = ?", userID).First(&details).Error; err != nil {
		return nil, err
	}
	return &RedeemResult{Redemption: &existing, NewBalance: details.Coins, Replayed: true}, nil
}

func (e *RedemptionEngine) replayAfterRace(ctx context.Context, userID uint, benefitID, key string) (*RedeemResult, error) {
	var result *RedeemResult
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		replay, err := e.findReplay(tx, userID, benefitID, key)
		if err != nil {
			return err
		}
		if replay == nil {
			return &TransientError{Op: "redeem", Err: errors.New("idempotency key collision")}
		}
		result = replay
		return nil
	})
	return result, err
}

func (e *RedemptionEngine) notify(result *RedeemResult) {
	if e.notifier == nil {
		return
	}
	r := result.Redemption
	notice := RedemptionNotice{
		RedemptionID: r.ID,
		UserID:       r.UserID,
		BenefitTitle: r.BenefitTitle,
		CoinCost:     r.CoinCost,
		Comment:      r.Comment,
		NewBalance:   result.NewBalance,
		RedeemedAt:   r.RedeemedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notifier.NotifyRedemption(ctx, notice); err != nil {
			e.logger.Warn("redemption notification failed",
				zap.String("redemption_id", notice.RedemptionID),
				zap.Error(err),
			)
		}
	}()
}

// ListForUser returns the user's redemptions, newest first.
func (e *RedemptionEngine) ListForUser(ctx context.Context, userID uint) ([]models.BenefitRedemption, error) {
	records := []models.BenefitRedemption{}
	err := e.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("redeemed_at DESC").Order("id DESC").
		Find(&records).Error
	if err != nil {
		return nil, wrapDBError("list redemptions", err)
	}
	return records, nil
}

// ListAll returns every redemption joined with the redeeming user, newest first.
// search matches the benefit title, username, email or comment.
func (e *RedemptionEngine) ListAll(ctx context.Context, search string) ([]models.RedemptionView, error) {
	q := e.db.WithContext(ctx).
		Table("benefit_redemptions AS r").
		Select("r.*, u.username AS username, u.email AS email").
		Joins("LEFT JOIN users AS u ON u.id = r.user_id")

	if search = strings.TrimSpace(search); search != "" {
		pattern := likePattern(search)
		q = q.Where(
			"(LOWER(r.benefit_title) LIKE ? ESCAPE '!' OR LOWER(u.username) LIKE ? ESCAPE '!' OR LOWER(u.email) LIKE ? ESCAPE '!' OR LOWER(r.comment) LIKE ? ESCAPE '!')",
			pattern, pattern, pattern, pattern,
		)
	}

	views := []models.RedemptionView{}
	if err := q.Order("r.redeemed_at DESC").Order("r.id DESC").Scan(&views).Error; err != nil {
		return nil, wrapDBError("list all redemptions", err)
	}
	return views, nil
}
