package services

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/benefits/models"
)

// CoinLedger reads and adjusts the per-user coin balance stored on UserDetails.
type CoinLedger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewCoinLedger creates a ledger over db.
func NewCoinLedger(db *gorm.DB, logger *zap.Logger) *CoinLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoinLedger{db: db, logger: logger}
}

// GetBalance returns the user's current balance.
func (l *CoinLedger) GetBalance(ctx context.Context, userID uint) (int64, error) {
	var details models.UserDetails
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&details).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, &NotFoundError{Resource: "user details", ID: strconv.FormatUint(uint64(userID), 10)}
	}
	if err != nil {
		return 0, wrapDBError("get balance", err)
	}
	return details.Coins, nil
}

// DebitTx subtracts amount from the user's balance inside tx and returns the new balance.
// The balance row is locked for the rest of the transaction and the update is guarded
// by coins >= amount, so the balance cannot go negative even without row locks.
func (l *CoinLedger) DebitTx(tx *gorm.DB, userID uint, amount int64) (int64, error) {
	if amount < 0 {
		return 0, &ValidationError{Field: "amount", Message: "must not be negative"}
	}

	var details models.UserDetails
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&details).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, &NotFoundError{Resource: "user details", ID: strconv.FormatUint(uint64(userID), 10)}
	}
	if err != nil {
		return 0, err
	}
	if details.Coins < amount {
		return 0, &InsufficientBalanceError{UserID: userID, Available: details.Coins, Requested: amount}
	}

	res := tx.Model(&models.UserDetails{}).
		Where("user_id = ? AND coins >= ?", userID, amount).
		Update("coins", gorm.Expr("coins - ?", amount))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, &InsufficientBalanceError{UserID: userID, Available: details.Coins, Requested: amount}
	}
	return details.Coins - amount, nil
}

// Credit adds amount to the user's balance, creating the details row on first award.
func (l *CoinLedger) Credit(ctx context.Context, userID uint, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	reason = strings.TrimSpace(reason)

	var balance int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Select("id").First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{Resource: "user", ID: strconv.FormatUint(uint64(userID), 10)}
			}
			return err
		}

		var details models.UserDetails
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&details).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			details = models.UserDetails{UserID: userID, Coins: amount}
			if err := tx.Create(&details).Error; err != nil {
				if isDuplicateKey(err) {
					return &TransientError{Op: "credit", Err: err}
				}
				return err
			}
			balance = amount
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&models.UserDetails{}).
			Where("user_id = ?", userID).
			Update("coins", gorm.Expr("coins + ?", amount)).Error; err != nil {
			return err
		}
		balance = details.Coins + amount
		return nil
	})
	if err != nil {
		return 0, wrapDBError("credit", err)
	}

	l.logger.Info("coins credited",
		zap.Uint("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("new_balance", balance),
		zap.String("reason", reason),
	)
	return balance, nil
}

// EnsureAccount creates an empty balance row for a newly registered user.
func (l *CoinLedger) EnsureAccount(ctx context.Context, userID uint) error {
	details := models.UserDetails{UserID: userID}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&details).Error
	return wrapDBError("ensure account", err)
}
