package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/benefits/models"
	"github.com/cppla/benefits/testutil"
)

func TestGetBalance(t *testing.T) {
	db := testutil.NewDB(t)
	ledger := NewCoinLedger(db, nil)
	user := testutil.CreateUser(t, db, "alice", models.RoleUser, 120)

	balance, err := ledger.GetBalance(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(120), balance)

	_, err = ledger.GetBalance(context.Background(), 9999)
	assert.True(t, IsNotFound(err))
}

func TestDebitTx_InsufficientLeavesBalance(t *testing.T) {
	db := testutil.NewDB(t)
	ledger := NewCoinLedger(db, nil)
	user := testutil.CreateUser(t, db, "bob", models.RoleUser, 20)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.DebitTx(tx, user.ID, 50)
		return err
	})

	var ie *InsufficientBalanceError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, int64(20), ie.Available)
	assert.Equal(t, int64(50), ie.Requested)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Equal(t, int64(20), testutil.Balance(t, db, user.ID))
}

func TestDebitTx_GuardedUpdateRejectsConcurrentDrain(t *testing.T) {
	db := testutil.NewDB(t)
	ledger := NewCoinLedger(db, nil)
	user := testutil.CreateUser(t, db, "carol", models.RoleUser, 100)

	// GIVEN the balance drops to 10 right after DebitTx has read it
	drained := false
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:drain_balance", func(q *gorm.DB) {
		if drained || q.Statement.Table != "user_details" {
			return
		}
		drained = true
		q.Session(&gorm.Session{NewDB: true}).Exec("UPDATE user_details SET coins = 10 WHERE user_id = ?", user.ID)
	}))

	// WHEN debiting an amount the stale read still covers
	var balanceInTx int64
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.DebitTx(tx, user.ID, 60)
		balanceInTx = testutil.Balance(t, tx, user.ID)
		return err
	})

	// THEN the guarded update refuses and nothing goes negative
	require.True(t, drained)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Equal(t, int64(10), balanceInTx)
	assert.Equal(t, int64(100), testutil.Balance(t, db, user.ID))
}

func TestDebitTx_ExactBalanceReachesZero(t *testing.T) {
	db := testutil.NewDB(t)
	ledger := NewCoinLedger(db, nil)
	user := testutil.CreateUser(t, db, "carol", models.RoleUser, 50)

	var balance int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = ledger.DebitTx(tx, user.ID, 50)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
	assert.Equal(t, int64(0), testutil.Balance(t, db, user.ID))
}

func TestDebitTx_RejectsNegativeAmount(t *testing.T) {
	db := testutil.NewDB(t)
	ledger := NewCoinLedger(db, nil)
	user := testutil.CreateUser(t, db, "dave", models.RoleUser, 10)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.DebitTx(tx, user.ID, -5)
		return err
	})
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, int64(10), testutil.Balance(t, db, user.ID))
}

func TestCredit(t *testing.T) {
	db := testutil.NewDB(t)
	ledger := NewCoinLedger(db, nil)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, "erin", models.RoleUser, 10)

	balance, err := ledger.Credit(ctx, user.ID, 40, "order #1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
	assert.Equal(t, int64(50), testutil.Balance(t, db, user.ID))

	_, err = ledger.Credit(ctx, user.ID, 0, "")
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = ledger.Credit(ctx, 4242, 10, "")
	assert.True(t, IsNotFound(err))
}

func TestCredit_CreatesMissingAccount(t *testing.T) {
	db := testutil.NewDB(t)
	ledger := NewCoinLedger(db, nil)
	user := models.User{Username: "frank"}
	require.NoError(t, db.Create(&user).Error)

	balance, err := ledger.Credit(context.Background(), user.ID, 75, "welcome bonus")
	require.NoError(t, err)
	assert.Equal(t, int64(75), balance)
	assert.Equal(t, int64(75), testutil.Balance(t, db, user.ID))
}

func TestEnsureAccount_Idempotent(t *testing.T) {
	db := testutil.NewDB(t)
	ledger := NewCoinLedger(db, nil)
	user := models.User{Username: "gina"}
	require.NoError(t, db.Create(&user).Error)

	require.NoError(t, ledger.EnsureAccount(context.Background(), user.ID))
	require.NoError(t, ledger.EnsureAccount(context.Background(), user.ID))

	var n int64
	require.NoError(t, db.Model(&models.UserDetails{}).Where("user_id = ?", user.ID).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}
