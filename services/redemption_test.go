package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/benefits/models"
	"github.com/cppla/benefits/testutil"
)

type recordingNotifier struct {
	notices chan RedemptionNotice
}

func (n *recordingNotifier) NotifyRedemption(_ context.Context, notice RedemptionNotice) error {
	n.notices <- notice
	return nil
}

func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func TestRedeem_Scenario(t *testing.T) {
	db := testutil.NewDB(t)
	engine := NewRedemptionEngine(db, NewCoinLedger(db, nil), nil)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, "alice", models.RoleUser, 120)
	b1 := testutil.CreateBenefit(t, db, "Spa voucher", 50, true)

	res, err := engine.Redeem(ctx, RedeemRequest{UserID: user.ID, BenefitID: b1.ID, Comment: "for friday"})
	require.NoError(t, err)
	assert.Equal(t, int64(70), res.NewBalance)
	assert.False(t, res.Replayed)
	assert.Equal(t, b1.ID, res.Redemption.BenefitID)
	assert.Equal(t, "Spa voucher", res.Redemption.BenefitTitle)
	assert.Equal(t, int64(50), res.Redemption.CoinCost)
	assert.Equal(t, "for friday", res.Redemption.Comment)
	assert.EqualValues(t, 1, testutil.CountRedemptions(t, db, user.ID))

	res, err = engine.Redeem(ctx, RedeemRequest{UserID: user.ID, BenefitID: b1.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.NewBalance)

	_, err = engine.Redeem(ctx, RedeemRequest{UserID: user.ID, BenefitID: b1.ID})
	var ie *InsufficientBalanceError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, int64(20), ie.Available)
	assert.Equal(t, int64(20), testutil.Balance(t, db, user.ID))
	assert.EqualValues(t, 2, testutil.CountRedemptions(t, db, user.ID))
}

func TestRedeem_RejectionsChangeNothing(t *testing.T) {
	db := testutil.NewDB(t)
	engine := NewRedemptionEngine(db, NewCoinLedger(db, nil), nil, WithCommentMax(10))
	ctx := context.Background()

	user := testutil.CreateUser(t, db, "bob", models.RoleUser, 100)
	inactive := testutil.CreateBenefit(t, db, "Retired", 10, false)
	active := testutil.CreateBenefit(t, db, "Active", 10, true)

	_, err := engine.Redeem(ctx, RedeemRequest{UserID: user.ID, BenefitID: inactive.ID})
	assert.True(t, errors.Is(err, ErrInactiveBenefit))

	_, err = engine.Redeem(ctx, RedeemRequest{UserID: user.ID, BenefitID: "does-not-exist"})
	assert.True(t, IsNotFound(err))

	_, err = engine.Redeem(ctx, RedeemRequest{UserID: user.ID, BenefitID: ""})
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = engine.Redeem(ctx, RedeemRequest{UserID: user.ID, BenefitID: active.ID, Comment: strings.Repeat("x", 11)})
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = engine.Redeem(ctx, RedeemRequest{UserID: 777, BenefitID: active.ID})
	assert.True(t, IsNotFound(err))

	assert.Equal(t, int64(100), testutil.Balance(t, db, user.ID))
	assert.Zero(t, testutil.CountRedemptions(t, db, user.ID))
}

func TestRedeem_ConcurrentOnlyOneAffordable(t *testing.T) {
	db := testutil.NewDB(t)
	engine := NewRedemptionEngine(db, NewCoinLedger(db, nil), nil)
	user := testutil.CreateUser(t, db, "carol", models.RoleUser, 100)
	b := testutil.CreateBenefit(t, db, "Headphones", 80, true)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	start := make(chan struct{})
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = engine.Redeem(context.Background(), RedeemRequest{UserID: user.ID, BenefitID: b.ID})
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, int64(20), testutil.Balance(t, db, user.ID))
	assert.EqualValues(t, 1, testutil.CountRedemptions(t, db, user.ID))
}

func TestRedeem_ManyConcurrentNeverNegative(t *testing.T) {
	db := testutil.NewDB(t)
	engine := NewRedemptionEngine(db, NewCoinLedger(db, nil), nil)
	user := testutil.CreateUser(t, db, "dave", models.RoleUser, 500)
	b := testutil.CreateBenefit(t, db, "Snack", 30, true)

	var wg sync.WaitGroup
	var succeeded int64
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Redeem(context.Background(), RedeemRequest{UserID: user.ID, BenefitID: b.ID}); err == nil {
				atomic.AddInt64(&succeeded, 1)
			} else {
				assert.True(t, errors.Is(err, ErrInsufficientBalance), "unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// 500 / 30 = 16 affordable redemptions, 20 coins left
	assert.Equal(t, int64(16), succeeded)
	assert.Equal(t, int64(20), testutil.Balance(t, db, user.ID))
	assert.Equal(t, succeeded, testutil.CountRedemptions(t, db, user.ID))
}

func TestRedeem_IdempotencyKey(t *testing.T) {
	db := testutil.NewDB(t)
	engine := NewRedemptionEngine(db, NewCoinLedger(db, nil), nil)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, "erin", models.RoleUser, 100)
	other := testutil.CreateUser(t, db, "fred", models.RoleUser, 100)
	b := testutil.CreateBenefit(t, db, "Taxi", 40, true)
	b2 := testutil.CreateBenefit(t, db, "Bus", 5, true)

	first, err := engine.Redeem(ctx, RedeemRequest{UserID: user.ID, BenefitID: b.ID, IdempotencyKey: "req-1"})
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, int64(60), first.NewBalance)

	replay, err := engine.Redeem(ctx, RedeemRequest{UserID: user.ID, BenefitID: b.ID, IdempotencyKey: "req-1"})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Redemption.ID, replay.Redemption.ID)
	assert.Equal(t, int64(60), replay.NewBalance)
	assert.Equal(t, int64(60), testutil.Balance(t, db, user.ID))
	assert.EqualValues(t, 1, testutil.CountRedemptions(t, db, user.ID))

	_, err = engine.Redeem(ctx, RedeemRequest{UserID: user.ID, BenefitID: b2.ID, IdempotencyKey: "req-1"})
	assert.True(t, errors.Is(err, ErrConflict))

	// Keys are scoped per user.
	res, err := engine.Redeem(ctx, RedeemRequest{UserID: other.ID, BenefitID: b.ID, IdempotencyKey: "req-1"})
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	// Without a key the same request debits again.
	_, err = engine.Redeem(ctx, RedeemRequest{UserID: user.ID, BenefitID: b.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(20), testutil.Balance(t, db, user.ID))

	_, err = engine.Redeem(ctx, RedeemRequest{UserID: user.ID, BenefitID: b.ID, IdempotencyKey: strings.Repeat("k", 129)})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestRedeem_ConcurrentSameKeyDebitsOnce(t *testing.T) {
	db := testutil.NewDB(t)
	engine := NewRedemptionEngine(db, NewCoinLedger(db, nil), nil)
	user := testutil.CreateUser(t, db, "gail", models.RoleUser, 100)
	b := testutil.CreateBenefit(t, db, "Pizza", 30, true)

	var wg sync.WaitGroup
	results := make([]*RedeemResult, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := engine.Redeem(context.Background(), RedeemRequest{UserID: user.ID, BenefitID: b.ID, IdempotencyKey: "same"})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	var fresh int
	for _, r := range results {
		require.NotNil(t, r)
		if !r.Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, int64(70), testutil.Balance(t, db, user.ID))
	assert.EqualValues(t, 1, testutil.CountRedemptions(t, db, user.ID))
}

func TestRedeem_SnapshotSurvivesBenefitEdit(t *testing.T) {
	db := testutil.NewDB(t)
	engine := NewRedemptionEngine(db, NewCoinLedger(db, nil), nil)
	store := NewCatalogStore(db, nil, 0, nil)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, "hal", models.RoleUser, 100)
	b := testutil.CreateBenefit(t, db, "Old title", 10, true)

	_, err := engine.Redeem(ctx, RedeemRequest{UserID: user.ID, BenefitID: b.ID})
	require.NoError(t, err)

	title := "New title"
	_, err = store.Update(ctx, b.ID, BenefitPatch{Title: &title})
	require.NoError(t, err)

	records, err := engine.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Old title", records[0].BenefitTitle)
}

func TestRedeem_NotifiesAfterCommit(t *testing.T) {
	db := testutil.NewDB(t)
	notifier := &recordingNotifier{notices: make(chan RedemptionNotice, 1)}
	engine := NewRedemptionEngine(db, NewCoinLedger(db, nil), nil, WithNotifier(notifier))
	user := testutil.CreateUser(t, db, "ivy", models.RoleUser, 100)
	b := testutil.CreateBenefit(t, db, "Massage", 60, true)

	res, err := engine.Redeem(context.Background(), RedeemRequest{UserID: user.ID, BenefitID: b.ID, Comment: "thanks"})
	require.NoError(t, err)

	select {
	case n := <-notifier.notices:
		assert.Equal(t, res.Redemption.ID, n.RedemptionID)
		assert.Equal(t, "Massage", n.BenefitTitle)
		assert.Equal(t, int64(40), n.NewBalance)
		assert.Equal(t, "thanks", n.Comment)
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}

	// A rejected redemption sends nothing.
	_, err = engine.Redeem(context.Background(), RedeemRequest{UserID: user.ID, BenefitID: b.ID})
	require.Error(t, err)
	select {
	case n := <-notifier.notices:
		t.Fatalf("unexpected notice %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListForUserAndListAll(t *testing.T) {
	db := testutil.NewDB(t)
	clock := steppingClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	engine := NewRedemptionEngine(db, NewCoinLedger(db, nil), nil, WithClock(clock))
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice", models.RoleUser, 100)
	bob := testutil.CreateUser(t, db, "bob", models.RoleUser, 100)
	tea := testutil.CreateBenefit(t, db, "Tea", 5, true)
	book := testutil.CreateBenefit(t, db, "Book", 20, true)

	for _, req := range []RedeemRequest{
		{UserID: alice.ID, BenefitID: tea.ID},
		{UserID: bob.ID, BenefitID: book.ID, Comment: "sci-fi please"},
		{UserID: alice.ID, BenefitID: book.ID},
	} {
		_, err := engine.Redeem(ctx, req)
		require.NoError(t, err)
	}

	mine, err := engine.ListForUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "Book", mine[0].BenefitTitle)
	assert.Equal(t, "Tea", mine[1].BenefitTitle)

	empty, err := engine.ListForUser(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, empty)

	all, err := engine.ListAll(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alice", all[0].Username)
	assert.Equal(t, "bob", all[1].Username)
	assert.Equal(t, "bob@example.com", all[1].Email)
	assert.Equal(t, "Book", all[1].BenefitTitle)

	byUser, err := engine.ListAll(ctx, "BOB")
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "sci-fi please", byUser[0].Comment)

	byTitle, err := engine.ListAll(ctx, "tea")
	require.NoError(t, err)
	require.Len(t, byTitle, 1)
	assert.Equal(t, alice.ID, byTitle[0].UserID)

	again, err := engine.ListAll(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, all, again)
}
