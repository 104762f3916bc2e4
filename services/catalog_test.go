package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/benefits/models"
	"github.com/cppla/benefits/testutil"
	"github.com/cppla/benefits/utils"
)

func seedBenefit(t *testing.T, db *gorm.DB, title string, cost int64, active bool, createdAt time.Time) models.Benefit {
	t.Helper()
	b := models.Benefit{Title: title, Description: title + " perk", CoinCost: cost, Active: active, CreatedAt: createdAt}
	require.NoError(t, db.Create(&b).Error)
	return b
}

func titles(benefits []models.Benefit) []string {
	out := make([]string, 0, len(benefits))
	for _, b := range benefits {
		out = append(out, b.Title)
	}
	return out
}

func TestCatalogCreate_Validation(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewCatalogStore(db, nil, 0, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		in    BenefitInput
		field string
	}{
		{"empty title", BenefitInput{Title: "  ", Description: "d", CoinCost: 1}, "title"},
		{"markup only title", BenefitInput{Title: "<b></b>", Description: "d", CoinCost: 1}, "title"},
		{"empty description", BenefitInput{Title: "t", Description: "", CoinCost: 1}, "description"},
		{"negative cost", BenefitInput{Title: "t", Description: "d", CoinCost: -1}, "coin_cost"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Create(ctx, tc.in)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestCatalogCreate_SanitisesAndAllowsZeroCost(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewCatalogStore(db, nil, 0, nil)

	b, err := store.Create(context.Background(), BenefitInput{
		Title:       "  Gym <script>alert(1)</script>pass & more ",
		Description: "<p>Monthly</p>",
		CoinCost:    0,
		Active:      false,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "Gym pass & more", b.Title)
	assert.Equal(t, "Monthly", b.Description)
	assert.False(t, b.Active)

	stored, err := store.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Equal(t, int64(0), stored.CoinCost)
}

func TestCatalogList_OrderSearchAndVisibility(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewCatalogStore(db, nil, 0, nil)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seedBenefit(t, db, "Cinema ticket", 30, true, base)
	seedBenefit(t, db, "Extra day_off", 200, true, base.Add(time.Hour))
	seedBenefit(t, db, "Old mug", 5, false, base.Add(2*time.Hour))

	all, err := store.List(ctx, BenefitFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Old mug", "Extra day_off", "Cinema ticket"}, titles(all))

	available, err := store.List(ctx, BenefitFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Extra day_off", "Cinema ticket"}, titles(available))

	found, err := store.List(ctx, BenefitFilter{Search: "CINEMA"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Cinema ticket"}, titles(found))

	// '_' is literal, not a single-character wildcard
	underscore, err := store.List(ctx, BenefitFilter{Search: "y_o"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Extra day_off"}, titles(underscore))

	none, err := store.List(ctx, BenefitFilter{Search: "%"})
	require.NoError(t, err)
	assert.Empty(t, none)

	again, err := store.List(ctx, BenefitFilter{})
	require.NoError(t, err)
	assert.Equal(t, all, again)
}

func TestCatalogToggle_ChangesAvailability(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewCatalogStore(db, nil, 0, nil)
	ctx := context.Background()
	b := seedBenefit(t, db, "Lunch", 50, true, time.Now())

	toggled, err := store.ToggleActive(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Active)

	available, err := store.List(ctx, BenefitFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, available)

	all, err := store.List(ctx, BenefitFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Active)

	toggled, err = store.ToggleActive(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Active)

	_, err = store.ToggleActive(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestCatalogUpdate(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewCatalogStore(db, nil, 0, nil)
	ctx := context.Background()
	b := seedBenefit(t, db, "Coffee", 10, true, time.Now())

	cost := int64(15)
	updated, err := store.Update(ctx, b.ID, BenefitPatch{CoinCost: &cost})
	require.NoError(t, err)
	assert.Equal(t, int64(15), updated.CoinCost)
	assert.Equal(t, "Coffee", updated.Title)

	inactive := false
	updated, err = store.Update(ctx, b.ID, BenefitPatch{Active: &inactive})
	require.NoError(t, err)
	assert.False(t, updated.Active)

	negative := int64(-3)
	_, err = store.Update(ctx, b.ID, BenefitPatch{CoinCost: &negative})
	assert.True(t, errors.Is(err, ErrValidation))

	blank := " "
	_, err = store.Update(ctx, b.ID, BenefitPatch{Title: &blank})
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = store.Update(ctx, "missing", BenefitPatch{CoinCost: &cost})
	assert.True(t, IsNotFound(err))
}

func TestCatalogDelete(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewCatalogStore(db, nil, 0, nil)
	engine := NewRedemptionEngine(db, NewCoinLedger(db, nil), nil)
	ctx := context.Background()
	user := testutil.CreateUser(t, db, "hank", models.RoleUser, 100)

	unused := seedBenefit(t, db, "Unused", 10, true, time.Now())
	require.NoError(t, store.Delete(ctx, unused.ID))
	_, err := store.Get(ctx, unused.ID)
	assert.True(t, IsNotFound(err))

	err = store.Delete(ctx, unused.ID)
	assert.True(t, IsNotFound(err))

	used := seedBenefit(t, db, "Used", 10, true, time.Now())
	_, err = engine.Redeem(ctx, RedeemRequest{UserID: user.ID, BenefitID: used.ID})
	require.NoError(t, err)

	err = store.Delete(ctx, used.ID)
	assert.True(t, errors.Is(err, ErrConflict))
	_, err = store.Get(ctx, used.ID)
	assert.NoError(t, err)
}

func TestCatalogCache_ServesAndInvalidates(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	db := testutil.NewDB(t)
	store := NewCatalogStore(db, utils.NewRedisCache(rc), time.Minute, nil)
	ctx := context.Background()

	seedBenefit(t, db, "Books", 20, true, time.Now())
	first, err := store.List(ctx, BenefitFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, mr.Exists(CachePrefix+"available:q="))

	// Written behind the store's back: the cached listing is still served.
	seedBenefit(t, db, "Concert", 80, true, time.Now())
	cached, err := store.List(ctx, BenefitFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	// Any write through the store drops every cached listing.
	_, err = store.Create(ctx, BenefitInput{Title: "Museum", Description: "entry", CoinCost: 15, Active: true})
	require.NoError(t, err)
	assert.False(t, mr.Exists(CachePrefix+"available:q="))

	fresh, err := store.List(ctx, BenefitFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, fresh, 3)
}

func TestCatalogCache_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rc.Close() })
	mr.Close()

	db := testutil.NewDB(t)
	store := NewCatalogStore(db, utils.NewRedisCache(rc), time.Minute, nil)
	seedBenefit(t, db, "Books", 20, true, time.Now())

	list, err := store.List(context.Background(), BenefitFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%abc%", likePattern("ABC"))
	assert.Equal(t, "%50!%!_off!!%", likePattern("50%_off!"))
}
