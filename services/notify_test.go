package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailNotifier(t *testing.T) {
	assert.Nil(t, NewMailNotifier("  ", func(context.Context, string, string, string) error { return nil }))

	var to, subject, body string
	var sendCtx context.Context
	n := NewMailNotifier("hr@example.com", func(ctx context.Context, rcpt, s, b string) error {
		sendCtx, to, subject, body = ctx, rcpt, s, b
		return nil
	})
	require.NotNil(t, n)

	deadline := time.Now().Add(time.Minute)
	notifyCtx, stop := context.WithDeadline(context.Background(), deadline)
	defer stop()
	err := n.NotifyRedemption(notifyCtx, RedemptionNotice{
		RedemptionID: "r-1",
		UserID:       7,
		BenefitTitle: "Spa day",
		CoinCost:     50,
		NewBalance:   70,
		Comment:      "next week",
		RedeemedAt:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	got, ok := sendCtx.Deadline()
	require.True(t, ok)
	assert.Equal(t, deadline, got)
	assert.Equal(t, "hr@example.com", to)
	assert.Equal(t, "Benefit redeemed: Spa day", subject)
	assert.Contains(t, body, "User ID: 7")
	assert.Contains(t, body, "Cost: 50 coins")
	assert.Contains(t, body, "Remaining balance: 70 coins")
	assert.Contains(t, body, "next week")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(n.NotifyRedemption(ctx, RedemptionNotice{}), context.Canceled))

	var disabled *MailNotifier
	assert.NoError(t, disabled.NotifyRedemption(context.Background(), RedemptionNotice{}))
}
