package services

import (
	"context"
	"fmt"
	"strings"
)

// SendMailFunc sends a plain text mail and gives up when ctx is done.
type SendMailFunc func(ctx context.Context, to, subject, body string) error

// MailNotifier mails every redemption notice to a fixed staff address.
type MailNotifier struct {
	to   string
	send SendMailFunc
}

// NewMailNotifier returns nil when to is empty, which disables notifications.
func NewMailNotifier(to string, send SendMailFunc) *MailNotifier {
	to = strings.TrimSpace(to)
	if to == "" || send == nil {
		return nil
	}
	return &MailNotifier{to: to, send: send}
}

// NotifyRedemption implements Notifier.
func (m *MailNotifier) NotifyRedemption(ctx context.Context, n RedemptionNotice) error {
	if m == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := fmt.Sprintf("Benefit redeemed: %s", n.BenefitTitle)

	var body strings.Builder
	fmt.Fprintf(&body, "Redemption: %s\n", n.RedemptionID)
	fmt.Fprintf(&body, "User ID: %d\n", n.UserID)
	fmt.Fprintf(&body, "Benefit: %s\n", n.BenefitTitle)
	fmt.Fprintf(&body, "Cost: %d coins\n", n.CoinCost)
	fmt.Fprintf(&body, "Remaining balance: %d coins\n", n.NewBalance)
	fmt.Fprintf(&body, "Redeemed at: %s\n", n.RedeemedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	if n.Comment != "" {
		fmt.Fprintf(&body, "\nComment:\n%s\n", n.Comment)
	}
	return m.send(ctx, m.to, subject, body.String())
}
