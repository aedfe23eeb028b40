package notification

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/partnerly/partnerly/internal/observability/metrics"
	"github.com/partnerly/partnerly/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RecipientResolver maps a user id to a deliverable address. User accounts
// live outside this subsystem, so resolution is pluggable; the default
// resolves nothing and all sends become no-ops.
type RecipientResolver interface {
	Resolve(ctx context.Context, userID snowflake.ID) (string, error)
}

type noopResolver struct{}

func (noopResolver) Resolve(ctx context.Context, userID snowflake.ID) (string, error) {
	return "", nil
}

func NewNoopResolver() RecipientResolver { return noopResolver{} }

type Params struct {
	fx.In

	Log        *zap.Logger
	Email      email.Provider
	Resolver   RecipientResolver
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Notifier sends partner-facing mail. Every send is fire-and-forget: a
// delivery failure is logged and counted, never returned to the caller.
type Notifier struct {
	log        *zap.Logger
	email      email.Provider
	resolver   RecipientResolver
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Notifier {
	return &Notifier{
		log:        p.Log.Named("notification"),
		email:      p.Email,
		resolver:   p.Resolver,
		obsMetrics: p.ObsMetrics,
	}
}

// CommissionQualified notifies a partner that a referral reward qualified.
func (n *Notifier) CommissionQualified(ctx context.Context, userID snowflake.ID, rewardType string, amount int64) {
	subject := "You earned a referral commission"
	body := fmt.Sprintf("<p>A %s reward of %s just qualified on your referral account.</p>", rewardType, formatAmount(amount))
	n.send(ctx, "commission_qualified", userID, subject, body)
}

// PayoutPaid notifies a partner that a monthly statement was paid out.
func (n *Notifier) PayoutPaid(ctx context.Context, userID snowflake.ID, amount int64, reference string) {
	subject := "Your referral payout is on its way"
	body := fmt.Sprintf("<p>Your statement of %s was paid. Payment reference: %s.</p>", formatAmount(amount), reference)
	n.send(ctx, "payout_paid", userID, subject, body)
}

func (n *Notifier) send(ctx context.Context, kind string, userID snowflake.ID, subject, body string) {
	recipient, err := n.resolver.Resolve(ctx, userID)
	if err != nil {
		n.fail(ctx, kind, userID, err)
		return
	}
	if recipient == "" {
		return
	}

	if err := n.email.Send(ctx, []string{recipient}, subject, body); err != nil {
		n.fail(ctx, kind, userID, err)
	}
}

func (n *Notifier) fail(ctx context.Context, kind string, userID snowflake.ID, err error) {
	n.log.Warn("notification send failed",
		zap.String("kind", kind),
		zap.String("user_id", userID.String()),
		zap.Error(err),
	)
	if n.obsMetrics != nil {
		n.obsMetrics.RecordNotificationFailure(ctx, kind)
	}
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
