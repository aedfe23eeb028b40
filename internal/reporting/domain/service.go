package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// LiveStats is a partner's current-month view computed directly from the
// raw event rows. It is advisory; settled numbers come from statements.
type LiveStats struct {
	OwnerID            snowflake.ID `json:"owner_id"`
	Code               string       `json:"code"`
	ThisMonthClicks    int64        `json:"this_month_clicks"`
	ThisMonthSignups   int64        `json:"this_month_signups"`
	ThisMonthActivated int64        `json:"this_month_activated"`
	ThisMonthEarnings  int64        `json:"this_month_earnings"`
	ConversionRate     float64      `json:"conversion_rate"`
	FraudCount         int64        `json:"fraud_count"`
	IsSuspicious       bool         `json:"is_suspicious"`
}

// Overview is the admin roll-up across every referral code.
type Overview struct {
	TotalCodes         int64       `json:"total_codes"`
	ActiveCodes        int64       `json:"active_codes"`
	ThisMonthClicks    int64       `json:"this_month_clicks"`
	ThisMonthSignups   int64       `json:"this_month_signups"`
	ThisMonthActivated int64       `json:"this_month_activated"`
	ThisMonthEarnings  int64       `json:"this_month_earnings"`
	SuspiciousCodes    []LiveStats `json:"suspicious_codes,omitempty"`
}

type Service interface {
	// LiveStats reports the owner's current calendar month. Read-only.
	LiveStats(ctx context.Context, ownerID snowflake.ID) (LiveStats, error)
	// Overview reports the whole program for the current month. Served
	// from a short-lived cache; stale reads are acceptable.
	Overview(ctx context.Context) (Overview, error)
}
