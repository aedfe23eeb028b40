package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CodeFailure records one referral code whose aggregation failed. The run
// continues past it; the caller decides whether to retry the period.
type CodeFailure struct {
	ReferralID snowflake.ID `json:"referral_id"`
	Reason     string       `json:"reason"`
}

// GenerateResult summarises one statement-generation run.
type GenerateResult struct {
	PayoutPeriodID     snowflake.ID  `json:"payout_period_id"`
	CodesProcessed     int           `json:"codes_processed"`
	StatementsUpserted int           `json:"statements_upserted"`
	Failures           []CodeFailure `json:"failures,omitempty"`
}

// LockResult is the outcome of locking a payout period.
type LockResult struct {
	Period     PayoutPeriod   `json:"period"`
	Generation GenerateResult `json:"generation"`
}

type Service interface {
	// LockPeriod freezes a calendar month and generates its statements.
	// A zero year/month locks the previous calendar month. Locking a
	// period that is no longer OPEN fails; locking is not re-enterable.
	LockPeriod(ctx context.Context, year int, month time.Month) (LockResult, error)
	// GenerateStatements recomputes every statement of a locked period
	// from the raw ledger rows. Safe to re-run any number of times.
	GenerateStatements(ctx context.Context, periodID snowflake.ID) (GenerateResult, error)
	ApproveStatement(ctx context.Context, statementID snowflake.ID) (MonthlyStatement, error)
	MarkPaid(ctx context.Context, statementID snowflake.ID, paymentReference string) (MonthlyStatement, error)
	// CompletePeriod marks a locked period terminal once every statement
	// is PAID.
	CompletePeriod(ctx context.Context, periodID snowflake.ID) (PayoutPeriod, error)
	GetPeriod(ctx context.Context, periodID snowflake.ID) (*PayoutPeriod, error)
	ListPeriods(ctx context.Context) ([]PayoutPeriod, error)
	ListStatements(ctx context.Context, periodID snowflake.ID) ([]MonthlyStatement, error)
	StatementHistory(ctx context.Context, userID snowflake.ID) ([]MonthlyStatement, error)
}

var (
	ErrInvalidMonth      = errors.New("invalid_month")
	ErrPeriodNotFound    = errors.New("payout_period_not_found")
	ErrPeriodNotOpen     = errors.New("payout_period_not_open")
	ErrPeriodNotLocked   = errors.New("payout_period_not_locked")
	ErrStatementNotFound = errors.New("statement_not_found")
	ErrStatementNotDraft = errors.New("statement_not_draft")
	ErrStatementPaid     = errors.New("statement_already_paid")
	ErrStatementsUnpaid  = errors.New("statements_not_all_paid")
	ErrMissingReference  = errors.New("missing_payment_reference")
)
