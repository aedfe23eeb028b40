package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PeriodStatus is the lifecycle state of a payout period.
type PeriodStatus string

const (
	PeriodStatusOpen      PeriodStatus = "OPEN"
	PeriodStatusLocked    PeriodStatus = "LOCKED"
	PeriodStatusCompleted PeriodStatus = "COMPLETED"
)

// StatementStatus is the approval lifecycle of a monthly statement.
type StatementStatus string

const (
	StatementStatusDraft    StatementStatus = "DRAFT"
	StatementStatusApproved StatementStatus = "APPROVED"
	StatementStatusPaid     StatementStatus = "PAID"
)

// PayoutPeriod is one calendar month of referral activity, covering
// [StartDate, EndDate) with EndDate exclusive. Locking is one-way;
// COMPLETED is an explicit terminal marker set once every statement in
// the period is PAID.
type PayoutPeriod struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Month     int          `gorm:"not null;uniqueIndex:ux_payout_periods_month_year" json:"month"`
	Year      int          `gorm:"not null;uniqueIndex:ux_payout_periods_month_year" json:"year"`
	StartDate time.Time    `gorm:"not null" json:"start_date"`
	EndDate   time.Time    `gorm:"not null" json:"end_date"`
	Status    PeriodStatus `gorm:"type:text;not null;default:'OPEN'" json:"status"`
	LockedAt  *time.Time   `json:"locked_at,omitempty"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (PayoutPeriod) TableName() string { return "payout_periods" }

// MonthlyStatement is a per-user earnings record under a payout period.
// Regeneration overwrites only the four aggregate columns; status, paid_at
// and payment_reference survive any recompute.
type MonthlyStatement struct {
	ID                    snowflake.ID    `gorm:"primaryKey" json:"id"`
	PayoutPeriodID        snowflake.ID    `gorm:"not null;uniqueIndex:ux_monthly_statements_period_user" json:"payout_period_id"`
	UserID                snowflake.ID    `gorm:"not null;uniqueIndex:ux_monthly_statements_period_user;index" json:"user_id"`
	VendorsReferredCount  int64           `gorm:"not null;default:0" json:"vendors_referred_count"`
	VendorsActivatedCount int64           `gorm:"not null;default:0" json:"vendors_activated_count"`
	ClicksCount           int64           `gorm:"not null;default:0" json:"clicks_count"`
	TotalEarned           int64           `gorm:"not null;default:0" json:"total_earned"`
	Status                StatementStatus `gorm:"type:text;not null;default:'DRAFT'" json:"status"`
	PaidAt                *time.Time      `json:"paid_at,omitempty"`
	PaymentReference      string          `gorm:"type:text;not null;default:''" json:"payment_reference"`
	CreatedAt             time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (MonthlyStatement) TableName() string { return "monthly_statements" }
