package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ClickStatus is the qualification state of a referral click.
type ClickStatus string

const (
	ClickStatusPending    ClickStatus = "PENDING"
	ClickStatusQualified  ClickStatus = "QUALIFIED"
	ClickStatusFraudulent ClickStatus = "FRAUDULENT"
)

// ReferralClick is a single inbound click attributed to a referral code.
// Duplicate rapid clicks from the same IP are recorded as-is; there is no
// dedup window, and a click that never qualifies stays PENDING forever.
// Invariant: QualifiedAt is set if and only if Status is QUALIFIED.
type ReferralClick struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	ReferralID   snowflake.ID `gorm:"not null;index" json:"referral_id"`
	IPAddress    string       `gorm:"type:text;not null" json:"ip_address"`
	ClickedAt    time.Time    `gorm:"not null;index" json:"clicked_at"`
	Status       ClickStatus  `gorm:"type:text;not null;default:'PENDING';index" json:"status"`
	QualifiedAt  *time.Time   `gorm:"index" json:"qualified_at"`
	RewardAmount int64        `gorm:"not null;default:0" json:"reward_amount"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (ReferralClick) TableName() string { return "referral_clicks" }
