package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ReferralCode is a partner's attribution token with denormalized counters.
// The counters are a fast-read cache maintained by live event paths;
// settlement never reads them and always recomputes from the raw click and
// referral-use rows.
type ReferralCode struct {
	ID                  snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerID             snowflake.ID `gorm:"not null;uniqueIndex:ux_referral_codes_owner" json:"owner_id"`
	Code                string       `gorm:"type:text;not null;uniqueIndex:ux_referral_codes_code" json:"code"`
	IsActive            bool         `gorm:"not null;default:true" json:"is_active"`
	TotalReferrals      int64        `gorm:"not null;default:0" json:"total_referrals"`
	SuccessfulReferrals int64        `gorm:"not null;default:0" json:"successful_referrals"`
	TotalClicks         int64        `gorm:"not null;default:0" json:"total_clicks"`
	TotalEarnings       int64        `gorm:"not null;default:0" json:"total_earnings"`
	PendingEarnings     int64        `gorm:"not null;default:0" json:"pending_earnings"`
	CreatedAt           time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt           time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (ReferralCode) TableName() string { return "referral_codes" }
