package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// RewardStatus is the qualification state of a single reward milestone.
type RewardStatus string

const (
	RewardStatusPending   RewardStatus = "PENDING"
	RewardStatusQualified RewardStatus = "QUALIFIED"
)

// ReferralUseStatus is the overall lifecycle of a referred vendor.
type ReferralUseStatus string

const (
	ReferralUseStatusPending   ReferralUseStatus = "PENDING"
	ReferralUseStatusCompleted ReferralUseStatus = "COMPLETED"
	ReferralUseStatusCancelled ReferralUseStatus = "CANCELLED"
)

// ReferralUse tracks one referred vendor from signup through KYC/payment and
// first listing. Commission always equals the sum of qualified reward
// amounts. IsFraud excludes the row from settlement aggregation without
// touching its reward fields or history.
type ReferralUse struct {
	ID                  snowflake.ID      `gorm:"primaryKey" json:"id"`
	ReferralID          snowflake.ID      `gorm:"not null;index" json:"referral_id"`
	VendorID            snowflake.ID      `gorm:"not null;uniqueIndex:ux_referral_uses_vendor" json:"vendor_id"`
	SignupRewardStatus  RewardStatus      `gorm:"type:text;not null;default:'PENDING'" json:"signup_reward_status"`
	ListingRewardStatus RewardStatus      `gorm:"type:text;not null;default:'PENDING'" json:"listing_reward_status"`
	SignupRewardAmount  int64             `gorm:"not null;default:0" json:"signup_reward_amount"`
	ListingRewardAmount int64             `gorm:"not null;default:0" json:"listing_reward_amount"`
	IsFraud             bool              `gorm:"not null;default:false;index" json:"is_fraud"`
	FirstListingID      *snowflake.ID     `gorm:"" json:"first_listing_id"`
	Status              ReferralUseStatus `gorm:"type:text;not null;default:'PENDING';index" json:"status"`
	Commission          int64             `gorm:"not null;default:0" json:"commission"`
	CommissionPaid      bool              `gorm:"not null;default:false" json:"commission_paid"`
	CreatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"updated_at"`
}

// TableName sets the database table name.
func (ReferralUse) TableName() string { return "referral_uses" }
