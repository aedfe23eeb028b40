package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type ListReferralUseRequest struct {
	ReferralID snowflake.ID
	FraudOnly  bool
	Limit      int
}

type ListReferralUseResponse struct {
	ReferralUses []ReferralUse `json:"referral_uses"`
}

type Service interface {
	// Attach creates the referral-use row at vendor signup; a vendor can be
	// attached to at most one referral code, ever.
	Attach(ctx context.Context, vendorID snowflake.ID, code string) (ReferralUse, error)
	// QualifySignup credits the signup milestone once; repeat calls are no-ops.
	QualifySignup(ctx context.Context, referralUseID snowflake.ID, amount int64) (ReferralUse, error)
	// QualifyFirstListing credits the listing milestone once and records the
	// first listing id; later listings never re-trigger it.
	QualifyFirstListing(ctx context.Context, referralUseID snowflake.ID, listingID snowflake.ID, amount int64) (ReferralUse, error)
	// MarkFraud flips the exclusion flag only; aggregation applies it at
	// settlement time.
	MarkFraud(ctx context.Context, referralUseID snowflake.ID, isFraud bool) (ReferralUse, error)
	Get(ctx context.Context, referralUseID snowflake.ID) (*ReferralUse, error)
	GetByVendor(ctx context.Context, vendorID snowflake.ID) (*ReferralUse, error)
	List(ctx context.Context, req ListReferralUseRequest) (ListReferralUseResponse, error)
}

var (
	ErrUseNotFound    = errors.New("referral_use_not_found")
	ErrVendorAttached = errors.New("vendor_already_attached")
	ErrInvalidVendor  = errors.New("invalid_vendor")
	ErrInvalidListing = errors.New("invalid_listing")
	ErrInvalidReward  = errors.New("invalid_reward_amount")
	ErrCodeInactive   = errors.New("referral_code_inactive")
)
