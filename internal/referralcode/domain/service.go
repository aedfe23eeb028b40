package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type ValidateResponse struct {
	Valid         bool  `json:"valid"`
	DiscountedFee int64 `json:"discounted_fee,omitempty"`
}

type ListReferralCodeRequest struct {
	Limit int
}

type ListReferralCodeResponse struct {
	ReferralCodes []ReferralCode `json:"referral_codes"`
}

type Service interface {
	// CreateOrGet returns the owner's existing code or mints a new one.
	CreateOrGet(ctx context.Context, ownerID snowflake.ID, ownerName string) (ReferralCode, error)
	// Validate is the public code check; it never exposes the owner.
	Validate(ctx context.Context, code string) (ValidateResponse, error)
	ToggleActive(ctx context.Context, codeID snowflake.ID) (ReferralCode, error)
	GetByOwner(ctx context.Context, ownerID snowflake.ID) (*ReferralCode, error)
	GetByCode(ctx context.Context, code string) (*ReferralCode, error)
	List(ctx context.Context, req ListReferralCodeRequest) (ListReferralCodeResponse, error)
}

var (
	ErrInvalidOwner  = errors.New("invalid_owner")
	ErrInvalidCode   = errors.New("invalid_code")
	ErrNotFound      = errors.New("referral_code_not_found")
	ErrCodeExhausted = errors.New("code_generation_exhausted")
)
