package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Record creates a PENDING click for an active referral code.
	Record(ctx context.Context, code string, ipAddress string) (ReferralClick, error)
	// Qualify transitions PENDING to QUALIFIED exactly once; re-qualifying
	// an already-QUALIFIED click is a no-op.
	Qualify(ctx context.Context, clickID snowflake.ID, rewardAmount int64) (ReferralClick, error)
	// FlagFraudulent marks a click FRAUDULENT from any state, unless the
	// click is already counted in a paid statement.
	FlagFraudulent(ctx context.Context, clickID snowflake.ID) (ReferralClick, error)
	Get(ctx context.Context, clickID snowflake.ID) (*ReferralClick, error)
}

var (
	ErrClickNotFound   = errors.New("click_not_found")
	ErrCodeInactive    = errors.New("referral_code_inactive")
	ErrInvalidReward   = errors.New("invalid_reward_amount")
	ErrClickFraudulent = errors.New("click_already_fraudulent")
	ErrClickSettled    = errors.New("click_already_settled")
)
