package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/partnerly/partnerly/internal/config"
	"github.com/partnerly/partnerly/internal/notification"
	obsmetrics "github.com/partnerly/partnerly/internal/observability/metrics"
	referralcodedomain "github.com/partnerly/partnerly/internal/referralcode/domain"
	vendorledgerdomain "github.com/partnerly/partnerly/internal/vendorledger/domain"
	"github.com/partnerly/partnerly/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Rewards    *config.RewardPolicyHolder
	CodeSvc    referralcodedomain.Service
	Notifier   *notification.Notifier `optional:"true"`
	ObsMetrics *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	rewards    *config.RewardPolicyHolder
	codeSvc    referralcodedomain.Service
	notifier   *notification.Notifier
	obsMetrics *obsmetrics.Metrics

	useRepo repository.Repository[vendorledgerdomain.ReferralUse]
}

func NewService(p Params) vendorledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("vendorledger.service"),
		genID:      p.GenID,
		rewards:    p.Rewards,
		codeSvc:    p.CodeSvc,
		notifier:   p.Notifier,
		obsMetrics: p.ObsMetrics,

		useRepo: repository.ProvideStore[vendorledgerdomain.ReferralUse](p.DB),
	}
}

func (s *Service) Attach(ctx context.Context, vendorID snowflake.ID, code string) (vendorledgerdomain.ReferralUse, error) {
	if vendorID == 0 {
		return vendorledgerdomain.ReferralUse{}, vendorledgerdomain.ErrInvalidVendor
	}

	record, err := s.codeSvc.GetByCode(ctx, code)
	if err != nil {
		return vendorledgerdomain.ReferralUse{}, err
	}
	if record == nil {
		return vendorledgerdomain.ReferralUse{}, referralcodedomain.ErrNotFound
	}
	if !record.IsActive {
		return vendorledgerdomain.ReferralUse{}, vendorledgerdomain.ErrCodeInactive
	}

	useID := s.genID.Generate()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.WithContext(ctx).Exec(
			`INSERT INTO referral_uses (
				id, referral_id, vendor_id,
				signup_reward_status, listing_reward_status,
				signup_reward_amount, listing_reward_amount,
				is_fraud, status, commission, commission_paid,
				created_at, updated_at
			) VALUES (?, ?, ?, 'PENDING', 'PENDING', 0, 0, ?, 'PENDING', 0, ?, ?, ?)
			ON CONFLICT (vendor_id) DO NOTHING`,
			useID,
			record.ID,
			vendorID,
			false,
			false,
			now,
			now,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return vendorledgerdomain.ErrVendorAttached
		}

		// Fast-path cache bump; settlement recomputes from raw rows.
		return tx.WithContext(ctx).Exec(
			`UPDATE referral_codes
			 SET total_referrals = total_referrals + 1, updated_at = ?
			 WHERE id = ?`,
			now, record.ID,
		).Error
	})
	if err != nil {
		return vendorledgerdomain.ReferralUse{}, err
	}

	use, err := s.Get(ctx, useID)
	if err != nil {
		return vendorledgerdomain.ReferralUse{}, err
	}
	if use == nil {
		return vendorledgerdomain.ReferralUse{}, vendorledgerdomain.ErrUseNotFound
	}
	return *use, nil
}

func (s *Service) QualifySignup(ctx context.Context, referralUseID snowflake.ID, amount int64) (vendorledgerdomain.ReferralUse, error) {
	if amount < 0 {
		return vendorledgerdomain.ReferralUse{}, vendorledgerdomain.ErrInvalidReward
	}
	if amount == 0 {
		amount = s.rewards.Get().SignupRewardAmount
	}

	qualified := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.WithContext(ctx).Exec(
			`UPDATE referral_uses
			 SET signup_reward_status = 'QUALIFIED',
			     signup_reward_amount = ?,
			     commission = commission + ?,
			     status = CASE WHEN listing_reward_status = 'QUALIFIED' THEN 'COMPLETED' ELSE status END,
			     updated_at = ?
			 WHERE id = ? AND signup_reward_status = 'PENDING'`,
			amount, amount, now, referralUseID,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		qualified = true

		return s.bumpAfterQualification(ctx, tx, referralUseID, amount, now)
	})
	if err != nil {
		return vendorledgerdomain.ReferralUse{}, err
	}

	use, err := s.Get(ctx, referralUseID)
	if err != nil {
		return vendorledgerdomain.ReferralUse{}, err
	}
	if use == nil {
		return vendorledgerdomain.ReferralUse{}, vendorledgerdomain.ErrUseNotFound
	}

	if qualified {
		s.afterQualification(ctx, use, "signup", amount)
	}
	return *use, nil
}

func (s *Service) QualifyFirstListing(ctx context.Context, referralUseID snowflake.ID, listingID snowflake.ID, amount int64) (vendorledgerdomain.ReferralUse, error) {
	if listingID == 0 {
		return vendorledgerdomain.ReferralUse{}, vendorledgerdomain.ErrInvalidListing
	}
	if amount < 0 {
		return vendorledgerdomain.ReferralUse{}, vendorledgerdomain.ErrInvalidReward
	}
	if amount == 0 {
		amount = s.rewards.Get().ListingRewardAmount
	}

	qualified := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.WithContext(ctx).Exec(
			`UPDATE referral_uses
			 SET listing_reward_status = 'QUALIFIED',
			     listing_reward_amount = ?,
			     first_listing_id = ?,
			     commission = commission + ?,
			     status = CASE WHEN signup_reward_status = 'QUALIFIED' THEN 'COMPLETED' ELSE status END,
			     updated_at = ?
			 WHERE id = ? AND listing_reward_status = 'PENDING'`,
			amount, listingID, amount, now, referralUseID,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		qualified = true

		if err := s.bumpAfterQualification(ctx, tx, referralUseID, amount, now); err != nil {
			return err
		}

		// Completion means both milestones qualified; count the vendor as a
		// successful referral on the cached counters.
		return tx.WithContext(ctx).Exec(
			`UPDATE referral_codes
			 SET successful_referrals = successful_referrals + 1, updated_at = ?
			 WHERE id = (SELECT referral_id FROM referral_uses WHERE id = ? AND status = 'COMPLETED')`,
			now, referralUseID,
		).Error
	})
	if err != nil {
		return vendorledgerdomain.ReferralUse{}, err
	}

	use, err := s.Get(ctx, referralUseID)
	if err != nil {
		return vendorledgerdomain.ReferralUse{}, err
	}
	if use == nil {
		return vendorledgerdomain.ReferralUse{}, vendorledgerdomain.ErrUseNotFound
	}

	if qualified {
		s.afterQualification(ctx, use, "listing", amount)
	}
	return *use, nil
}

func (s *Service) MarkFraud(ctx context.Context, referralUseID snowflake.ID, isFraud bool) (vendorledgerdomain.ReferralUse, error) {
	use, err := s.Get(ctx, referralUseID)
	if err != nil {
		return vendorledgerdomain.ReferralUse{}, err
	}
	if use == nil {
		return vendorledgerdomain.ReferralUse{}, vendorledgerdomain.ErrUseNotFound
	}
	if use.IsFraud == isFraud {
		return *use, nil
	}

	// updated_at keys the settlement window; a flag flip must not move the
	// row across periods.
	if err := s.db.WithContext(ctx).Exec(
		`UPDATE referral_uses SET is_fraud = ? WHERE id = ?`,
		isFraud, referralUseID,
	).Error; err != nil {
		return vendorledgerdomain.ReferralUse{}, err
	}

	if isFraud && s.obsMetrics != nil {
		s.obsMetrics.RecordFraudFlag(ctx, "referral_use")
	}

	use.IsFraud = isFraud
	return *use, nil
}

func (s *Service) Get(ctx context.Context, referralUseID snowflake.ID) (*vendorledgerdomain.ReferralUse, error) {
	return s.useRepo.FindOne(ctx, &vendorledgerdomain.ReferralUse{ID: referralUseID})
}

func (s *Service) GetByVendor(ctx context.Context, vendorID snowflake.ID) (*vendorledgerdomain.ReferralUse, error) {
	return s.useRepo.FindOne(ctx, &vendorledgerdomain.ReferralUse{VendorID: vendorID})
}

func (s *Service) List(ctx context.Context, req vendorledgerdomain.ListReferralUseRequest) (vendorledgerdomain.ListReferralUseResponse, error) {
	limit := req.Limit
	if limit <= 0 || limit > 250 {
		limit = 100
	}

	stmt := s.db.WithContext(ctx).Model(&vendorledgerdomain.ReferralUse{})
	if req.ReferralID != 0 {
		stmt = stmt.Where("referral_id = ?", req.ReferralID)
	}
	if req.FraudOnly {
		stmt = stmt.Where("is_fraud = ?", true)
	}

	var uses []vendorledgerdomain.ReferralUse
	if err := stmt.Order("created_at DESC").Limit(limit).Find(&uses).Error; err != nil {
		return vendorledgerdomain.ListReferralUseResponse{}, err
	}
	return vendorledgerdomain.ListReferralUseResponse{ReferralUses: uses}, nil
}

func (s *Service) bumpAfterQualification(ctx context.Context, tx *gorm.DB, referralUseID snowflake.ID, amount int64, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE referral_codes
		 SET pending_earnings = pending_earnings + ?, updated_at = ?
		 WHERE id = (SELECT referral_id FROM referral_uses WHERE id = ?)`,
		amount, now, referralUseID,
	).Error
}

func (s *Service) afterQualification(ctx context.Context, use *vendorledgerdomain.ReferralUse, rewardType string, amount int64) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordQualification(ctx, rewardType)
	}
	if s.notifier != nil {
		owner, err := s.ownerForReferral(ctx, use.ReferralID)
		if err != nil {
			s.log.Warn("failed to resolve owner for notification", zap.Error(err))
			return
		}
		s.notifier.CommissionQualified(ctx, owner, rewardType, amount)
	}
}

func (s *Service) ownerForReferral(ctx context.Context, referralID snowflake.ID) (snowflake.ID, error) {
	var ownerID snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT owner_id FROM referral_codes WHERE id = ?`, referralID,
	).Scan(&ownerID).Error
	return ownerID, err
}
