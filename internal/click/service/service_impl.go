package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	clickdomain "github.com/partnerly/partnerly/internal/click/domain"
	"github.com/partnerly/partnerly/internal/config"
	obsmetrics "github.com/partnerly/partnerly/internal/observability/metrics"
	referralcodedomain "github.com/partnerly/partnerly/internal/referralcode/domain"
	"github.com/partnerly/partnerly/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const transitionAttempts = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Rewards    *config.RewardPolicyHolder
	CodeSvc    referralcodedomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	rewards    *config.RewardPolicyHolder
	codeSvc    referralcodedomain.Service
	obsMetrics *obsmetrics.Metrics

	clickRepo repository.Repository[clickdomain.ReferralClick]
}

func NewService(p Params) clickdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("click.service"),
		genID:      p.GenID,
		rewards:    p.Rewards,
		codeSvc:    p.CodeSvc,
		obsMetrics: p.ObsMetrics,

		clickRepo: repository.ProvideStore[clickdomain.ReferralClick](p.DB),
	}
}

func (s *Service) Record(ctx context.Context, code string, ipAddress string) (clickdomain.ReferralClick, error) {
	record, err := s.codeSvc.GetByCode(ctx, code)
	if err != nil {
		return clickdomain.ReferralClick{}, err
	}
	if record == nil {
		return clickdomain.ReferralClick{}, referralcodedomain.ErrNotFound
	}
	if !record.IsActive {
		return clickdomain.ReferralClick{}, clickdomain.ErrCodeInactive
	}

	now := time.Now().UTC()
	click := clickdomain.ReferralClick{
		ID:         s.genID.Generate(),
		ReferralID: record.ID,
		IPAddress:  ipAddress,
		ClickedAt:  now,
		Status:     clickdomain.ClickStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.clickRepo.Create(ctx, &click); err != nil {
		return clickdomain.ReferralClick{}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordClick(ctx)
	}
	return click, nil
}

func (s *Service) Qualify(ctx context.Context, clickID snowflake.ID, rewardAmount int64) (clickdomain.ReferralClick, error) {
	if rewardAmount < 0 {
		return clickdomain.ReferralClick{}, clickdomain.ErrInvalidReward
	}
	if rewardAmount == 0 {
		rewardAmount = s.rewards.Get().ClickRewardAmount
	}

	qualified := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.WithContext(ctx).Exec(
			`UPDATE referral_clicks
			 SET status = ?, qualified_at = ?, reward_amount = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			clickdomain.ClickStatusQualified,
			now,
			rewardAmount,
			now,
			clickID,
			clickdomain.ClickStatusPending,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		qualified = true

		// Fast-path cache bump; settlement recomputes from raw rows.
		var click clickdomain.ReferralClick
		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM referral_clicks WHERE id = ?`, clickID,
		).Scan(&click).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).Exec(
			`UPDATE referral_codes
			 SET total_clicks = total_clicks + 1,
			     pending_earnings = pending_earnings + ?,
			     updated_at = ?
			 WHERE id = ?`,
			rewardAmount, now, click.ReferralID,
		).Error
	})
	if err != nil {
		return clickdomain.ReferralClick{}, err
	}

	click, err := s.Get(ctx, clickID)
	if err != nil {
		return clickdomain.ReferralClick{}, err
	}
	if click == nil {
		return clickdomain.ReferralClick{}, clickdomain.ErrClickNotFound
	}
	if !qualified && click.Status == clickdomain.ClickStatusFraudulent {
		return clickdomain.ReferralClick{}, clickdomain.ErrClickFraudulent
	}

	if qualified && s.obsMetrics != nil {
		s.obsMetrics.RecordQualification(ctx, "click")
	}
	return *click, nil
}

func (s *Service) FlagFraudulent(ctx context.Context, clickID snowflake.ID) (clickdomain.ReferralClick, error) {
	for attempt := 0; attempt < transitionAttempts; attempt++ {
		click, err := s.Get(ctx, clickID)
		if err != nil {
			return clickdomain.ReferralClick{}, err
		}
		if click == nil {
			return clickdomain.ReferralClick{}, clickdomain.ErrClickNotFound
		}
		if click.Status == clickdomain.ClickStatusFraudulent {
			return *click, nil
		}

		if click.Status == clickdomain.ClickStatusQualified {
			settled, err := s.isSettled(ctx, click)
			if err != nil {
				return clickdomain.ReferralClick{}, err
			}
			if settled {
				return clickdomain.ReferralClick{}, clickdomain.ErrClickSettled
			}
		}

		done := false
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := time.Now().UTC()
			result := tx.WithContext(ctx).Exec(
				`UPDATE referral_clicks
				 SET status = ?, qualified_at = NULL, updated_at = ?
				 WHERE id = ? AND status = ?`,
				clickdomain.ClickStatusFraudulent,
				now,
				clickID,
				click.Status,
			)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return nil
			}
			done = true

			if click.Status != clickdomain.ClickStatusQualified {
				return nil
			}
			// Undo the fast-path bump from qualification.
			return tx.WithContext(ctx).Exec(
				`UPDATE referral_codes
				 SET total_clicks = CASE WHEN total_clicks > 0 THEN total_clicks - 1 ELSE 0 END,
				     pending_earnings = CASE WHEN pending_earnings > ? THEN pending_earnings - ? ELSE 0 END,
				     updated_at = ?
				 WHERE id = ?`,
				click.RewardAmount, click.RewardAmount, now, click.ReferralID,
			).Error
		})
		if err != nil {
			return clickdomain.ReferralClick{}, err
		}
		if !done {
			// Lost a race with a concurrent transition; re-read and retry.
			continue
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordFraudFlag(ctx, "click")
		}
		flagged, err := s.Get(ctx, clickID)
		if err != nil {
			return clickdomain.ReferralClick{}, err
		}
		return *flagged, nil
	}

	return clickdomain.ReferralClick{}, clickdomain.ErrClickNotFound
}

func (s *Service) Get(ctx context.Context, clickID snowflake.ID) (*clickdomain.ReferralClick, error) {
	return s.clickRepo.FindOne(ctx, &clickdomain.ReferralClick{ID: clickID})
}

// isSettled reports whether the click's qualified reward is already frozen
// into a paid statement, which makes rewriting it forbidden.
func (s *Service) isSettled(ctx context.Context, click *clickdomain.ReferralClick) (bool, error) {
	if click.QualifiedAt == nil {
		return false, nil
	}

	var count int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM monthly_statements ms
		 JOIN payout_periods pp ON pp.id = ms.payout_period_id
		 JOIN referral_codes rc ON rc.owner_id = ms.user_id
		 WHERE rc.id = ?
		   AND ms.status = 'PAID'
		   AND pp.start_date <= ? AND pp.end_date > ?`,
		click.ReferralID,
		click.QualifiedAt.UTC(),
		click.QualifiedAt.UTC(),
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
