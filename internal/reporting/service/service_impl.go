package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/partnerly/partnerly/internal/cache"
	clickdomain "github.com/partnerly/partnerly/internal/click/domain"
	"github.com/partnerly/partnerly/internal/clock"
	referralcodedomain "github.com/partnerly/partnerly/internal/referralcode/domain"
	reportingdomain "github.com/partnerly/partnerly/internal/reporting/domain"
	vendorledgerdomain "github.com/partnerly/partnerly/internal/vendorledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	overviewCacheKey = "reporting.overview"
	overviewCacheTTL = 30 * time.Second

	suspiciousFraudThreshold      = 2
	suspiciousConversionThreshold = 50.0
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock

	overviewCache cache.Cache[string, reportingdomain.Overview]
}

func NewService(p Params) reportingdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("reporting.service"),
		clock: p.Clock,

		overviewCache: cache.NewTTLCache[string, reportingdomain.Overview](),
	}
}

func (s *Service) LiveStats(ctx context.Context, ownerID snowflake.ID) (reportingdomain.LiveStats, error) {
	var record referralcodedomain.ReferralCode
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reportingdomain.LiveStats{}, referralcodedomain.ErrNotFound
		}
		return reportingdomain.LiveStats{}, err
	}
	return s.statsForCode(ctx, &record)
}

func (s *Service) Overview(ctx context.Context) (reportingdomain.Overview, error) {
	if cached, ok := s.overviewCache.Get(overviewCacheKey); ok {
		return cached, nil
	}

	var codes []referralcodedomain.ReferralCode
	if err := s.db.WithContext(ctx).Find(&codes).Error; err != nil {
		return reportingdomain.Overview{}, err
	}

	overview := reportingdomain.Overview{TotalCodes: int64(len(codes))}
	for i := range codes {
		code := &codes[i]
		if code.IsActive {
			overview.ActiveCodes++
		}
		stats, err := s.statsForCode(ctx, code)
		if err != nil {
			// Stale or partial overview beats a failed dashboard.
			s.log.Warn("overview stats failed for code",
				zap.Int64("referral_id", int64(code.ID)),
				zap.Error(err),
			)
			continue
		}
		overview.ThisMonthClicks += stats.ThisMonthClicks
		overview.ThisMonthSignups += stats.ThisMonthSignups
		overview.ThisMonthActivated += stats.ThisMonthActivated
		overview.ThisMonthEarnings += stats.ThisMonthEarnings
		if stats.IsSuspicious {
			overview.SuspiciousCodes = append(overview.SuspiciousCodes, stats)
		}
	}

	s.overviewCache.Set(overviewCacheKey, overview, overviewCacheTTL)
	return overview, nil
}

// statsForCode recomputes one code's current-month numbers from the raw
// rows, filtered by creation time. Nothing here writes.
func (s *Service) statsForCode(ctx context.Context, code *referralcodedomain.ReferralCode) (reportingdomain.LiveStats, error) {
	now := s.clock.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	stats := reportingdomain.LiveStats{OwnerID: code.OwnerID, Code: code.Code}

	var uses []vendorledgerdomain.ReferralUse
	if err := s.db.WithContext(ctx).
		Where("referral_id = ? AND created_at >= ? AND created_at <= ?", code.ID, start, now).
		Find(&uses).Error; err != nil {
		return reportingdomain.LiveStats{}, err
	}
	for _, use := range uses {
		if use.IsFraud {
			stats.FraudCount++
			continue
		}
		stats.ThisMonthSignups++
		if use.SignupRewardStatus == vendorledgerdomain.RewardStatusQualified {
			stats.ThisMonthEarnings += use.SignupRewardAmount
		}
		if use.ListingRewardStatus == vendorledgerdomain.RewardStatusQualified {
			stats.ThisMonthEarnings += use.ListingRewardAmount
			stats.ThisMonthActivated++
		}
	}

	var clicks []clickdomain.ReferralClick
	if err := s.db.WithContext(ctx).
		Where("referral_id = ? AND clicked_at >= ? AND clicked_at <= ?", code.ID, start, now).
		Find(&clicks).Error; err != nil {
		return reportingdomain.LiveStats{}, err
	}
	for _, click := range clicks {
		switch click.Status {
		case clickdomain.ClickStatusFraudulent:
			stats.FraudCount++
		case clickdomain.ClickStatusQualified:
			stats.ThisMonthClicks++
			stats.ThisMonthEarnings += click.RewardAmount
		default:
			stats.ThisMonthClicks++
		}
	}

	if stats.ThisMonthClicks > 0 {
		stats.ConversionRate = float64(stats.ThisMonthSignups) / float64(stats.ThisMonthClicks) * 100
	}
	stats.IsSuspicious = stats.FraudCount > suspiciousFraudThreshold ||
		stats.ConversionRate > suspiciousConversionThreshold
	return stats, nil
}
