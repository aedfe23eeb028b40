package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/partnerly/partnerly/internal/audit/domain"
	clickdomain "github.com/partnerly/partnerly/internal/click/domain"
	"github.com/partnerly/partnerly/internal/clock"
	"github.com/partnerly/partnerly/internal/config"
	"github.com/partnerly/partnerly/internal/notification"
	obsmetrics "github.com/partnerly/partnerly/internal/observability/metrics"
	"github.com/partnerly/partnerly/internal/principal"
	settlementdomain "github.com/partnerly/partnerly/internal/settlement/domain"
	vendorledgerdomain "github.com/partnerly/partnerly/internal/vendorledger/domain"
	"github.com/partnerly/partnerly/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Audit      auditdomain.Service    `optional:"true"`
	Notifier   *notification.Notifier `optional:"true"`
	ObsMetrics *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	audit      auditdomain.Service
	notifier   *notification.Notifier
	obsMetrics *obsmetrics.Metrics
	workers    int

	periodRepo    repository.Repository[settlementdomain.PayoutPeriod]
	statementRepo repository.Repository[settlementdomain.MonthlyStatement]
}

func NewService(p Params) settlementdomain.Service {
	workers := p.Cfg.Settlement.WorkerPoolSize
	if workers <= 0 {
		workers = 8
	}

	return &Service{
		db:         p.DB,
		log:        p.Log.Named("settlement.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		audit:      p.Audit,
		notifier:   p.Notifier,
		obsMetrics: p.ObsMetrics,
		workers:    workers,

		periodRepo:    repository.ProvideStore[settlementdomain.PayoutPeriod](p.DB),
		statementRepo: repository.ProvideStore[settlementdomain.MonthlyStatement](p.DB),
	}
}

func (s *Service) LockPeriod(ctx context.Context, year int, month time.Month) (settlementdomain.LockResult, error) {
	if year == 0 && month == 0 {
		prev := s.clock.Now().UTC().AddDate(0, -1, 0)
		year, month = prev.Year(), prev.Month()
	}
	if month < time.January || month > time.December || year < 2000 || year > 9999 {
		return settlementdomain.LockResult{}, settlementdomain.ErrInvalidMonth
	}

	// end_date is exclusive: the first instant of the next month. The window
	// is [start, end) so sub-second activity at month end is never dropped.
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	periodID := s.genID.Generate()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now().UTC()

		result := tx.WithContext(ctx).Exec(
			`INSERT INTO payout_periods (id, month, year, start_date, end_date, status, locked_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 'LOCKED', ?, ?, ?)
			 ON CONFLICT (month, year) DO NOTHING`,
			periodID, int(month), year, start, end, now, now, now,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}

		// Row exists; locking is only allowed while it is still OPEN.
		result = tx.WithContext(ctx).Exec(
			`UPDATE payout_periods
			 SET status = 'LOCKED', locked_at = ?, updated_at = ?
			 WHERE month = ? AND year = ? AND status = 'OPEN'`,
			now, now, int(month), year,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return settlementdomain.ErrPeriodNotOpen
		}
		return nil
	})
	if err != nil {
		return settlementdomain.LockResult{}, err
	}

	period, err := s.periodByMonth(ctx, year, month)
	if err != nil {
		return settlementdomain.LockResult{}, err
	}
	if period == nil {
		return settlementdomain.LockResult{}, settlementdomain.ErrPeriodNotFound
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordPeriodLock(ctx, lockTrigger(ctx))
	}
	s.auditLog(ctx, "payout_period.lock", "payout_period", period.ID, map[string]any{
		"month": int(month),
		"year":  year,
	})
	s.log.Info("payout period locked",
		zap.Int64("period_id", int64(period.ID)),
		zap.Int("month", int(month)),
		zap.Int("year", year),
	)

	generation, err := s.GenerateStatements(ctx, period.ID)
	if err != nil {
		return settlementdomain.LockResult{}, err
	}
	return settlementdomain.LockResult{Period: *period, Generation: generation}, nil
}

// codeTotals is one referral code's reduction over the period window.
type codeTotals struct {
	ownerID   snowflake.ID
	referred  int64
	activated int64
	clicks    int64
	earned    int64
}

func (s *Service) GenerateStatements(ctx context.Context, periodID snowflake.ID) (settlementdomain.GenerateResult, error) {
	period, err := s.GetPeriod(ctx, periodID)
	if err != nil {
		return settlementdomain.GenerateResult{}, err
	}
	if period == nil {
		return settlementdomain.GenerateResult{}, settlementdomain.ErrPeriodNotFound
	}
	if period.Status == settlementdomain.PeriodStatusOpen {
		return settlementdomain.GenerateResult{}, settlementdomain.ErrPeriodNotLocked
	}

	referralIDs, err := s.candidateReferrals(ctx, period)
	if err != nil {
		return settlementdomain.GenerateResult{}, err
	}

	result := settlementdomain.GenerateResult{
		PayoutPeriodID: periodID,
		CodesProcessed: len(referralIDs),
	}

	// Each code reduces independently; a failing code is reported in the
	// summary without aborting the rest of the run.
	type codeOutcome struct {
		referralID snowflake.ID
		totals     codeTotals
		err        error
	}

	jobs := make(chan snowflake.ID)
	outcomes := make(chan codeOutcome, len(referralIDs))

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for referralID := range jobs {
				totals, err := s.reduceCode(ctx, period, referralID)
				outcomes <- codeOutcome{referralID: referralID, totals: totals, err: err}
			}
		}()
	}
	for _, id := range referralIDs {
		jobs <- id
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	// A user may own more than one code; merge before the single upsert
	// per (period, user) so overlapping totals never race.
	byUser := make(map[snowflake.ID]*codeTotals)
	for outcome := range outcomes {
		if outcome.err != nil {
			s.log.Warn("statement aggregation failed for referral code",
				zap.Int64("referral_id", int64(outcome.referralID)),
				zap.Error(outcome.err),
			)
			result.Failures = append(result.Failures, settlementdomain.CodeFailure{
				ReferralID: outcome.referralID,
				Reason:     outcome.err.Error(),
			})
			continue
		}
		merged, ok := byUser[outcome.totals.ownerID]
		if !ok {
			totals := outcome.totals
			byUser[outcome.totals.ownerID] = &totals
			continue
		}
		merged.referred += outcome.totals.referred
		merged.activated += outcome.totals.activated
		merged.clicks += outcome.totals.clicks
		merged.earned += outcome.totals.earned
	}

	userIDs := make([]snowflake.ID, 0, len(byUser))
	for userID := range byUser {
		userIDs = append(userIDs, userID)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	for _, userID := range userIDs {
		totals := byUser[userID]
		if totals.earned <= 0 {
			// No statement for zero earnings; a stale zero row from an
			// earlier miscomputation is left untouched.
			continue
		}
		if err := s.upsertStatement(ctx, periodID, userID, *totals); err != nil {
			s.log.Error("statement upsert failed",
				zap.Int64("user_id", int64(userID)),
				zap.Error(err),
			)
			result.Failures = append(result.Failures, settlementdomain.CodeFailure{
				Reason: fmt.Sprintf("upsert user %d: %v", userID, err),
			})
			continue
		}
		result.StatementsUpserted++
	}

	if s.obsMetrics != nil && result.StatementsUpserted > 0 {
		s.obsMetrics.RecordStatementsUpserted(ctx, int64(result.StatementsUpserted))
	}
	s.log.Info("statements generated",
		zap.Int64("period_id", int64(periodID)),
		zap.Int("codes_processed", result.CodesProcessed),
		zap.Int("statements_upserted", result.StatementsUpserted),
		zap.Int("failures", len(result.Failures)),
	)
	return result, nil
}

// candidateReferrals selects every referral code with qualifying activity
// inside the window on either stream. The streams are unioned, not joined;
// a code with clicks but no vendor uses still qualifies.
func (s *Service) candidateReferrals(ctx context.Context, period *settlementdomain.PayoutPeriod) ([]snowflake.ID, error) {
	var referralIDs []snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT referral_id FROM referral_uses
		 WHERE updated_at >= ? AND updated_at < ?
		   AND (signup_reward_status = 'QUALIFIED' OR listing_reward_status = 'QUALIFIED')
		 UNION
		 SELECT referral_id FROM referral_clicks
		 WHERE status = 'QUALIFIED' AND qualified_at >= ? AND qualified_at < ?`,
		period.StartDate, period.EndDate,
		period.StartDate, period.EndDate,
	).Scan(&referralIDs).Error
	return referralIDs, err
}

// reduceCode recomputes one code's totals from the raw rows. The cached
// counters on referral_codes are never consulted here.
func (s *Service) reduceCode(ctx context.Context, period *settlementdomain.PayoutPeriod, referralID snowflake.ID) (codeTotals, error) {
	var ownerID snowflake.ID
	if err := s.db.WithContext(ctx).Raw(
		`SELECT owner_id FROM referral_codes WHERE id = ?`, referralID,
	).Scan(&ownerID).Error; err != nil {
		return codeTotals{}, err
	}
	if ownerID == 0 {
		return codeTotals{}, fmt.Errorf("referral code %d has no owner", referralID)
	}

	totals := codeTotals{ownerID: ownerID}

	var uses []vendorledgerdomain.ReferralUse
	if err := s.db.WithContext(ctx).
		Where("referral_id = ? AND updated_at >= ? AND updated_at < ?", referralID, period.StartDate, period.EndDate).
		Find(&uses).Error; err != nil {
		return codeTotals{}, err
	}
	for _, use := range uses {
		// Fraud rows are excluded before any increment.
		if use.IsFraud {
			continue
		}
		totals.referred++
		if use.SignupRewardStatus == vendorledgerdomain.RewardStatusQualified {
			totals.earned += use.SignupRewardAmount
		}
		if use.ListingRewardStatus == vendorledgerdomain.RewardStatusQualified {
			totals.earned += use.ListingRewardAmount
			totals.activated++
		}
	}

	var clicks []clickdomain.ReferralClick
	if err := s.db.WithContext(ctx).
		Where("referral_id = ? AND status = ? AND qualified_at >= ? AND qualified_at < ?",
			referralID, clickdomain.ClickStatusQualified, period.StartDate, period.EndDate).
		Find(&clicks).Error; err != nil {
		return codeTotals{}, err
	}
	for _, click := range clicks {
		totals.clicks++
		totals.earned += click.RewardAmount
	}

	return totals, nil
}

// upsertStatement writes one statement row. On conflict only the four
// aggregate columns change; status, paid_at and payment_reference are
// never touched by regeneration.
func (s *Service) upsertStatement(ctx context.Context, periodID, userID snowflake.ID, totals codeTotals) error {
	now := s.clock.Now().UTC()
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO monthly_statements (
			id, payout_period_id, user_id,
			vendors_referred_count, vendors_activated_count, clicks_count, total_earned,
			status, payment_reference, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 'DRAFT', '', ?, ?)
		ON CONFLICT (payout_period_id, user_id) DO UPDATE SET
			vendors_referred_count = excluded.vendors_referred_count,
			vendors_activated_count = excluded.vendors_activated_count,
			clicks_count = excluded.clicks_count,
			total_earned = excluded.total_earned,
			updated_at = excluded.updated_at`,
		s.genID.Generate(), periodID, userID,
		totals.referred, totals.activated, totals.clicks, totals.earned,
		now, now,
	).Error
}

func (s *Service) ApproveStatement(ctx context.Context, statementID snowflake.ID) (settlementdomain.MonthlyStatement, error) {
	now := s.clock.Now().UTC()
	result := s.db.WithContext(ctx).Exec(
		`UPDATE monthly_statements
		 SET status = 'APPROVED', updated_at = ?
		 WHERE id = ? AND status = 'DRAFT'`,
		now, statementID,
	)
	if result.Error != nil {
		return settlementdomain.MonthlyStatement{}, result.Error
	}

	statement, err := s.statementRepo.FindOne(ctx, &settlementdomain.MonthlyStatement{ID: statementID})
	if err != nil {
		return settlementdomain.MonthlyStatement{}, err
	}
	if statement == nil {
		return settlementdomain.MonthlyStatement{}, settlementdomain.ErrStatementNotFound
	}
	if result.RowsAffected == 0 {
		return settlementdomain.MonthlyStatement{}, settlementdomain.ErrStatementNotDraft
	}

	s.auditLog(ctx, "statement.approve", "monthly_statement", statementID, nil)
	return *statement, nil
}

func (s *Service) MarkPaid(ctx context.Context, statementID snowflake.ID, paymentReference string) (settlementdomain.MonthlyStatement, error) {
	if paymentReference == "" {
		return settlementdomain.MonthlyStatement{}, settlementdomain.ErrMissingReference
	}

	statement, err := s.statementRepo.FindOne(ctx, &settlementdomain.MonthlyStatement{ID: statementID})
	if err != nil {
		return settlementdomain.MonthlyStatement{}, err
	}
	if statement == nil {
		return settlementdomain.MonthlyStatement{}, settlementdomain.ErrStatementNotFound
	}
	if statement.Status == settlementdomain.StatementStatusPaid {
		return settlementdomain.MonthlyStatement{}, settlementdomain.ErrStatementPaid
	}
	if statement.Status == settlementdomain.StatementStatusDraft {
		s.log.Warn("statement paid directly from DRAFT",
			zap.Int64("statement_id", int64(statementID)),
		)
	}

	now := s.clock.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.WithContext(ctx).Exec(
			`UPDATE monthly_statements
			 SET status = 'PAID', paid_at = ?, payment_reference = ?, updated_at = ?
			 WHERE id = ? AND status != 'PAID'`,
			now, paymentReference, now, statementID,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return settlementdomain.ErrStatementPaid
		}

		// Fast-path cache only; settlement never reads these columns.
		return tx.WithContext(ctx).Exec(
			`UPDATE referral_codes
			 SET total_earnings = total_earnings + ?,
			     pending_earnings = CASE WHEN pending_earnings >= ? THEN pending_earnings - ? ELSE 0 END,
			     updated_at = ?
			 WHERE owner_id = ?`,
			statement.TotalEarned, statement.TotalEarned, statement.TotalEarned,
			now, statement.UserID,
		).Error
	})
	if err != nil {
		return settlementdomain.MonthlyStatement{}, err
	}

	s.auditLog(ctx, "statement.pay", "monthly_statement", statementID, map[string]any{
		"payment_reference": paymentReference,
		"total_earned":      statement.TotalEarned,
	})
	if s.notifier != nil {
		s.notifier.PayoutPaid(ctx, statement.UserID, statement.TotalEarned, paymentReference)
	}

	paid, err := s.statementRepo.FindOne(ctx, &settlementdomain.MonthlyStatement{ID: statementID})
	if err != nil {
		return settlementdomain.MonthlyStatement{}, err
	}
	if paid == nil {
		return settlementdomain.MonthlyStatement{}, settlementdomain.ErrStatementNotFound
	}
	return *paid, nil
}

func (s *Service) CompletePeriod(ctx context.Context, periodID snowflake.ID) (settlementdomain.PayoutPeriod, error) {
	period, err := s.GetPeriod(ctx, periodID)
	if err != nil {
		return settlementdomain.PayoutPeriod{}, err
	}
	if period == nil {
		return settlementdomain.PayoutPeriod{}, settlementdomain.ErrPeriodNotFound
	}
	if period.Status != settlementdomain.PeriodStatusLocked {
		return settlementdomain.PayoutPeriod{}, settlementdomain.ErrPeriodNotLocked
	}

	var unpaid int64
	if err := s.db.WithContext(ctx).Model(&settlementdomain.MonthlyStatement{}).
		Where("payout_period_id = ? AND status != ?", periodID, settlementdomain.StatementStatusPaid).
		Count(&unpaid).Error; err != nil {
		return settlementdomain.PayoutPeriod{}, err
	}
	if unpaid > 0 {
		return settlementdomain.PayoutPeriod{}, settlementdomain.ErrStatementsUnpaid
	}

	now := s.clock.Now().UTC()
	result := s.db.WithContext(ctx).Exec(
		`UPDATE payout_periods
		 SET status = 'COMPLETED', updated_at = ?
		 WHERE id = ? AND status = 'LOCKED'`,
		now, periodID,
	)
	if result.Error != nil {
		return settlementdomain.PayoutPeriod{}, result.Error
	}
	if result.RowsAffected == 0 {
		return settlementdomain.PayoutPeriod{}, settlementdomain.ErrPeriodNotLocked
	}

	s.auditLog(ctx, "payout_period.complete", "payout_period", periodID, nil)

	completed, err := s.GetPeriod(ctx, periodID)
	if err != nil {
		return settlementdomain.PayoutPeriod{}, err
	}
	if completed == nil {
		return settlementdomain.PayoutPeriod{}, settlementdomain.ErrPeriodNotFound
	}
	return *completed, nil
}

func (s *Service) GetPeriod(ctx context.Context, periodID snowflake.ID) (*settlementdomain.PayoutPeriod, error) {
	return s.periodRepo.FindOne(ctx, &settlementdomain.PayoutPeriod{ID: periodID})
}

func (s *Service) ListPeriods(ctx context.Context) ([]settlementdomain.PayoutPeriod, error) {
	var periods []settlementdomain.PayoutPeriod
	err := s.db.WithContext(ctx).
		Order("year DESC, month DESC").
		Find(&periods).Error
	return periods, err
}

func (s *Service) ListStatements(ctx context.Context, periodID snowflake.ID) ([]settlementdomain.MonthlyStatement, error) {
	var statements []settlementdomain.MonthlyStatement
	err := s.db.WithContext(ctx).
		Where("payout_period_id = ?", periodID).
		Order("total_earned DESC").
		Find(&statements).Error
	return statements, err
}

func (s *Service) StatementHistory(ctx context.Context, userID snowflake.ID) ([]settlementdomain.MonthlyStatement, error) {
	var statements []settlementdomain.MonthlyStatement
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&statements).Error
	return statements, err
}

func (s *Service) periodByMonth(ctx context.Context, year int, month time.Month) (*settlementdomain.PayoutPeriod, error) {
	return s.periodRepo.FindOne(ctx, &settlementdomain.PayoutPeriod{Month: int(month), Year: year})
}

func (s *Service) auditLog(ctx context.Context, action, targetType string, targetID snowflake.ID, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	target := targetID.String()
	if err := s.audit.AuditLog(ctx, action, targetType, &target, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func lockTrigger(ctx context.Context) string {
	if p, ok := principal.FromContext(ctx); ok && p.IsSystem() {
		return "scheduler"
	}
	return "admin"
}
