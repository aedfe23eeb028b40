package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	clickdomain "github.com/partnerly/partnerly/internal/click/domain"
	"github.com/partnerly/partnerly/internal/clock"
	"github.com/partnerly/partnerly/internal/config"
	referralcodedomain "github.com/partnerly/partnerly/internal/referralcode/domain"
	settlementdomain "github.com/partnerly/partnerly/internal/settlement/domain"
	vendorledgerdomain "github.com/partnerly/partnerly/internal/vendorledger/domain"
	vendorledgerservice "github.com/partnerly/partnerly/internal/vendorledger/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupSettlementService(t *testing.T, clk clock.Clock) (settlementdomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	require.NoError(t, db.Exec("PRAGMA busy_timeout = 5000").Error)

	require.NoError(t, db.AutoMigrate(
		&referralcodedomain.ReferralCode{},
		&clickdomain.ReferralClick{},
		&vendorledgerdomain.ReferralUse{},
		&settlementdomain.PayoutPeriod{},
		&settlementdomain.MonthlyStatement{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		Cfg:   config.Config{Settlement: config.SettlementConfig{WorkerPoolSize: 2}},
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	return svc, db, node
}

func seedCode(t *testing.T, db *gorm.DB, node *snowflake.Node, code string) *referralcodedomain.ReferralCode {
	t.Helper()
	record := &referralcodedomain.ReferralCode{
		ID:       node.Generate(),
		OwnerID:  node.Generate(),
		Code:     code,
		IsActive: true,
	}
	require.NoError(t, db.Create(record).Error)
	return record
}

func seedQualifiedUse(t *testing.T, db *gorm.DB, node *snowflake.Node, referralID snowflake.ID, at time.Time) *vendorledgerdomain.ReferralUse {
	t.Helper()
	use := &vendorledgerdomain.ReferralUse{
		ID:                  node.Generate(),
		ReferralID:          referralID,
		VendorID:            node.Generate(),
		SignupRewardStatus:  vendorledgerdomain.RewardStatusQualified,
		ListingRewardStatus: vendorledgerdomain.RewardStatusQualified,
		SignupRewardAmount:  2500,
		ListingRewardAmount: 2500,
		Status:              vendorledgerdomain.ReferralUseStatusCompleted,
		Commission:          5000,
		CreatedAt:           at,
		UpdatedAt:           at,
	}
	require.NoError(t, db.Create(use).Error)
	return use
}

func seedQualifiedClick(t *testing.T, db *gorm.DB, node *snowflake.Node, referralID snowflake.ID, at time.Time, reward int64) *clickdomain.ReferralClick {
	t.Helper()
	click := &clickdomain.ReferralClick{
		ID:           node.Generate(),
		ReferralID:   referralID,
		IPAddress:    "203.0.113.7",
		ClickedAt:    at,
		Status:       clickdomain.ClickStatusQualified,
		QualifiedAt:  &at,
		RewardAmount: reward,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	require.NoError(t, db.Create(click).Error)
	return click
}

func aprilClock() *clock.FakeClock {
	return clock.NewFakeClock(time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC))
}

func TestLockPeriodGeneratesStatements(t *testing.T) {
	svc, db, node := setupSettlementService(t, aprilClock())
	ctx := context.Background()

	code := seedCode(t, db, node, "BOB-1234")
	march := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	seedQualifiedUse(t, db, node, code.ID, march)
	seedQualifiedClick(t, db, node, code.ID, march, 1500)

	result, err := svc.LockPeriod(ctx, 2026, time.March)
	require.NoError(t, err)
	require.Equal(t, settlementdomain.PeriodStatusLocked, result.Period.Status)
	require.NotNil(t, result.Period.LockedAt)
	require.True(t, result.Period.StartDate.UTC().Equal(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, 1, result.Generation.CodesProcessed)
	require.Equal(t, 1, result.Generation.StatementsUpserted)
	require.Empty(t, result.Generation.Failures)

	statements, err := svc.ListStatements(ctx, result.Period.ID)
	require.NoError(t, err)
	require.Len(t, statements, 1)

	stmt := statements[0]
	require.Equal(t, code.OwnerID, stmt.UserID)
	require.Equal(t, int64(1), stmt.VendorsReferredCount)
	require.Equal(t, int64(1), stmt.VendorsActivatedCount)
	require.Equal(t, int64(1), stmt.ClicksCount)
	require.Equal(t, int64(6500), stmt.TotalEarned)
	require.Equal(t, settlementdomain.StatementStatusDraft, stmt.Status)
	require.Nil(t, stmt.PaidAt)
}

func TestLockPeriodIsOneWay(t *testing.T) {
	svc, _, _ := setupSettlementService(t, aprilClock())
	ctx := context.Background()

	_, err := svc.LockPeriod(ctx, 2026, time.March)
	require.NoError(t, err)

	_, err = svc.LockPeriod(ctx, 2026, time.March)
	require.ErrorIs(t, err, settlementdomain.ErrPeriodNotOpen)
}

func TestLockPeriodDefaultsToPreviousMonth(t *testing.T) {
	svc, _, _ := setupSettlementService(t, aprilClock())

	result, err := svc.LockPeriod(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Equal(t, 3, result.Period.Month)
	require.Equal(t, 2026, result.Period.Year)
}

func TestLockPeriodRejectsInvalidMonth(t *testing.T) {
	svc, _, _ := setupSettlementService(t, aprilClock())

	_, err := svc.LockPeriod(context.Background(), 2026, time.Month(13))
	require.ErrorIs(t, err, settlementdomain.ErrInvalidMonth)

	_, err = svc.LockPeriod(context.Background(), 1, time.March)
	require.ErrorIs(t, err, settlementdomain.ErrInvalidMonth)
}

func TestGenerateStatementsExcludesFraud(t *testing.T) {
	svc, db, node := setupSettlementService(t, aprilClock())
	ctx := context.Background()

	code := seedCode(t, db, node, "BOB-1234")
	march := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	use := seedQualifiedUse(t, db, node, code.ID, march)
	seedQualifiedClick(t, db, node, code.ID, march, 1500)

	result, err := svc.LockPeriod(ctx, 2026, time.March)
	require.NoError(t, err)

	require.NoError(t, db.Exec(
		`UPDATE referral_uses SET is_fraud = ? WHERE id = ?`, true, use.ID,
	).Error)

	regen, err := svc.GenerateStatements(ctx, result.Period.ID)
	require.NoError(t, err)
	require.Equal(t, 1, regen.StatementsUpserted)

	statements, err := svc.ListStatements(ctx, result.Period.ID)
	require.NoError(t, err)
	require.Len(t, statements, 1)
	require.Zero(t, statements[0].VendorsReferredCount)
	require.Zero(t, statements[0].VendorsActivatedCount)
	require.Equal(t, int64(1), statements[0].ClicksCount)
	require.Equal(t, int64(1500), statements[0].TotalEarned)
}

func TestFraudFlagCycleDoesNotDoubleCredit(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, time.May, 2, 9, 0, 0, 0, time.UTC))
	svc, db, node := setupSettlementService(t, clk)
	ctx := context.Background()

	code := seedCode(t, db, node, "BOB-1234")
	march := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	use := seedQualifiedUse(t, db, node, code.ID, march)

	result, err := svc.LockPeriod(ctx, 2026, time.March)
	require.NoError(t, err)
	require.Equal(t, 1, result.Generation.StatementsUpserted)

	// Flag and clear the row through the ledger after March has settled.
	// The flip must leave the row keyed to March.
	ledger := vendorledgerservice.NewService(vendorledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
	_, err = ledger.MarkFraud(ctx, use.ID, true)
	require.NoError(t, err)
	_, err = ledger.MarkFraud(ctx, use.ID, false)
	require.NoError(t, err)

	april, err := svc.LockPeriod(ctx, 2026, time.April)
	require.NoError(t, err)
	require.Zero(t, april.Generation.CodesProcessed)
	require.Zero(t, april.Generation.StatementsUpserted)

	aprilStatements, err := svc.ListStatements(ctx, april.Period.ID)
	require.NoError(t, err)
	require.Empty(t, aprilStatements)

	marchStatements, err := svc.ListStatements(ctx, result.Period.ID)
	require.NoError(t, err)
	require.Len(t, marchStatements, 1)
	require.Equal(t, int64(5000), marchStatements[0].TotalEarned)
}

func TestLockPeriodCoversLastInstantOfMonth(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, time.May, 2, 9, 0, 0, 0, time.UTC))
	svc, db, node := setupSettlementService(t, clk)
	ctx := context.Background()

	code := seedCode(t, db, node, "BOB-1234")
	lastInstant := time.Date(2026, time.March, 31, 23, 59, 59, 500000000, time.UTC)
	seedQualifiedClick(t, db, node, code.ID, lastInstant, 1500)

	march, err := svc.LockPeriod(ctx, 2026, time.March)
	require.NoError(t, err)
	require.Equal(t, 1, march.Generation.StatementsUpserted)

	statements, err := svc.ListStatements(ctx, march.Period.ID)
	require.NoError(t, err)
	require.Len(t, statements, 1)
	require.Equal(t, int64(1500), statements[0].TotalEarned)

	// The same click must not spill into the next period.
	april, err := svc.LockPeriod(ctx, 2026, time.April)
	require.NoError(t, err)
	require.Zero(t, april.Generation.StatementsUpserted)
}

func TestGenerateStatementsIsStable(t *testing.T) {
	svc, db, node := setupSettlementService(t, aprilClock())
	ctx := context.Background()

	code := seedCode(t, db, node, "BOB-1234")
	march := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	seedQualifiedUse(t, db, node, code.ID, march)

	result, err := svc.LockPeriod(ctx, 2026, time.March)
	require.NoError(t, err)

	first, err := svc.ListStatements(ctx, result.Period.ID)
	require.NoError(t, err)
	require.Len(t, first, 1)

	regen, err := svc.GenerateStatements(ctx, result.Period.ID)
	require.NoError(t, err)
	require.Equal(t, 1, regen.StatementsUpserted)

	second, err := svc.ListStatements(ctx, result.Period.ID)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, first[0].ID, second[0].ID)
	require.Equal(t, first[0].TotalEarned, second[0].TotalEarned)
}

func TestGenerateStatementsClickOnlyCode(t *testing.T) {
	svc, db, node := setupSettlementService(t, aprilClock())
	ctx := context.Background()

	code := seedCode(t, db, node, "SOLO-0001")
	march := time.Date(2026, time.March, 20, 8, 0, 0, 0, time.UTC)
	seedQualifiedClick(t, db, node, code.ID, march, 1500)

	result, err := svc.LockPeriod(ctx, 2026, time.March)
	require.NoError(t, err)
	require.Equal(t, 1, result.Generation.CodesProcessed)
	require.Equal(t, 1, result.Generation.StatementsUpserted)

	statements, err := svc.ListStatements(ctx, result.Period.ID)
	require.NoError(t, err)
	require.Len(t, statements, 1)
	require.Zero(t, statements[0].VendorsReferredCount)
	require.Equal(t, int64(1), statements[0].ClicksCount)
	require.Equal(t, int64(1500), statements[0].TotalEarned)
}

func TestGenerateStatementsSkipsZeroEarnings(t *testing.T) {
	svc, db, node := setupSettlementService(t, aprilClock())
	ctx := context.Background()

	code := seedCode(t, db, node, "ZERO-0001")
	march := time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)
	use := &vendorledgerdomain.ReferralUse{
		ID:                 node.Generate(),
		ReferralID:         code.ID,
		VendorID:           node.Generate(),
		SignupRewardStatus: vendorledgerdomain.RewardStatusQualified,
		SignupRewardAmount: 0,
		Status:             vendorledgerdomain.ReferralUseStatusPending,
		CreatedAt:          march,
		UpdatedAt:          march,
	}
	require.NoError(t, db.Create(use).Error)

	result, err := svc.LockPeriod(ctx, 2026, time.March)
	require.NoError(t, err)
	require.Equal(t, 1, result.Generation.CodesProcessed)
	require.Zero(t, result.Generation.StatementsUpserted)

	statements, err := svc.ListStatements(ctx, result.Period.ID)
	require.NoError(t, err)
	require.Empty(t, statements)
}

func TestGenerateStatementsIgnoresOutOfWindowActivity(t *testing.T) {
	svc, db, node := setupSettlementService(t, aprilClock())
	ctx := context.Background()

	code := seedCode(t, db, node, "BOB-1234")
	february := time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC)
	seedQualifiedUse(t, db, node, code.ID, february)
	seedQualifiedClick(t, db, node, code.ID, february, 1500)

	result, err := svc.LockPeriod(ctx, 2026, time.March)
	require.NoError(t, err)
	require.Zero(t, result.Generation.CodesProcessed)
	require.Zero(t, result.Generation.StatementsUpserted)
}

func TestGenerateStatementsMergesMultiCodeOwner(t *testing.T) {
	svc, db, node := setupSettlementService(t, aprilClock())
	ctx := context.Background()

	// Live minting enforces one code per owner; legacy data can still
	// carry several, and their totals must merge into one statement.
	require.NoError(t, db.Exec(`DROP INDEX ux_referral_codes_owner`).Error)

	ownerID := node.Generate()
	first := &referralcodedomain.ReferralCode{ID: node.Generate(), OwnerID: ownerID, Code: "A-0001", IsActive: true}
	require.NoError(t, db.Create(first).Error)
	second := &referralcodedomain.ReferralCode{ID: node.Generate(), OwnerID: ownerID, Code: "A-0002", IsActive: true}
	require.NoError(t, db.Create(second).Error)

	march := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	seedQualifiedUse(t, db, node, first.ID, march)
	seedQualifiedClick(t, db, node, second.ID, march, 1500)

	result, err := svc.LockPeriod(ctx, 2026, time.March)
	require.NoError(t, err)
	require.Equal(t, 2, result.Generation.CodesProcessed)
	require.Equal(t, 1, result.Generation.StatementsUpserted)

	statements, err := svc.ListStatements(ctx, result.Period.ID)
	require.NoError(t, err)
	require.Len(t, statements, 1)
	require.Equal(t, ownerID, statements[0].UserID)
	require.Equal(t, int64(1), statements[0].VendorsReferredCount)
	require.Equal(t, int64(1), statements[0].ClicksCount)
	require.Equal(t, int64(6500), statements[0].TotalEarned)
}

func TestGenerateStatementsRequiresLockedPeriod(t *testing.T) {
	svc, db, node := setupSettlementService(t, aprilClock())
	ctx := context.Background()

	_, err := svc.GenerateStatements(ctx, node.Generate())
	require.ErrorIs(t, err, settlementdomain.ErrPeriodNotFound)

	open := &settlementdomain.PayoutPeriod{
		ID:        node.Generate(),
		Month:     3,
		Year:      2026,
		StartDate: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
		Status:    settlementdomain.PeriodStatusOpen,
	}
	require.NoError(t, db.Create(open).Error)

	_, err = svc.GenerateStatements(ctx, open.ID)
	require.ErrorIs(t, err, settlementdomain.ErrPeriodNotLocked)
}

func TestRegenerationPreservesStatementStatus(t *testing.T) {
	svc, db, node := setupSettlementService(t, aprilClock())
	ctx := context.Background()

	code := seedCode(t, db, node, "BOB-1234")
	march := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	seedQualifiedUse(t, db, node, code.ID, march)

	result, err := svc.LockPeriod(ctx, 2026, time.March)
	require.NoError(t, err)

	statements, err := svc.ListStatements(ctx, result.Period.ID)
	require.NoError(t, err)
	require.Len(t, statements, 1)

	_, err = svc.ApproveStatement(ctx, statements[0].ID)
	require.NoError(t, err)
	paid, err := svc.MarkPaid(ctx, statements[0].ID, "wise-2026-03")
	require.NoError(t, err)
	require.Equal(t, settlementdomain.StatementStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	// Late fraud flag; regeneration recomputes aggregates but never
	// rewinds the payment fields.
	seedQualifiedClick(t, db, node, code.ID, march, 1500)
	_, err = svc.GenerateStatements(ctx, result.Period.ID)
	require.NoError(t, err)

	after, err := svc.ListStatements(ctx, result.Period.ID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, statements[0].ID, after[0].ID)
	require.Equal(t, settlementdomain.StatementStatusPaid, after[0].Status)
	require.NotNil(t, after[0].PaidAt)
	require.Equal(t, "wise-2026-03", after[0].PaymentReference)
	require.Equal(t, int64(6500), after[0].TotalEarned)
}

func TestApproveStatementTransitions(t *testing.T) {
	svc, db, node := setupSettlementService(t, aprilClock())
	ctx := context.Background()

	code := seedCode(t, db, node, "BOB-1234")
	march := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	seedQualifiedUse(t, db, node, code.ID, march)

	result, err := svc.LockPeriod(ctx, 2026, time.March)
	require.NoError(t, err)
	statements, err := svc.ListStatements(ctx, result.Period.ID)
	require.NoError(t, err)

	approved, err := svc.ApproveStatement(ctx, statements[0].ID)
	require.NoError(t, err)
	require.Equal(t, settlementdomain.StatementStatusApproved, approved.Status)

	_, err = svc.ApproveStatement(ctx, statements[0].ID)
	require.ErrorIs(t, err, settlementdomain.ErrStatementNotDraft)

	_, err = svc.ApproveStatement(ctx, node.Generate())
	require.ErrorIs(t, err, settlementdomain.ErrStatementNotFound)
}

func TestMarkPaid(t *testing.T) {
	svc, db, node := setupSettlementService(t, aprilClock())
	ctx := context.Background()

	code := seedCode(t, db, node, "BOB-1234")
	march := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	seedQualifiedUse(t, db, node, code.ID, march)

	result, err := svc.LockPeriod(ctx, 2026, time.March)
	require.NoError(t, err)
	statements, err := svc.ListStatements(ctx, result.Period.ID)
	require.NoError(t, err)

	_, err = svc.MarkPaid(ctx, statements[0].ID, "")
	require.ErrorIs(t, err, settlementdomain.ErrMissingReference)

	paid, err := svc.MarkPaid(ctx, statements[0].ID, "wise-2026-03")
	require.NoError(t, err)
	require.Equal(t, settlementdomain.StatementStatusPaid, paid.Status)
	require.Equal(t, "wise-2026-03", paid.PaymentReference)
	require.NotNil(t, paid.PaidAt)

	_, err = svc.MarkPaid(ctx, statements[0].ID, "wise-2026-03-dup")
	require.ErrorIs(t, err, settlementdomain.ErrStatementPaid)

	// Paying moves the cached earnings from pending to total.
	var cached referralcodedomain.ReferralCode
	require.NoError(t, db.First(&cached, "id = ?", code.ID).Error)
	require.Equal(t, paid.TotalEarned, cached.TotalEarnings)
	require.Zero(t, cached.PendingEarnings)
}

func TestCompletePeriodRequiresAllPaid(t *testing.T) {
	svc, db, node := setupSettlementService(t, aprilClock())
	ctx := context.Background()

	code := seedCode(t, db, node, "BOB-1234")
	march := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	seedQualifiedUse(t, db, node, code.ID, march)

	result, err := svc.LockPeriod(ctx, 2026, time.March)
	require.NoError(t, err)

	_, err = svc.CompletePeriod(ctx, result.Period.ID)
	require.ErrorIs(t, err, settlementdomain.ErrStatementsUnpaid)

	statements, err := svc.ListStatements(ctx, result.Period.ID)
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, statements[0].ID, "wise-2026-03")
	require.NoError(t, err)

	completed, err := svc.CompletePeriod(ctx, result.Period.ID)
	require.NoError(t, err)
	require.Equal(t, settlementdomain.PeriodStatusCompleted, completed.Status)

	_, err = svc.CompletePeriod(ctx, result.Period.ID)
	require.ErrorIs(t, err, settlementdomain.ErrPeriodNotLocked)

	_, err = svc.CompletePeriod(ctx, node.Generate())
	require.ErrorIs(t, err, settlementdomain.ErrPeriodNotFound)
}

func TestStatementHistory(t *testing.T) {
	svc, db, node := setupSettlementService(t, aprilClock())
	ctx := context.Background()

	code := seedCode(t, db, node, "BOB-1234")
	march := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	seedQualifiedUse(t, db, node, code.ID, march)

	_, err := svc.LockPeriod(ctx, 2026, time.March)
	require.NoError(t, err)

	history, err := svc.StatementHistory(ctx, code.OwnerID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, int64(5000), history[0].TotalEarned)

	none, err := svc.StatementHistory(ctx, node.Generate())
	require.NoError(t, err)
	require.Empty(t, none)
}
