package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/partnerly/partnerly/internal/config"
	referralcodedomain "github.com/partnerly/partnerly/internal/referralcode/domain"
	vendorledgerdomain "github.com/partnerly/partnerly/internal/vendorledger/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type codeStub struct {
	record *referralcodedomain.ReferralCode
}

func (s *codeStub) CreateOrGet(ctx context.Context, ownerID snowflake.ID, ownerName string) (referralcodedomain.ReferralCode, error) {
	return referralcodedomain.ReferralCode{}, nil
}

func (s *codeStub) Validate(ctx context.Context, code string) (referralcodedomain.ValidateResponse, error) {
	return referralcodedomain.ValidateResponse{}, nil
}

func (s *codeStub) ToggleActive(ctx context.Context, codeID snowflake.ID) (referralcodedomain.ReferralCode, error) {
	return referralcodedomain.ReferralCode{}, nil
}

func (s *codeStub) GetByOwner(ctx context.Context, ownerID snowflake.ID) (*referralcodedomain.ReferralCode, error) {
	return nil, nil
}

func (s *codeStub) GetByCode(ctx context.Context, code string) (*referralcodedomain.ReferralCode, error) {
	return s.record, nil
}

func (s *codeStub) List(ctx context.Context, req referralcodedomain.ListReferralCodeRequest) (referralcodedomain.ListReferralCodeResponse, error) {
	return referralcodedomain.ListReferralCodeResponse{}, nil
}

func setupLedgerService(t *testing.T, codeSvc referralcodedomain.Service) (vendorledgerdomain.Service, *gorm.DB) {
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
		&vendorledgerdomain.ReferralUse{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Rewards: config.NewStaticRewardPolicyHolder(config.DefaultRewardPolicy()),
		CodeSvc: codeSvc,
	})
	return svc, db
}

func seedCode(t *testing.T, db *gorm.DB, node *snowflake.Node) *referralcodedomain.ReferralCode {
	t.Helper()
	code := &referralcodedomain.ReferralCode{
		ID:       node.Generate(),
		OwnerID:  node.Generate(),
		Code:     "BOB-1234",
		IsActive: true,
	}
	require.NoError(t, db.Create(code).Error)
	return code
}

func TestAttachOncePerVendor(t *testing.T) {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	stub := &codeStub{}
	svc, db := setupLedgerService(t, stub)
	stub.record = seedCode(t, db, node)
	ctx := context.Background()

	vendorID := node.Generate()
	use, err := svc.Attach(ctx, vendorID, "BOB-1234")
	require.NoError(t, err)
	require.Equal(t, stub.record.ID, use.ReferralID)
	require.Equal(t, vendorID, use.VendorID)
	require.Equal(t, vendorledgerdomain.ReferralUseStatusPending, use.Status)
	require.Equal(t, vendorledgerdomain.RewardStatusPending, use.SignupRewardStatus)
	require.Equal(t, vendorledgerdomain.RewardStatusPending, use.ListingRewardStatus)

	var code referralcodedomain.ReferralCode
	require.NoError(t, db.First(&code, "id = ?", stub.record.ID).Error)
	require.Equal(t, int64(1), code.TotalReferrals)

	// A vendor belongs to at most one code, ever.
	_, err = svc.Attach(ctx, vendorID, "BOB-1234")
	require.ErrorIs(t, err, vendorledgerdomain.ErrVendorAttached)

	require.NoError(t, db.First(&code, "id = ?", stub.record.ID).Error)
	require.Equal(t, int64(1), code.TotalReferrals)
}

func TestAttachValidation(t *testing.T) {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	stub := &codeStub{}
	svc, db := setupLedgerService(t, stub)
	ctx := context.Background()

	_, err = svc.Attach(ctx, 0, "BOB-1234")
	require.ErrorIs(t, err, vendorledgerdomain.ErrInvalidVendor)

	_, err = svc.Attach(ctx, node.Generate(), "GHOST-0000")
	require.ErrorIs(t, err, referralcodedomain.ErrNotFound)

	stub.record = seedCode(t, db, node)
	stub.record.IsActive = false
	_, err = svc.Attach(ctx, node.Generate(), "BOB-1234")
	require.ErrorIs(t, err, vendorledgerdomain.ErrCodeInactive)
}

func TestQualifySignupOnce(t *testing.T) {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	stub := &codeStub{}
	svc, db := setupLedgerService(t, stub)
	stub.record = seedCode(t, db, node)
	ctx := context.Background()

	use, err := svc.Attach(ctx, node.Generate(), "BOB-1234")
	require.NoError(t, err)

	qualified, err := svc.QualifySignup(ctx, use.ID, 2500)
	require.NoError(t, err)
	require.Equal(t, vendorledgerdomain.RewardStatusQualified, qualified.SignupRewardStatus)
	require.Equal(t, int64(2500), qualified.SignupRewardAmount)
	require.Equal(t, int64(2500), qualified.Commission)
	require.Equal(t, vendorledgerdomain.ReferralUseStatusPending, qualified.Status)

	// Repeat payment events never double-credit.
	again, err := svc.QualifySignup(ctx, use.ID, 9900)
	require.NoError(t, err)
	require.Equal(t, int64(2500), again.SignupRewardAmount)
	require.Equal(t, int64(2500), again.Commission)

	var code referralcodedomain.ReferralCode
	require.NoError(t, db.First(&code, "id = ?", stub.record.ID).Error)
	require.Equal(t, int64(2500), code.PendingEarnings)
}

func TestQualifySignupDefaultsFromPolicy(t *testing.T) {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	stub := &codeStub{}
	svc, db := setupLedgerService(t, stub)
	stub.record = seedCode(t, db, node)
	ctx := context.Background()

	use, err := svc.Attach(ctx, node.Generate(), "BOB-1234")
	require.NoError(t, err)

	qualified, err := svc.QualifySignup(ctx, use.ID, 0)
	require.NoError(t, err)
	require.Equal(t, config.DefaultRewardPolicy().SignupRewardAmount, qualified.SignupRewardAmount)

	_, err = svc.QualifySignup(ctx, use.ID, -5)
	require.ErrorIs(t, err, vendorledgerdomain.ErrInvalidReward)
}

func TestQualifyFirstListingCompletesReferral(t *testing.T) {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	stub := &codeStub{}
	svc, db := setupLedgerService(t, stub)
	stub.record = seedCode(t, db, node)
	ctx := context.Background()

	use, err := svc.Attach(ctx, node.Generate(), "BOB-1234")
	require.NoError(t, err)

	_, err = svc.QualifySignup(ctx, use.ID, 2500)
	require.NoError(t, err)

	listingID := node.Generate()
	completed, err := svc.QualifyFirstListing(ctx, use.ID, listingID, 2500)
	require.NoError(t, err)
	require.Equal(t, vendorledgerdomain.RewardStatusQualified, completed.ListingRewardStatus)
	require.Equal(t, vendorledgerdomain.ReferralUseStatusCompleted, completed.Status)
	require.Equal(t, int64(5000), completed.Commission)
	require.NotNil(t, completed.FirstListingID)
	require.Equal(t, listingID, *completed.FirstListingID)

	var code referralcodedomain.ReferralCode
	require.NoError(t, db.First(&code, "id = ?", stub.record.ID).Error)
	require.Equal(t, int64(1), code.SuccessfulReferrals)
	require.Equal(t, int64(5000), code.PendingEarnings)

	// A later listing never re-triggers the milestone.
	later, err := svc.QualifyFirstListing(ctx, use.ID, node.Generate(), 2500)
	require.NoError(t, err)
	require.Equal(t, listingID, *later.FirstListingID)
	require.Equal(t, int64(5000), later.Commission)

	require.NoError(t, db.First(&code, "id = ?", stub.record.ID).Error)
	require.Equal(t, int64(1), code.SuccessfulReferrals)
}

func TestQualifyFirstListingRequiresListingID(t *testing.T) {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	stub := &codeStub{}
	svc, _ := setupLedgerService(t, stub)
	stub.record = &referralcodedomain.ReferralCode{}

	_, err = svc.QualifyFirstListing(context.Background(), node.Generate(), 0, 2500)
	require.ErrorIs(t, err, vendorledgerdomain.ErrInvalidListing)
}

func TestListingBeforeSignupStaysPending(t *testing.T) {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	stub := &codeStub{}
	svc, db := setupLedgerService(t, stub)
	stub.record = seedCode(t, db, node)
	ctx := context.Background()

	use, err := svc.Attach(ctx, node.Generate(), "BOB-1234")
	require.NoError(t, err)

	// Listing first; completion waits for the signup milestone.
	listed, err := svc.QualifyFirstListing(ctx, use.ID, node.Generate(), 2500)
	require.NoError(t, err)
	require.Equal(t, vendorledgerdomain.ReferralUseStatusPending, listed.Status)

	completed, err := svc.QualifySignup(ctx, use.ID, 2500)
	require.NoError(t, err)
	require.Equal(t, vendorledgerdomain.ReferralUseStatusCompleted, completed.Status)
}

func TestMarkFraudTogglesFlagOnly(t *testing.T) {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	stub := &codeStub{}
	svc, db := setupLedgerService(t, stub)
	stub.record = seedCode(t, db, node)
	ctx := context.Background()

	use, err := svc.Attach(ctx, node.Generate(), "BOB-1234")
	require.NoError(t, err)
	_, err = svc.QualifySignup(ctx, use.ID, 2500)
	require.NoError(t, err)

	flagged, err := svc.MarkFraud(ctx, use.ID, true)
	require.NoError(t, err)
	require.True(t, flagged.IsFraud)
	require.Equal(t, int64(2500), flagged.Commission)
	require.Equal(t, vendorledgerdomain.RewardStatusQualified, flagged.SignupRewardStatus)

	// No-op when the flag already matches.
	same, err := svc.MarkFraud(ctx, use.ID, true)
	require.NoError(t, err)
	require.True(t, same.IsFraud)

	cleared, err := svc.MarkFraud(ctx, use.ID, false)
	require.NoError(t, err)
	require.False(t, cleared.IsFraud)
	require.Equal(t, int64(2500), cleared.Commission)

	_, err = svc.MarkFraud(ctx, node.Generate(), true)
	require.ErrorIs(t, err, vendorledgerdomain.ErrUseNotFound)
}

func TestMarkFraudPreservesUpdatedAt(t *testing.T) {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	stub := &codeStub{}
	svc, db := setupLedgerService(t, stub)
	stub.record = seedCode(t, db, node)
	ctx := context.Background()

	use, err := svc.Attach(ctx, node.Generate(), "BOB-1234")
	require.NoError(t, err)
	_, err = svc.QualifySignup(ctx, use.ID, 2500)
	require.NoError(t, err)

	var before time.Time
	require.NoError(t, db.Raw(`SELECT updated_at FROM referral_uses WHERE id = ?`, use.ID).Scan(&before).Error)

	_, err = svc.MarkFraud(ctx, use.ID, true)
	require.NoError(t, err)
	_, err = svc.MarkFraud(ctx, use.ID, false)
	require.NoError(t, err)

	var after time.Time
	require.NoError(t, db.Raw(`SELECT updated_at FROM referral_uses WHERE id = ?`, use.ID).Scan(&after).Error)
	require.True(t, after.Equal(before), "flag flips must not touch updated_at")
}

func TestListFilters(t *testing.T) {
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	stub := &codeStub{}
	svc, db := setupLedgerService(t, stub)
	stub.record = seedCode(t, db, node)
	ctx := context.Background()

	first, err := svc.Attach(ctx, node.Generate(), "BOB-1234")
	require.NoError(t, err)
	_, err = svc.Attach(ctx, node.Generate(), "BOB-1234")
	require.NoError(t, err)
	_, err = svc.MarkFraud(ctx, first.ID, true)
	require.NoError(t, err)

	all, err := svc.List(ctx, vendorledgerdomain.ListReferralUseRequest{ReferralID: stub.record.ID})
	require.NoError(t, err)
	require.Len(t, all.ReferralUses, 2)

	fraud, err := svc.List(ctx, vendorledgerdomain.ListReferralUseRequest{FraudOnly: true})
	require.NoError(t, err)
	require.Len(t, fraud.ReferralUses, 1)
	require.Equal(t, first.ID, fraud.ReferralUses[0].ID)
}
