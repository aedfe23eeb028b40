package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/partnerly/partnerly/internal/config"
	referralcodedomain "github.com/partnerly/partnerly/internal/referralcode/domain"
	"github.com/partnerly/partnerly/pkg/db"
	"github.com/partnerly/partnerly/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const mintAttempts = 5

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Rewards *config.RewardPolicyHolder
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	rewards *config.RewardPolicyHolder

	codeRepo repository.Repository[referralcodedomain.ReferralCode]
}

func NewService(p Params) referralcodedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("referralcode.service"),
		genID:   p.GenID,
		rewards: p.Rewards,

		codeRepo: repository.ProvideStore[referralcodedomain.ReferralCode](p.DB),
	}
}

func (s *Service) CreateOrGet(ctx context.Context, ownerID snowflake.ID, ownerName string) (referralcodedomain.ReferralCode, error) {
	if ownerID == 0 {
		return referralcodedomain.ReferralCode{}, referralcodedomain.ErrInvalidOwner
	}

	existing, err := s.GetByOwner(ctx, ownerID)
	if err != nil {
		return referralcodedomain.ReferralCode{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	for attempt := 0; attempt < mintAttempts; attempt++ {
		code, err := mintCode(ownerName)
		if err != nil {
			return referralcodedomain.ReferralCode{}, err
		}

		now := time.Now().UTC()
		result := s.db.WithContext(ctx).Exec(
			`INSERT INTO referral_codes (
				id, owner_id, code, is_active,
				total_referrals, successful_referrals, total_clicks,
				total_earnings, pending_earnings, created_at, updated_at
			) VALUES (?, ?, ?, ?, 0, 0, 0, 0, 0, ?, ?)
			ON CONFLICT (owner_id) DO NOTHING`,
			s.genID.Generate(),
			ownerID,
			code,
			true,
			now,
			now,
		)
		if result.Error != nil {
			if db.IsDuplicateKeyErr(result.Error) {
				// Minted code collided with another owner's code; mint again.
				continue
			}
			return referralcodedomain.ReferralCode{}, result.Error
		}

		// RowsAffected == 0 means a concurrent caller won the owner slot;
		// either way the owner now has exactly one row.
		created, err := s.GetByOwner(ctx, ownerID)
		if err != nil {
			return referralcodedomain.ReferralCode{}, err
		}
		if created == nil {
			return referralcodedomain.ReferralCode{}, referralcodedomain.ErrNotFound
		}
		return *created, nil
	}

	return referralcodedomain.ReferralCode{}, referralcodedomain.ErrCodeExhausted
}

func (s *Service) Validate(ctx context.Context, code string) (referralcodedomain.ValidateResponse, error) {
	code = normalizeCode(code)
	if code == "" {
		return referralcodedomain.ValidateResponse{}, referralcodedomain.ErrInvalidCode
	}

	record, err := s.GetByCode(ctx, code)
	if err != nil {
		return referralcodedomain.ValidateResponse{}, err
	}
	if record == nil || !record.IsActive {
		return referralcodedomain.ValidateResponse{Valid: false}, nil
	}

	return referralcodedomain.ValidateResponse{
		Valid:         true,
		DiscountedFee: s.rewards.Get().DiscountedFee,
	}, nil
}

func (s *Service) ToggleActive(ctx context.Context, codeID snowflake.ID) (referralcodedomain.ReferralCode, error) {
	if codeID == 0 {
		return referralcodedomain.ReferralCode{}, referralcodedomain.ErrInvalidCode
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE referral_codes SET is_active = NOT is_active, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), codeID,
	)
	if result.Error != nil {
		return referralcodedomain.ReferralCode{}, result.Error
	}
	if result.RowsAffected == 0 {
		return referralcodedomain.ReferralCode{}, referralcodedomain.ErrNotFound
	}

	updated, err := s.codeRepo.FindOne(ctx, &referralcodedomain.ReferralCode{ID: codeID})
	if err != nil {
		return referralcodedomain.ReferralCode{}, err
	}
	if updated == nil {
		return referralcodedomain.ReferralCode{}, referralcodedomain.ErrNotFound
	}
	return *updated, nil
}

func (s *Service) GetByOwner(ctx context.Context, ownerID snowflake.ID) (*referralcodedomain.ReferralCode, error) {
	return s.codeRepo.FindOne(ctx, &referralcodedomain.ReferralCode{OwnerID: ownerID})
}

func (s *Service) GetByCode(ctx context.Context, code string) (*referralcodedomain.ReferralCode, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, nil
	}
	return s.codeRepo.FindOne(ctx, &referralcodedomain.ReferralCode{Code: code})
}

func (s *Service) List(ctx context.Context, req referralcodedomain.ListReferralCodeRequest) (referralcodedomain.ListReferralCodeResponse, error) {
	limit := req.Limit
	if limit <= 0 || limit > 250 {
		limit = 100
	}

	var codes []referralcodedomain.ReferralCode
	err := s.db.WithContext(ctx).
		Model(&referralcodedomain.ReferralCode{}).
		Order("created_at DESC").
		Limit(limit).
		Find(&codes).Error
	if err != nil {
		return referralcodedomain.ListReferralCodeResponse{}, err
	}
	return referralcodedomain.ListReferralCodeResponse{ReferralCodes: codes}, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// mintCode derives a shareable code from the owner's name plus a random
// numeric suffix, e.g. "BOB-1234".
func mintCode(ownerName string) (string, error) {
	prefix := strings.SplitN(slug.Make(ownerName), "-", 2)[0]
	if prefix == "" {
		prefix = "partner"
	}
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}

	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", strings.ToUpper(prefix), n.Int64()), nil
}
