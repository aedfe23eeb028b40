package migration

import (
	auditdomain "github.com/partnerly/partnerly/internal/audit/domain"
	clickdomain "github.com/partnerly/partnerly/internal/click/domain"
	"github.com/partnerly/partnerly/internal/config"
	referralcodedomain "github.com/partnerly/partnerly/internal/referralcode/domain"
	settlementdomain "github.com/partnerly/partnerly/internal/settlement/domain"
	vendorledgerdomain "github.com/partnerly/partnerly/internal/vendorledger/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// sqlite and mysql dev setups rely on the model definitions.
		return conn.AutoMigrate(
			&referralcodedomain.ReferralCode{},
			&clickdomain.ReferralClick{},
			&vendorledgerdomain.ReferralUse{},
			&settlementdomain.PayoutPeriod{},
			&settlementdomain.MonthlyStatement{},
			&auditdomain.AuditLog{},
		)
	}),
)
