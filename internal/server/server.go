package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/partnerly/partnerly/internal/audit"
	auditdomain "github.com/partnerly/partnerly/internal/audit/domain"
	"github.com/partnerly/partnerly/internal/click"
	clickdomain "github.com/partnerly/partnerly/internal/click/domain"
	"github.com/partnerly/partnerly/internal/config"
	"github.com/partnerly/partnerly/internal/notification"
	"github.com/partnerly/partnerly/internal/observability"
	obsmiddleware "github.com/partnerly/partnerly/internal/observability/logger"
	obsmetrics "github.com/partnerly/partnerly/internal/observability/metrics"
	obstracing "github.com/partnerly/partnerly/internal/observability/tracing"
	"github.com/partnerly/partnerly/internal/providers/email"
	"github.com/partnerly/partnerly/internal/ratelimit"
	"github.com/partnerly/partnerly/internal/referralcode"
	referralcodedomain "github.com/partnerly/partnerly/internal/referralcode/domain"
	"github.com/partnerly/partnerly/internal/reporting"
	reportingdomain "github.com/partnerly/partnerly/internal/reporting/domain"
	"github.com/partnerly/partnerly/internal/settlement"
	settlementdomain "github.com/partnerly/partnerly/internal/settlement/domain"
	"github.com/partnerly/partnerly/internal/vendorledger"
	vendorledgerdomain "github.com/partnerly/partnerly/internal/vendorledger/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	email.Module,
	ratelimit.Module,
	notification.Module,
	referralcode.Module,
	click.Module,
	vendorledger.Module,
	settlement.Module,
	reporting.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(PrincipalMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	auditSvc        auditdomain.Service
	referralCodeSvc referralcodedomain.Service
	clickSvc        clickdomain.Service
	vendorLedgerSvc vendorledgerdomain.Service
	settlementSvc   settlementdomain.Service
	reportingSvc    reportingdomain.Service
	clickLimiter    *ratelimit.ClickIngestLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	AuditSvc        auditdomain.Service
	ReferralCodeSvc referralcodedomain.Service
	ClickSvc        clickdomain.Service
	VendorLedgerSvc vendorledgerdomain.Service
	SettlementSvc   settlementdomain.Service
	ReportingSvc    reportingdomain.Service
	ClickLimiter    *ratelimit.ClickIngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		log:             p.Log.Named("http.server"),
		genID:           p.GenID,
		auditSvc:        p.AuditSvc,
		referralCodeSvc: p.ReferralCodeSvc,
		clickSvc:        p.ClickSvc,
		vendorLedgerSvc: p.VendorLedgerSvc,
		settlementSvc:   p.SettlementSvc,
		reportingSvc:    p.ReportingSvc,
		clickLimiter:    p.ClickLimiter,
	}

	svc.registerPublicRoutes()
	svc.registerPartnerRoutes()
	svc.registerWebhookRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) registerPublicRoutes() {
	public := s.engine.Group("/v1/referral")
	public.GET("/codes/:code/validate", s.ValidateReferralCode)
	public.POST("/clicks", s.RecordClick)
}

func (s *Server) registerPartnerRoutes() {
	me := s.engine.Group("/v1/me", RequirePrincipal())
	me.POST("/referral-code", s.CreateMyReferralCode)
	me.GET("/referral-code", s.GetMyReferralCode)
	me.GET("/statements", s.MyStatements)
	me.GET("/stats", s.MyStats)
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/v1/webhooks", RequireRole(roleSystemOrAdmin))
	hooks.POST("/vendor-signup", s.VendorSignupWebhook)
	hooks.POST("/vendor-payment", s.VendorPaymentWebhook)
	hooks.POST("/vendor-first-listing", s.VendorFirstListingWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/v1/admin", RequireRole(roleAdminOnly))
	admin.GET("/payout-periods", s.ListPayoutPeriods)
	admin.POST("/payout-periods/lock", s.LockPayoutPeriod)
	admin.POST("/payout-periods/:id/complete", s.CompletePayoutPeriod)
	admin.GET("/payout-periods/:id/statements", s.ListPeriodStatements)
	admin.POST("/statements/:id/approve", s.ApproveStatement)
	admin.POST("/statements/:id/pay", s.PayStatement)
	admin.GET("/referral-uses", s.ListReferralUses)
	admin.POST("/referral-uses/:id/fraud", s.FlagReferralUseFraud)
	admin.GET("/referral-codes", s.ListReferralCodes)
	admin.POST("/referral-codes/:id/toggle", s.ToggleReferralCode)
	admin.POST("/clicks/:id/qualify", s.QualifyClick)
	admin.POST("/clicks/:id/fraud", s.FlagClickFraud)
	admin.GET("/referral/overview", s.ReferralOverview)
	admin.GET("/audit-logs", s.ListAuditLogs)
}
