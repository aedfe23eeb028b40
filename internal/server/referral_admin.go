package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	referralcodedomain "github.com/partnerly/partnerly/internal/referralcode/domain"
	vendorledgerdomain "github.com/partnerly/partnerly/internal/vendorledger/domain"
	"go.uber.org/zap"
)

type listReferralUsesQuery struct {
	ReferralID int64 `form:"referral_id"`
	FraudOnly  bool  `form:"fraud_only"`
	Limit      int   `form:"limit"`
}

func (s *Server) ListReferralUses(c *gin.Context) {
	var query listReferralUsesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := vendorledgerdomain.ListReferralUseRequest{
		FraudOnly: query.FraudOnly,
		Limit:     query.Limit,
	}
	if query.ReferralID > 0 {
		referralID, err := idFromInt64(query.ReferralID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		req.ReferralID = referralID
	}

	resp, err := s.vendorLedgerSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.ReferralUses})
}

type fraudFlagRequest struct {
	IsFraud *bool `json:"is_fraud" binding:"required"`
}

func (s *Server) FlagReferralUseFraud(c *gin.Context) {
	useID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req fraudFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	use, err := s.vendorLedgerSvc.MarkFraud(c.Request.Context(), useID, *req.IsFraud)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditAdminAction(c, "referral_use.fraud", "referral_use", use.ID.String(), map[string]any{
		"is_fraud": use.IsFraud,
	})
	c.JSON(http.StatusOK, gin.H{"data": use})
}

func (s *Server) ListReferralCodes(c *gin.Context) {
	resp, err := s.referralCodeSvc.List(c.Request.Context(), referralcodedomain.ListReferralCodeRequest{})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.ReferralCodes})
}

func (s *Server) ToggleReferralCode(c *gin.Context) {
	codeID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	code, err := s.referralCodeSvc.ToggleActive(c.Request.Context(), codeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditAdminAction(c, "referral_code.toggle", "referral_code", code.ID.String(), map[string]any{
		"is_active": code.IsActive,
	})
	c.JSON(http.StatusOK, gin.H{"data": code})
}

type qualifyClickRequest struct {
	RewardAmount int64 `json:"reward_amount"`
}

func (s *Server) QualifyClick(c *gin.Context) {
	clickID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req qualifyClickRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	click, err := s.clickSvc.Qualify(c.Request.Context(), clickID, req.RewardAmount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": click})
}

func (s *Server) FlagClickFraud(c *gin.Context) {
	clickID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	click, err := s.clickSvc.FlagFraudulent(c.Request.Context(), clickID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditAdminAction(c, "referral_click.fraud", "referral_click", click.ID.String(), nil)
	c.JSON(http.StatusOK, gin.H{"data": click})
}

func (s *Server) ReferralOverview(c *gin.Context) {
	overview, err := s.reportingSvc.Overview(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": overview})
}

func (s *Server) auditAdminAction(c *gin.Context, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(c.Request.Context(), action, targetType, &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
