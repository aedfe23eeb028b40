package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/partnerly/partnerly/internal/principal"
)

func parseID(raw string) (snowflake.ID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidRequest
	}
	return snowflake.ID(id), nil
}

func idFromInt64(v int64) (snowflake.ID, error) {
	if v <= 0 {
		return 0, ErrInvalidRequest
	}
	return snowflake.ID(v), nil
}

func principalID(c *gin.Context) (snowflake.ID, error) {
	p, ok := principal.FromContext(c.Request.Context())
	if !ok {
		return 0, ErrUnauthorized
	}
	return parseID(p.ID)
}

// ValidateReferralCode is the public code check used at vendor signup. The
// response never identifies the owner.
func (s *Server) ValidateReferralCode(c *gin.Context) {
	resp, err := s.referralCodeSvc.Validate(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type recordClickRequest struct {
	Code      string `json:"code" binding:"required"`
	IPAddress string `json:"ip_address"`
}

func (s *Server) RecordClick(c *gin.Context) {
	var req recordClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	ip := req.IPAddress
	if ip == "" {
		ip = c.ClientIP()
	}

	if s.clickLimiter.Enabled() {
		if allowed, err := s.clickLimiter.AllowIP(c.Request.Context(), ip); err == nil && !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{"type": "rate_limited", "message": "too many clicks"}})
			return
		}
		if allowed, err := s.clickLimiter.AllowCode(c.Request.Context(), req.Code); err == nil && !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{"type": "rate_limited", "message": "too many clicks"}})
			return
		}
	}

	click, err := s.clickSvc.Record(c.Request.Context(), req.Code, ip)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": click})
}

type createCodeRequest struct {
	OwnerName string `json:"owner_name"`
}

func (s *Server) CreateMyReferralCode(c *gin.Context) {
	ownerID, err := principalID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	code, err := s.referralCodeSvc.CreateOrGet(c.Request.Context(), ownerID, req.OwnerName)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": code})
}

func (s *Server) GetMyReferralCode(c *gin.Context) {
	ownerID, err := principalID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	code, err := s.referralCodeSvc.GetByOwner(c.Request.Context(), ownerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if code == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": code})
}

func (s *Server) MyStatements(c *gin.Context) {
	ownerID, err := principalID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	statements, err := s.settlementSvc.StatementHistory(c.Request.Context(), ownerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": statements})
}

func (s *Server) MyStats(c *gin.Context) {
	ownerID, err := principalID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stats, err := s.reportingSvc.LiveStats(c.Request.Context(), ownerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}
