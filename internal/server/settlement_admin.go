package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListPayoutPeriods(c *gin.Context) {
	periods, err := s.settlementSvc.ListPeriods(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": periods})
}

type lockPeriodRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// LockPayoutPeriod locks a month and generates its statements. With no
// body it locks the previous calendar month.
func (s *Server) LockPayoutPeriod(c *gin.Context) {
	var req lockPeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.settlementSvc.LockPeriod(c.Request.Context(), req.Year, time.Month(req.Month))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) CompletePayoutPeriod(c *gin.Context) {
	periodID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	period, err := s.settlementSvc.CompletePeriod(c.Request.Context(), periodID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": period})
}

func (s *Server) ListPeriodStatements(c *gin.Context) {
	periodID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	statements, err := s.settlementSvc.ListStatements(c.Request.Context(), periodID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": statements})
}

func (s *Server) ApproveStatement(c *gin.Context) {
	statementID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	statement, err := s.settlementSvc.ApproveStatement(c.Request.Context(), statementID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": statement})
}

type payStatementRequest struct {
	PaymentReference string `json:"payment_reference" binding:"required"`
}

func (s *Server) PayStatement(c *gin.Context) {
	statementID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req payStatementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("payment_reference", "missing_payment_reference", "payment reference is required"))
		return
	}

	statement, err := s.settlementSvc.MarkPaid(c.Request.Context(), statementID, req.PaymentReference)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": statement})
}
