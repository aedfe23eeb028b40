package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	vendorledgerdomain "github.com/partnerly/partnerly/internal/vendorledger/domain"
)

// Webhooks are delivered by the marketplace core. They retry on failure,
// so every handler below sits on an idempotent ledger operation.

type vendorSignupEvent struct {
	VendorID int64  `json:"vendor_id" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

func (s *Server) VendorSignupWebhook(c *gin.Context) {
	var event vendorSignupEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	vendorID, err := idFromInt64(event.VendorID)
	if err != nil {
		AbortWithError(c, newValidationError("vendor_id", "invalid_vendor", "invalid vendor id"))
		return
	}

	use, err := s.vendorLedgerSvc.Attach(c.Request.Context(), vendorID, event.Code)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": use})
}

type vendorPaymentEvent struct {
	VendorID int64 `json:"vendor_id" binding:"required"`
	Amount   int64 `json:"amount"`
}

// VendorPaymentWebhook fires when a referred vendor clears KYC and first
// payment; it credits the signup milestone.
func (s *Server) VendorPaymentWebhook(c *gin.Context) {
	var event vendorPaymentEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	use, err := s.resolveUseByVendor(c, event.VendorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	updated, err := s.vendorLedgerSvc.QualifySignup(c.Request.Context(), use.ID, event.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": updated})
}

type vendorFirstListingEvent struct {
	VendorID  int64 `json:"vendor_id" binding:"required"`
	ListingID int64 `json:"listing_id" binding:"required"`
	Amount    int64 `json:"amount"`
}

func (s *Server) VendorFirstListingWebhook(c *gin.Context) {
	var event vendorFirstListingEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	listingID, err := idFromInt64(event.ListingID)
	if err != nil {
		AbortWithError(c, newValidationError("listing_id", "invalid_listing", "invalid listing id"))
		return
	}

	use, err := s.resolveUseByVendor(c, event.VendorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	updated, err := s.vendorLedgerSvc.QualifyFirstListing(c.Request.Context(), use.ID, listingID, event.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": updated})
}

func (s *Server) resolveUseByVendor(c *gin.Context, rawVendorID int64) (*vendorledgerdomain.ReferralUse, error) {
	vendorID, err := idFromInt64(rawVendorID)
	if err != nil {
		return nil, newValidationError("vendor_id", "invalid_vendor", "invalid vendor id")
	}
	use, err := s.vendorLedgerSvc.GetByVendor(c.Request.Context(), vendorID)
	if err != nil {
		return nil, err
	}
	if use == nil {
		return nil, vendorledgerdomain.ErrUseNotFound
	}
	return use, nil
}
