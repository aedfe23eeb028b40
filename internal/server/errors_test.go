package server

import (
	"errors"
	"net/http"
	"testing"

	clickdomain "github.com/partnerly/partnerly/internal/click/domain"
	referralcodedomain "github.com/partnerly/partnerly/internal/referralcode/domain"
	settlementdomain "github.com/partnerly/partnerly/internal/settlement/domain"
	vendorledgerdomain "github.com/partnerly/partnerly/internal/vendorledger/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMapErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"validation", settlementdomain.ErrInvalidMonth, http.StatusBadRequest, "validation_error"},
		{"missing reference", settlementdomain.ErrMissingReference, http.StatusBadRequest, "validation_error"},
		{"conflict vendor attached", vendorledgerdomain.ErrVendorAttached, http.StatusConflict, "conflict"},
		{"conflict inactive code", clickdomain.ErrCodeInactive, http.StatusConflict, "conflict"},
		{"conflict period not open", settlementdomain.ErrPeriodNotOpen, http.StatusConflict, "conflict"},
		{"conflict statement paid", settlementdomain.ErrStatementPaid, http.StatusConflict, "conflict"},
		{"not found domain", referralcodedomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"not found gorm", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"forbidden", ErrForbidden, http.StatusForbidden, "forbidden"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.typ, payload.Type)
		})
	}
}

func TestMapErrorValidationPayload(t *testing.T) {
	status, payload := mapError(newValidationError("code", "invalid_code", "invalid value"))
	require.Equal(t, http.StatusBadRequest, status)
	require.Len(t, payload.Errors, 1)
	require.Equal(t, "code", payload.Errors[0].Field)
	require.Equal(t, "invalid_code", payload.Errors[0].Code)
}

func TestValidationErrorField(t *testing.T) {
	require.Equal(t, "request", validationErrorField("invalid_request"))
	require.Equal(t, "month", validationErrorField("invalid_month"))
	require.Equal(t, "payment_reference", validationErrorField("missing_payment_reference"))
	require.Equal(t, "", validationErrorField("something_else"))
}

func TestClassifyErrorForLog(t *testing.T) {
	typ, code := classifyErrorForLog(settlementdomain.ErrPeriodNotOpen)
	require.Equal(t, "conflict", typ)
	require.Equal(t, "payout_period_not_open", code)

	typ, _ = classifyErrorForLog(vendorledgerdomain.ErrInvalidVendor)
	require.Equal(t, "validation_error", typ)

	typ, _ = classifyErrorForLog(nil)
	require.Equal(t, "", typ)
}
