package orders

import (
	"fmt"
	"net/http"
)

// Error is a typed domain error. Code identifies the failure class so
// callers can branch on it (errors.Is works across instances with the
// same Code), HTTPStatus is the status handlers should respond with.
type Error struct {
	Code       string
	HTTPStatus int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error carrying the same Code, so dynamic errors built
// with a diagnostic message still compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrOrderNotFound   = &Error{Code: "order_not_found", HTTPStatus: http.StatusNotFound, Message: "Order not found"}
	ErrPartnerNotFound = &Error{Code: "partner_not_found", HTTPStatus: http.StatusNotFound, Message: "Delivery partner not found"}

	ErrInvalidTransition       = &Error{Code: "invalid_transition", HTTPStatus: http.StatusBadRequest, Message: "Invalid status transition"}
	ErrMissingPartner          = &Error{Code: "missing_partner", HTTPStatus: http.StatusBadRequest, Message: "A partner_id is required to assign this order"}
	ErrUseVerificationEndpoint = &Error{Code: "use_verification_endpoint", HTTPStatus: http.StatusBadRequest, Message: "Delivered status requires OTP verification"}
	ErrWrongState              = &Error{Code: "wrong_state", HTTPStatus: http.StatusBadRequest, Message: "Order is not in the required state"}
	ErrInvalidOTP              = &Error{Code: "invalid_otp", HTTPStatus: http.StatusBadRequest, Message: "OTP must be a 4-digit code"}
	ErrOTPMismatch             = &Error{Code: "otp_mismatch", HTTPStatus: http.StatusBadRequest, Message: "Incorrect delivery OTP"}
	ErrValidation              = &Error{Code: "validation_error", HTTPStatus: http.StatusBadRequest, Message: "Invalid request payload"}

	ErrNotAssignedPartner = &Error{Code: "not_assigned_partner", HTTPStatus: http.StatusForbidden, Message: "You are not the partner assigned to this order"}

	ErrAlreadyVerified = &Error{Code: "already_verified", HTTPStatus: http.StatusConflict, Message: "Delivery has already been verified"}
	ErrAlreadyClaimed  = &Error{Code: "already_claimed", HTTPStatus: http.StatusConflict, Message: "Order has already been claimed by another partner"}
	ErrPartnerBusy     = &Error{Code: "partner_busy", HTTPStatus: http.StatusConflict, Message: "Partner already has an active delivery"}
)

// newInvalidTransition reports the current and requested status for diagnostics.
func newInvalidTransition(current, target string) *Error {
	return &Error{
		Code:       ErrInvalidTransition.Code,
		HTTPStatus: ErrInvalidTransition.HTTPStatus,
		Message:    fmt.Sprintf("Cannot transition order from %q to %q", current, target),
	}
}

// newWrongState reports the current status for diagnostics.
func newWrongState(current, required string) *Error {
	return &Error{
		Code:       ErrWrongState.Code,
		HTTPStatus: ErrWrongState.HTTPStatus,
		Message:    fmt.Sprintf("Order is %q, must be %q", current, required),
	}
}

// newValidation wraps a payload validation failure.
func newValidation(msg string) *Error {
	return &Error{
		Code:       ErrValidation.Code,
		HTTPStatus: ErrValidation.HTTPStatus,
		Message:    msg,
	}
}
