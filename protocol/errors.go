package protocol

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorCode pairs a wire error code with the HTTP status it is served with.
type ErrorCode struct {
	Code       string
	HTTPStatus int
}

var (
	// CodeUserNotFound is returned when no receiver matches the address
	// handle or identifier.
	CodeUserNotFound = ErrorCode{"USER_NOT_FOUND", http.StatusNotFound}

	// CodeRequestNotFound is returned when a correlation record is absent.
	CodeRequestNotFound = ErrorCode{"REQUEST_NOT_FOUND", http.StatusNotFound}

	CodeParseLnurlpRequest = ErrorCode{
		"PARSE_LNURLP_REQUEST_ERROR", http.StatusBadRequest,
	}

	CodeParsePayreqRequest = ErrorCode{
		"PARSE_PAYREQ_REQUEST_ERROR", http.StatusBadRequest,
	}

	CodeUnsupportedVersion = ErrorCode{
		"UNSUPPORTED_UMA_VERSION", http.StatusPreconditionFailed,
	}

	CodeCounterpartyPubKeyFetch = ErrorCode{
		"COUNTERPARTY_PUBKEY_FETCH_ERROR", http.StatusFailedDependency,
	}

	CodeInvalidSignature = ErrorCode{
		"INVALID_SIGNATURE", http.StatusUnauthorized,
	}

	CodeMissingRequiredParameters = ErrorCode{
		"MISSING_REQUIRED_UMA_PARAMETERS", http.StatusBadRequest,
	}

	CodeInvalidCurrency = ErrorCode{
		"INVALID_CURRENCY", http.StatusBadRequest,
	}

	CodeAmountOutOfRange = ErrorCode{
		"AMOUNT_OUT_OF_RANGE", http.StatusBadRequest,
	}

	CodeInternal = ErrorCode{
		"INTERNAL_ERROR", http.StatusInternalServerError,
	}
)

// Error is a protocol-level failure that is safe to hand back to the
// counterparty.
type Error struct {
	Code   ErrorCode
	Reason string

	// SupportedMajorVersions is only set for CodeUnsupportedVersion.
	SupportedMajorVersions []int

	// UnsupportedVersion is only set for CodeUnsupportedVersion.
	UnsupportedVersion string
}

// NewError creates a protocol error with the given code and reason.
func NewError(code ErrorCode, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

func (e *Error) Error() string {
	return e.Code.Code + ": " + e.Reason
}

// HTTPStatus returns the status code the error should be served with.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus
}

// MarshalJSON encodes the error body sent to callers.
func (e *Error) MarshalJSON() ([]byte, error) {
	body := map[string]interface{}{
		"status": "ERROR",
		"reason": e.Reason,
		"code":   e.Code.Code,
	}
	if e.Code == CodeUnsupportedVersion {
		body["supportedMajorVersions"] = e.SupportedMajorVersions
		body["unsupportedVersion"] = e.UnsupportedVersion
	}

	return json.Marshal(body)
}

// AsError extracts a protocol error from err's chain.
func AsError(err error) (*Error, bool) {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr, true
	}

	return nil, false
}

// IsCode reports whether err carries the given protocol error code.
func IsCode(err error, code ErrorCode) bool {
	pErr, ok := AsError(err)
	return ok && pErr.Code == code
}

// ErrorResponseBody is the shape of an error body as received from a
// counterparty.
type ErrorResponseBody struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
	Code   string `json:"code"`

	// SupportedMajorVersions is only set for UNSUPPORTED_UMA_VERSION.
	SupportedMajorVersions []int `json:"supportedMajorVersions,omitempty"`
}
