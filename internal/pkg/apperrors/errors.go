package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrAuthFailed     ErrorType = "AUTH_FAILED"
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
	ErrUpstream       ErrorType = "UPSTREAM_ERROR"

	// Transaction pipeline error kinds (spec §3 ErrorKind). These are the
	// only values ErrorClassifier ever produces.
	ErrInvalidNonce        ErrorType = "INVALID_NONCE"
	ErrNotDeployed         ErrorType = "NOT_DEPLOYED"
	ErrNoNetworkInContract ErrorType = "NO_NETWORK_IN_CONTRACT"
	ErrSignerMismatch      ErrorType = "SIGNER_MISMATCH"
	ErrFailedTxChain       ErrorType = "FAILED_TX_CHAIN"
	ErrTimeout             ErrorType = "TIMEOUT"
	ErrNotFound            ErrorType = "NOT_FOUND"
	ErrGeneric             ErrorType = "GENERIC"
)

// AppError is the standard error struct for the application.
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

// Wrap is idempotent: wrapping an already-classified *AppError returns it
// unchanged rather than nesting another layer.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrInvalidNonce:
		return http.StatusConflict
	case ErrNotFound:
		return http.StatusNotFound
	case ErrUpstream:
		return http.StatusBadGateway
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrSignerMismatch, ErrNotDeployed, ErrNoNetworkInContract:
		return http.StatusUnprocessableEntity
	case ErrFailedTxChain:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrInvalidNonce:
		return "The assigned nonce was rejected; a retry will allocate a different one."
	case ErrAuthFailed:
		return "Check API keys and signatures."
	case ErrTimeout:
		return "The signer or node did not respond within budget; safe to retry."
	case ErrFailedTxChain:
		return "Inspect the unsent remainder before resubmitting the chain."
	default:
		return ""
	}
}
