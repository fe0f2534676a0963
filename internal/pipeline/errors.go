package pipeline

import (
	"strings"

	"github.com/evmtx/txpipeline/internal/pkg/apperrors"
)

// invalidNoncePatterns are the case-insensitive substrings that identify a
// node rejection as nonce-related. Nodes disagree on numeric error codes,
// so message matching is the contract, not a fallback.
var invalidNoncePatterns = []string{
	"nonce",
	"replacement transaction underpriced",
	"known transaction",
}

// notSupportedPatterns identify a "method not supported" response from a
// node without txpool access. These never reach the caller as errors; see
// AccountInspector.InspectMempool and TransactionDetails.
var notSupportedPatterns = []string{
	"not supported",
	"method not found",
}

// Classify maps a raw node/signer error into the closed ErrorKind taxonomy
// of spec §3. It is idempotent: classifying an already-classified error
// returns it unchanged rather than wrapping it again.
func Classify(raw error) *apperrors.AppError {
	if raw == nil {
		return nil
	}
	if appErr, ok := raw.(*apperrors.AppError); ok {
		return appErr
	}

	msg := strings.ToLower(raw.Error())
	for _, pattern := range invalidNoncePatterns {
		if strings.Contains(msg, pattern) {
			return apperrors.New(apperrors.ErrInvalidNonce, raw.Error(), raw)
		}
	}

	return apperrors.New(apperrors.ErrGeneric, raw.Error(), raw)
}

// IsMethodNotSupported reports whether a node's error text indicates the
// JSON-RPC method itself is unavailable (e.g. txpool_inspect on a node
// without txpool access), as opposed to a genuine call failure.
func IsMethodNotSupported(raw error) bool {
	if raw == nil {
		return false
	}
	msg := strings.ToLower(raw.Error())
	for _, pattern := range notSupportedPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// ChainFailureError is the ErrFailedTxChain payload: the classified cause
// of the failing step plus every transaction from the failing one onward
// that was never submitted.
type ChainFailureError struct {
	*apperrors.AppError
	Unsent []*RawTransaction
	// FailedIndex is the position within the original chain of the
	// transaction whose submission or mining failed.
	FailedIndex int
}

func newChainFailureError(cause *apperrors.AppError, failedIndex int, unsent []*RawTransaction) *ChainFailureError {
	wrapped := apperrors.New(apperrors.ErrFailedTxChain, "transaction chain failed: "+cause.Message, cause)
	return &ChainFailureError{
		AppError:    wrapped,
		Unsent:      unsent,
		FailedIndex: failedIndex,
	}
}

// Cause returns the classified error that stopped the chain.
func (e *ChainFailureError) Cause() *apperrors.AppError {
	var cause *apperrors.AppError
	if c, ok := e.AppError.Cause.(*apperrors.AppError); ok {
		cause = c
	}
	return cause
}
