package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/evmtx/txpipeline/internal/pkg/apperrors"
	"github.com/evmtx/txpipeline/internal/pkg/logger"
	"github.com/evmtx/txpipeline/internal/pkg/metrics"
)

// SignCallback signs one or more raw transactions for from, returning
// signed wire blobs of the same cardinality as the input (spec §6). The
// core never sees the private key.
type SignCallback func(ctx context.Context, from common.Address, txs []*RawTransaction) ([][]byte, error)

// SignerTimeouts bounds the signer callback and receipt polling (spec §6).
type SignerTimeouts struct {
	TxSigningTimeout time.Duration
	TxMiningTimeout  time.Duration
}

func DefaultSignerTimeouts() SignerTimeouts {
	return SignerTimeouts{
		TxSigningTimeout: 60 * time.Second,
		TxMiningTimeout:  120 * time.Second,
	}
}

// Sender drives single and chained submissions through an optional
// external signer, polls for mining, and applies the nonce release policy
// of spec §4.6.
type Sender struct {
	node     NodeClient
	builder  *TransactionBuilder
	nonceMgr *NonceManager
	waiter   *ReceiptWaiter
	timeouts SignerTimeouts
}

func NewSender(node NodeClient, builder *TransactionBuilder, nonceMgr *NonceManager, waiter *ReceiptWaiter, timeouts SignerTimeouts) *Sender {
	return &Sender{node: node, builder: builder, nonceMgr: nonceMgr, waiter: waiter, timeouts: timeouts}
}

// SendParams drives Send (spec §4.6.1).
type SendParams struct {
	From         common.Address
	SignCallback SignCallback
	Contract     string
	Method       string
	Args         []any
	Overrides    Overrides
}

// Send builds, signs (or hands to the node) and submits a single call,
// then waits for its receipt. assignedNonce is true whenever a
// SignCallback is supplied and Overrides.Nonce is nil, since only
// externally-signed transactions need the nonce reserved up front (spec
// §4.6.1 step 1) and an explicit nonce bypasses the manager.
func (s *Sender) Send(ctx context.Context, p SendParams) (*Receipt, error) {
	assignedNonce := p.SignCallback != nil && p.Overrides.Nonce == nil

	tx, err := s.builder.BuildCall(ctx, CallParams{
		From:          p.From,
		Contract:      p.Contract,
		Method:        p.Method,
		Args:          p.Args,
		AssignedNonce: assignedNonce,
		Overrides:     p.Overrides,
	})
	if err != nil {
		metrics.SendsTotal.WithLabelValues("call", "build_error").Inc()
		return nil, Classify(err)
	}

	return s.submitAndWait(ctx, p.From, tx, p.SignCallback, assignedNonce, "call")
}

// TransferSendParams drives SendTransfer.
type TransferSendParams struct {
	From         common.Address
	To           common.Address
	Value        *big.Int
	SignCallback SignCallback
	Overrides    Overrides
}

// SendTransfer is Send's native-transfer counterpart (spec §4.6.3).
func (s *Sender) SendTransfer(ctx context.Context, p TransferSendParams) (*Receipt, error) {
	assignedNonce := p.SignCallback != nil && p.Overrides.Nonce == nil

	tx, err := s.builder.BuildTransfer(ctx, TransferParams{
		From:          p.From,
		To:            p.To,
		Value:         p.Value,
		AssignedNonce: assignedNonce,
		Overrides:     p.Overrides,
	})
	if err != nil {
		metrics.SendsTotal.WithLabelValues("transfer", "build_error").Inc()
		return nil, Classify(err)
	}

	return s.submitAndWait(ctx, p.From, tx, p.SignCallback, assignedNonce, "transfer")
}

// submitAndWait implements steps 2-4 of spec §4.6.1, shared by Send and
// SendTransfer: sign (external or node-side), submit, wait for the
// receipt, and apply the release-on-failure policy of §7.
func (s *Sender) submitAndWait(ctx context.Context, from common.Address, tx *RawTransaction, signCB SignCallback, assignedNonce bool, kind string) (*Receipt, error) {
	hash, sendErr := s.submitOne(ctx, from, tx, signCB)
	if sendErr != nil {
		classified := Classify(sendErr)
		s.releaseOnFailure(ctx, from, tx, assignedNonce, classified)
		metrics.SendsTotal.WithLabelValues(kind, "submit_error").Inc()
		return nil, classified
	}

	receipt, err := s.waiter.Wait(ctx, hash, s.timeouts.TxMiningTimeout)
	if err != nil {
		classified := Classify(err)
		s.releaseOnFailure(ctx, from, tx, assignedNonce, classified)
		metrics.SendsTotal.WithLabelValues(kind, "mining_error").Inc()
		return nil, classified
	}

	metrics.SendsTotal.WithLabelValues(kind, "mined").Inc()
	return receipt, nil
}

// submitOne signs (if a callback is given) and submits a single raw
// transaction, returning the submission hash.
func (s *Sender) submitOne(ctx context.Context, from common.Address, tx *RawTransaction, signCB SignCallback) (common.Hash, error) {
	if signCB == nil {
		return s.node.SendTx(ctx, tx)
	}

	signed, err := s.signWithTimeout(ctx, from, []*RawTransaction{tx}, signCB)
	if err != nil {
		return common.Hash{}, err
	}
	if len(signed) != 1 {
		return common.Hash{}, apperrors.New(apperrors.ErrGeneric, "signer returned a mismatched number of signed transactions", nil)
	}
	if err := assertSignerMatches(signed[0], from); err != nil {
		return common.Hash{}, err
	}
	return s.node.SendRaw(ctx, signed[0])
}

// signWithTimeout invokes signCB bounded by TxSigningTimeout (spec §5).
func (s *Sender) signWithTimeout(ctx context.Context, from common.Address, txs []*RawTransaction, signCB SignCallback) ([][]byte, error) {
	signCtx, cancel := context.WithTimeout(ctx, s.timeouts.TxSigningTimeout)
	defer cancel()

	type result struct {
		signed [][]byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		signed, err := signCB(signCtx, from, txs)
		done <- result{signed, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, apperrors.New(apperrors.ErrGeneric, "signer callback failed: "+r.err.Error(), r.err)
		}
		if len(r.signed) != len(txs) {
			return nil, apperrors.New(apperrors.ErrGeneric, "signer returned a mismatched number of signed transactions", nil)
		}
		return r.signed, nil
	case <-signCtx.Done():
		return nil, apperrors.New(apperrors.ErrTimeout, "signer callback timed out", signCtx.Err())
	}
}

// assertSignerMatches recovers the sender of a signed raw transaction and
// checks it equals from (spec §4.6.1 step 2, §8's round-trip property).
func assertSignerMatches(signed []byte, from common.Address) error {
	recovered, err := recoverSender(signed)
	if err != nil {
		return apperrors.New(apperrors.ErrGeneric, "could not recover signer: "+err.Error(), err)
	}
	if recovered != from {
		return apperrors.New(apperrors.ErrSignerMismatch, fmt.Sprintf("signed transaction recovers to %s, expected %s", recovered.Hex(), from.Hex()), nil)
	}
	return nil
}

// recoverSender decodes a signed transaction envelope and recovers its
// sender address using the signer matching its chain ID.
func recoverSender(signed []byte) (common.Address, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed); err != nil {
		return common.Address{}, err
	}
	signer := types.LatestSignerForChainID(tx.ChainId())
	return types.Sender(signer, tx)
}

// releaseOnFailure implements the single-send nonce policy of spec §7: if
// a nonce was assigned and the classified error is not InvalidNonce,
// release it; InvalidNonce is left reserved so a retry can't immediately
// repeat the same failure.
func (s *Sender) releaseOnFailure(ctx context.Context, from common.Address, tx *RawTransaction, assignedNonce bool, classified *apperrors.AppError) {
	if !assignedNonce || tx.Nonce == nil {
		return
	}
	if classified.Type == apperrors.ErrInvalidNonce {
		return
	}
	if err := s.nonceMgr.Release(ctx, from, *tx.Nonce); err != nil {
		logger.Warn("failed to release nonce after send failure", "address", from.Hex(), "nonce", *tx.Nonce, "error", err)
	}
}

// SendChainParams drives SendChain (spec §4.6.2).
type SendChainParams struct {
	From         common.Address
	SignCallback SignCallback
	Transactions []CallParams
	Overrides    Overrides
}

// SendChain submits an ordered sequence of calls, one at a time, each
// awaited to a mined receipt before the next is submitted (C1). On
// failure, the remainder forms the FailedTxChain's Unsent list (C2) and
// nonces are released per C3.
func (s *Sender) SendChain(ctx context.Context, p SendChainParams) (*Receipt, error) {
	assignedNonce := p.SignCallback != nil

	built, err := s.builder.BuildChain(ctx, ChainParams{
		From:          p.From,
		Transactions:  p.Transactions,
		AssignedNonce: assignedNonce,
		Overrides:     p.Overrides,
	})
	if err != nil {
		metrics.SendsTotal.WithLabelValues("chain", "build_error").Inc()
		return nil, Classify(err)
	}

	if p.SignCallback != nil {
		signed, err := s.signWithTimeout(ctx, p.From, built, p.SignCallback)
		if err != nil {
			classified := Classify(err)
			s.releaseChainFailure(ctx, p.From, built, 0, classified)
			metrics.ChainFailures.WithLabelValues(string(classified.Type)).Inc()
			return nil, newChainFailureError(classified, 0, built)
		}
		for i, blob := range signed {
			if err := assertSignerMatches(blob, p.From); err != nil {
				classified := Classify(err)
				s.releaseChainFailure(ctx, p.From, built, i, classified)
				metrics.ChainFailures.WithLabelValues(string(classified.Type)).Inc()
				return nil, newChainFailureError(classified, i, built[i:])
			}
		}
		return s.submitChainSequentially(ctx, p.From, built, signed)
	}

	return s.submitChainInternal(ctx, p.From, built)
}

// submitChainSequentially submits pre-signed raw blobs one at a time via
// sendRaw, waiting for each receipt before the next submission (C1).
func (s *Sender) submitChainSequentially(ctx context.Context, from common.Address, built []*RawTransaction, signed [][]byte) (*Receipt, error) {
	var last *Receipt
	for i, blob := range signed {
		hash, err := s.node.SendRaw(ctx, blob)
		if err != nil {
			classified := Classify(err)
			s.releaseChainFailure(ctx, from, built, i, classified)
			metrics.ChainFailures.WithLabelValues(string(classified.Type)).Inc()
			return nil, newChainFailureError(classified, i, built[i:])
		}
		receipt, err := s.waiter.Wait(ctx, hash, s.timeouts.TxMiningTimeout)
		if err != nil {
			classified := Classify(err)
			s.releaseChainFailure(ctx, from, built, i, classified)
			metrics.ChainFailures.WithLabelValues(string(classified.Type)).Inc()
			return nil, newChainFailureError(classified, i, built[i:])
		}
		last = receipt
	}
	metrics.SendsTotal.WithLabelValues("chain", "mined").Inc()
	return last, nil
}

// submitChainInternal submits each raw transaction individually via the
// node's own signing (no SignCallback), per spec §4.6.2's "internal
// signing submits each raw transaction to the node individually".
func (s *Sender) submitChainInternal(ctx context.Context, from common.Address, built []*RawTransaction) (*Receipt, error) {
	var last *Receipt
	for i, tx := range built {
		hash, err := s.node.SendTx(ctx, tx)
		if err != nil {
			classified := Classify(err)
			s.releaseChainFailure(ctx, from, built, i, classified)
			metrics.ChainFailures.WithLabelValues(string(classified.Type)).Inc()
			return nil, newChainFailureError(classified, i, built[i:])
		}
		receipt, err := s.waiter.Wait(ctx, hash, s.timeouts.TxMiningTimeout)
		if err != nil {
			classified := Classify(err)
			s.releaseChainFailure(ctx, from, built, i, classified)
			metrics.ChainFailures.WithLabelValues(string(classified.Type)).Inc()
			return nil, newChainFailureError(classified, i, built[i:])
		}
		last = receipt
	}
	metrics.SendsTotal.WithLabelValues("chain", "mined").Inc()
	return last, nil
}

// releaseChainFailure implements C3: release the nonces of every unsent
// transaction except the failing one when the cause is InvalidNonce
// (leave that one reserved); release every unsent nonce, including the
// failing one, for any other cause.
func (s *Sender) releaseChainFailure(ctx context.Context, from common.Address, built []*RawTransaction, failedIndex int, classified *apperrors.AppError) {
	start := failedIndex
	if classified.Type == apperrors.ErrInvalidNonce {
		start = failedIndex + 1
	}

	var toRelease []uint64
	for _, tx := range built[start:] {
		if tx.Nonce != nil {
			toRelease = append(toRelease, *tx.Nonce)
		}
	}
	if len(toRelease) == 0 {
		return
	}
	if err := s.nonceMgr.ReleaseMany(ctx, from, toRelease); err != nil {
		logger.Warn("failed to release chain nonces after failure", "address", from.Hex(), "nonces", toRelease, "error", err)
	}
}
