// Package signer implements a local-key SignCallback for the transaction
// pipeline: raw transactions in, signed wire blobs out, the private key
// never leaving this process.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/evmtx/txpipeline/internal/pipeline"
)

// LocalSigner signs raw transactions with an in-process ECDSA key. It
// satisfies pipeline.SignCallback via its Sign method.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalSigner wraps an already-parsed private key.
func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// NewLocalSignerFromHex parses a hex-encoded private key, passing it to
// crypto.HexToECDSA unchanged; a "0x" prefix is not stripped and is
// rejected as invalid hex.
func NewLocalSignerFromHex(hexKey string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return NewLocalSigner(key), nil
}

// Address returns the signer's EVM address.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// Sign implements pipeline.SignCallback: it accepts one or more raw
// transactions for from and returns their signed wire encodings, in the
// same order. from must equal this signer's own address; otherwise Sign
// returns an error, which the pipeline reports as a failed signer
// callback. The pipeline separately re-verifies the recovered signer of
// every blob this returns, reporting a mismatch there as SignerMismatch.
func (s *LocalSigner) Sign(ctx context.Context, from common.Address, txs []*pipeline.RawTransaction) ([][]byte, error) {
	if from != s.address {
		return nil, fmt.Errorf("local signer holds key for %s, asked to sign for %s", s.address.Hex(), from.Hex())
	}

	out := make([][]byte, len(txs))
	for i, tx := range txs {
		signed, err := s.signOne(tx)
		if err != nil {
			return nil, fmt.Errorf("signing transaction %d: %w", i, err)
		}
		out[i] = signed
	}
	return out, nil
}

func (s *LocalSigner) signOne(tx *pipeline.RawTransaction) ([]byte, error) {
	if tx.Nonce == nil {
		return nil, fmt.Errorf("cannot sign a transaction with no assigned nonce")
	}

	chainID := tx.ChainID
	if chainID == nil {
		chainID = big.NewInt(0)
	}

	inner := &types.LegacyTx{
		Nonce:    *tx.Nonce,
		GasPrice: tx.GasPrice,
		Gas:      tx.Gas,
		To:       toPointer(tx.To),
		Value:    tx.Value,
		Data:     tx.Data,
	}

	signer := types.LatestSignerForChainID(chainID)
	signedTx, err := types.SignNewTx(s.key, signer, inner)
	if err != nil {
		return nil, err
	}
	return signedTx.MarshalBinary()
}

func toPointer(addr common.Address) *common.Address {
	if addr == (common.Address{}) {
		return nil
	}
	return &addr
}
