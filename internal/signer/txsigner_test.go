package signer

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmtx/txpipeline/internal/pipeline"
)

func TestLocalSigner_SignRecoversToOwnAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := NewLocalSigner(key)

	nonce := uint64(3)
	tx := &pipeline.RawTransaction{
		From:     s.Address(),
		To:       common.HexToAddress("0xbb"),
		Value:    big.NewInt(0),
		Gas:      21000,
		GasPrice: big.NewInt(1),
		ChainID:  big.NewInt(1),
		Nonce:    &nonce,
	}

	signed, err := s.Sign(context.Background(), s.Address(), []*pipeline.RawTransaction{tx})
	require.NoError(t, err)
	require.Len(t, signed, 1)

	decoded := new(types.Transaction)
	require.NoError(t, decoded.UnmarshalBinary(signed[0]))

	ethSigner := types.LatestSignerForChainID(big.NewInt(1))
	recovered, err := types.Sender(ethSigner, decoded)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), recovered)
}

func TestLocalSigner_SignRejectsMismatchedFrom(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := NewLocalSigner(key)

	nonce := uint64(0)
	tx := &pipeline.RawTransaction{Nonce: &nonce}
	_, err = s.Sign(context.Background(), common.HexToAddress("0xcc"), []*pipeline.RawTransaction{tx})
	assert.Error(t, err)
}

func TestLocalSigner_SignRejectsUnassignedNonce(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := NewLocalSigner(key)

	tx := &pipeline.RawTransaction{From: s.Address()}
	_, err = s.Sign(context.Background(), s.Address(), []*pipeline.RawTransaction{tx})
	assert.Error(t, err)
}

func TestNewLocalSignerFromHex(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))

	s, err := NewLocalSignerFromHex(hexKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())
}
