package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmtx/txpipeline/internal/pkg/apperrors"
)

type receiptFakeNode struct {
	*fakeNode
	receipt    *Receipt
	receiptErr error
}

func (n *receiptFakeNode) GetReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	return n.receipt, n.receiptErr
}

func TestReceiptWaiter_WaitReturnsImmediatelyWhenMined(t *testing.T) {
	hash := common.HexToHash("0x1")
	node := &receiptFakeNode{fakeNode: newFakeNode(), receipt: &Receipt{TransactionHash: hash, Status: 1}}
	waiter := NewReceiptWaiter(node)

	receipt, err := waiter.Wait(context.Background(), hash, time.Second)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
}

func TestReceiptWaiter_WaitReturnsGenericOnFailedStatus(t *testing.T) {
	hash := common.HexToHash("0x2")
	node := &receiptFakeNode{fakeNode: newFakeNode(), receipt: &Receipt{TransactionHash: hash, Status: 0}}
	waiter := NewReceiptWaiter(node)

	_, err := waiter.Wait(context.Background(), hash, time.Second)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrGeneric, err.(*apperrors.AppError).Type)
}

func TestReceiptWaiter_WaitTimesOutWhenNeverMined(t *testing.T) {
	hash := common.HexToHash("0x3")
	node := &receiptFakeNode{fakeNode: newFakeNode(), receipt: nil}
	waiter := NewReceiptWaiter(node)

	_, err := waiter.Wait(context.Background(), hash, 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrTimeout, err.(*apperrors.AppError).Type)
}

func TestReceiptWaiter_WaitSurfacesNodeErrors(t *testing.T) {
	hash := common.HexToHash("0x4")
	node := &receiptFakeNode{fakeNode: newFakeNode(), receiptErr: errors.New("node unreachable")}
	waiter := NewReceiptWaiter(node)

	_, err := waiter.Wait(context.Background(), hash, time.Second)
	require.Error(t, err)
}

func TestReceiptWaiter_WaitAllReturnsInSameOrder(t *testing.T) {
	h1 := common.HexToHash("0x5")
	h2 := common.HexToHash("0x6")
	node := &multiReceiptNode{
		fakeNode: newFakeNode(),
		receipts: map[common.Hash]*Receipt{
			h1: {TransactionHash: h1, Status: 1},
			h2: {TransactionHash: h2, Status: 1},
		},
	}
	waiter := NewReceiptWaiter(node)

	receipts, err := waiter.WaitAll(context.Background(), []common.Hash{h1, h2}, time.Second)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, h1, receipts[0].TransactionHash)
	assert.Equal(t, h2, receipts[1].TransactionHash)
}

type multiReceiptNode struct {
	*fakeNode
	receipts map[common.Hash]*Receipt
}

func (n *multiReceiptNode) GetReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	return n.receipts[hash], nil
}

func TestWaitPreResolved(t *testing.T) {
	_, err := WaitPreResolved(nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrNotFound, err.(*apperrors.AppError).Type)

	failed := &Receipt{Status: 0}
	_, err = WaitPreResolved(failed)
	require.Error(t, err)

	ok := &Receipt{Status: 1}
	receipt, err := WaitPreResolved(ok)
	require.NoError(t, err)
	assert.Same(t, ok, receipt)
}
