package token

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmtx/txpipeline/internal/pipeline"
)

const erc20ArtifactJSON = `{
	"name": "Token",
	"address": "0x00000000000000000000000000000000000aaa",
	"abi": [
		{"type":"function","name":"transfer","inputs":[{"type":"address"},{"type":"uint256"}],"outputs":[{"type":"bool"}]},
		{"type":"function","name":"approve","inputs":[{"type":"address"},{"type":"uint256"}],"outputs":[{"type":"bool"}]},
		{"type":"function","name":"transferFrom","inputs":[{"type":"address"},{"type":"address"},{"type":"uint256"}],"outputs":[{"type":"bool"}]}
	]
}`

// stubNode is a minimal NodeClient that always reports deployed code and
// mines every submission instantly.
type stubNode struct {
	tokenAddr common.Address
}

func (n *stubNode) SendRaw(ctx context.Context, signed []byte) (common.Hash, error) {
	return common.Hash{1}, nil
}
func (n *stubNode) SendTx(ctx context.Context, tx *pipeline.RawTransaction) (common.Hash, error) {
	return common.Hash{1}, nil
}
func (n *stubNode) GetReceipt(ctx context.Context, hash common.Hash) (*pipeline.Receipt, error) {
	return &pipeline.Receipt{TransactionHash: hash, Status: 1}, nil
}
func (n *stubNode) ConfirmedCount(ctx context.Context, address common.Address) (uint64, error) {
	return 0, nil
}
func (n *stubNode) MempoolInspect(ctx context.Context, address common.Address) (pipeline.MempoolView, error) {
	return pipeline.MempoolView{Pending: map[uint64]*pipeline.RawTransaction{}, Queued: map[uint64]*pipeline.RawTransaction{}}, nil
}
func (n *stubNode) MempoolContent(ctx context.Context, address common.Address) (pipeline.MempoolView, error) {
	return n.MempoolInspect(ctx, address)
}
func (n *stubNode) GetCode(ctx context.Context, address common.Address) ([]byte, error) {
	if address == n.tokenAddr {
		return []byte{0x60, 0x00}, nil
	}
	return nil, nil
}

func newTestSender(t *testing.T) (*pipeline.Sender, common.Address) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Token.json"), []byte(erc20ArtifactJSON), 0o644))

	tokenAddr := common.HexToAddress("0x00000000000000000000000000000000000aaa")
	node := &stubNode{tokenAddr: tokenAddr}

	catalog := pipeline.NewFileCatalog(dir, "", 1)
	p := pipeline.New(node, pipeline.NewInMemoryStore(pipeline.DefaultLockConfig()), catalog,
		pipeline.BuildDefaults{GasPrice: big.NewInt(1), GasLimit: 60000, ChainID: big.NewInt(1)},
		pipeline.DefaultSignerTimeouts())
	return p.Sender, tokenAddr
}

func TestERC20_Transfer(t *testing.T) {
	sender, _ := newTestSender(t)
	erc20 := New(sender, "Token")

	receipt, err := erc20.Transfer(context.Background(), common.HexToAddress("0x1"), common.HexToAddress("0x2"), big.NewInt(100), nil)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
}

func TestERC20_Approve(t *testing.T) {
	sender, _ := newTestSender(t)
	erc20 := New(sender, "Token")

	receipt, err := erc20.Approve(context.Background(), common.HexToAddress("0x1"), common.HexToAddress("0x2"), big.NewInt(50), nil)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
}

func TestERC20_ApproveThenTransfer_SendsThreeStepChain(t *testing.T) {
	sender, _ := newTestSender(t)
	erc20 := New(sender, "Token")

	receipt, err := erc20.ApproveThenTransfer(context.Background(),
		common.HexToAddress("0x1"), common.HexToAddress("0x2"), common.HexToAddress("0x3"),
		big.NewInt(10), nil)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
}
