package pipeline

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmtx/txpipeline/internal/pkg/apperrors"
)

const testABIJSON = `[{"type":"function","name":"ping","inputs":[],"outputs":[]}]`

type stubCatalog struct {
	contracts map[string]*Contract
	err       error
}

func newStubCatalog(t *testing.T, name string, address common.Address) *stubCatalog {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(testABIJSON))
	require.NoError(t, err)
	return &stubCatalog{
		contracts: map[string]*Contract{
			name: {Name: name, Address: address, ABI: parsed},
		},
	}
}

func (c *stubCatalog) Get(name string) (*Contract, error) {
	if c.err != nil {
		return nil, c.err
	}
	contract, ok := c.contracts[name]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNoNetworkInContract, "unknown contract "+name, nil)
	}
	return contract, nil
}

func (c *stubCatalog) Preload() error { return nil }

func newTestBuilder(t *testing.T, node NodeClient, catalog ContractCatalog) (*TransactionBuilder, *NonceManager) {
	t.Helper()
	store := NewInMemoryStore(DefaultLockConfig())
	inspector := NewAccountInspector(node)
	nonceMgr := NewNonceManager(store, inspector)
	defaults := BuildDefaults{GasPrice: big.NewInt(10), GasLimit: 21000, ChainID: big.NewInt(1)}
	builder := NewTransactionBuilder(catalog, nonceMgr, node, defaults)
	return builder, nonceMgr
}

func TestBuildCall_FillsDefaultsAndAssignsNonce(t *testing.T) {
	from := common.HexToAddress("0xa")
	contractAddr := common.HexToAddress("0xb")
	node := newFakeNode()
	node.code[contractAddr] = []byte{0x60, 0x00}

	catalog := newStubCatalog(t, "Foo", contractAddr)
	builder, _ := newTestBuilder(t, node, catalog)

	tx, err := builder.BuildCall(context.Background(), CallParams{
		From:          from,
		Contract:      "Foo",
		Method:        "ping",
		AssignedNonce: true,
	})
	require.NoError(t, err)
	assert.Equal(t, contractAddr, tx.To)
	assert.Equal(t, uint64(21000), tx.Gas)
	assert.Equal(t, big.NewInt(10), tx.GasPrice)
	require.NotNil(t, tx.Nonce)
	assert.Equal(t, uint64(0), *tx.Nonce)
}

func TestBuildCall_NotDeployedWhenNoCode(t *testing.T) {
	from := common.HexToAddress("0xa")
	contractAddr := common.HexToAddress("0xc")
	node := newFakeNode() // no code registered for contractAddr

	catalog := newStubCatalog(t, "Foo", contractAddr)
	builder, _ := newTestBuilder(t, node, catalog)

	_, err := builder.BuildCall(context.Background(), CallParams{From: from, Contract: "Foo", Method: "ping"})
	require.Error(t, err)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrNotDeployed, appErr.Type)
}

func TestBuildCall_OverrideNonceBypassesManager(t *testing.T) {
	from := common.HexToAddress("0xa")
	contractAddr := common.HexToAddress("0xd")
	node := newFakeNode()
	node.code[contractAddr] = []byte{0x60, 0x00}

	catalog := newStubCatalog(t, "Foo", contractAddr)
	builder, _ := newTestBuilder(t, node, catalog)

	override := uint64(42)
	tx, err := builder.BuildCall(context.Background(), CallParams{
		From:          from,
		Contract:      "Foo",
		Method:        "ping",
		AssignedNonce: true,
		Overrides:     Overrides{Nonce: &override},
	})
	require.NoError(t, err)
	require.NotNil(t, tx.Nonce)
	assert.Equal(t, uint64(42), *tx.Nonce)
}

func TestBuildChain_AssignsContiguousNoncesAndRollsBackOnFailure(t *testing.T) {
	from := common.HexToAddress("0xa")
	okAddr := common.HexToAddress("0xe")
	missingAddr := common.HexToAddress("0xf")
	node := newFakeNode()
	node.code[okAddr] = []byte{0x60, 0x00}
	// missingAddr has no code -> NotDeployed on the second step.

	catalog := newStubCatalog(t, "Foo", okAddr)
	catalog.contracts["Bad"] = &Contract{Name: "Bad", Address: missingAddr, ABI: catalog.contracts["Foo"].ABI}
	builder, nonceMgr := newTestBuilder(t, node, catalog)

	ctx := context.Background()
	_, err := builder.BuildChain(ctx, ChainParams{
		From: from,
		Transactions: []CallParams{
			{Contract: "Foo", Method: "ping"},
			{Contract: "Bad", Method: "ping"},
		},
		AssignedNonce: true,
	})
	require.Error(t, err)

	// The nonce acquired for the first (successful) step must have been
	// released, so a fresh acquisition starts from zero again.
	next, err := nonceMgr.Acquire(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), next)
}

func TestBuildChain_ProducesSequentialNonces(t *testing.T) {
	from := common.HexToAddress("0xa")
	addr := common.HexToAddress("0x10")
	node := newFakeNode()
	node.code[addr] = []byte{0x60, 0x00}

	catalog := newStubCatalog(t, "Foo", addr)
	builder, _ := newTestBuilder(t, node, catalog)

	built, err := builder.BuildChain(context.Background(), ChainParams{
		From: from,
		Transactions: []CallParams{
			{Contract: "Foo", Method: "ping"},
			{Contract: "Foo", Method: "ping"},
			{Contract: "Foo", Method: "ping"},
		},
		AssignedNonce: true,
	})
	require.NoError(t, err)
	require.Len(t, built, 3)
	for i, tx := range built {
		require.NotNil(t, tx.Nonce)
		assert.Equal(t, uint64(i), *tx.Nonce)
	}
}
