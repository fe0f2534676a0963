package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/evmtx/txpipeline/internal/pkg/apperrors"
)

// EthNodeClient is the go-ethereum-backed NodeClient: ethclient for the
// standard JSON-RPC surface, plus a raw *rpc.Client for the txpool_*
// methods ethclient doesn't wrap.
type EthNodeClient struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

// DialEthNodeClient connects to a JSON-RPC endpoint and wraps it for both
// the standard and txpool-specific calls the core needs.
func DialEthNodeClient(ctx context.Context, url string) (*EthNodeClient, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dialing node %s: %w", url, err)
	}
	return &EthNodeClient{eth: ethclient.NewClient(rpcClient), rpc: rpcClient}, nil
}

func (c *EthNodeClient) SendRaw(ctx context.Context, signed []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed); err != nil {
		return common.Hash{}, fmt.Errorf("decoding signed transaction: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// SendTx asks the node to sign and submit, via eth_sendTransaction. Most
// public nodes don't support this (they hold no keys); it exists for
// clients pointed at a node with an unlocked account.
func (c *EthNodeClient) SendTx(ctx context.Context, tx *RawTransaction) (common.Hash, error) {
	arg := rawTxToCallArg(tx)
	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendTransaction", arg); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (c *EthNodeClient) GetReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		if err == ethereum.NotFound {
			return nil, nil
		}
		return nil, err
	}
	return &Receipt{
		TransactionHash: r.TxHash,
		BlockNumber:     r.BlockNumber.Uint64(),
		Status:          r.Status,
		GasUsed:         r.GasUsed,
		ContractAddress: r.ContractAddress,
	}, nil
}

func (c *EthNodeClient) ConfirmedCount(ctx context.Context, address common.Address) (uint64, error) {
	return c.eth.NonceAt(ctx, address, nil)
}

// txpoolInspectResult mirrors the shape of txpool_inspect's per-address
// summary response: "<to>: <value> wei + <gas> gas × <gasPrice> wei".
// Nodes that expose this method return a string per slot rather than a
// full transaction body, so MempoolInspect synthesizes minimal
// RawTransactions carrying only what's knowable from the summary.
type txpoolInspectResult struct {
	Pending map[string]map[string]string `json:"pending"`
	Queued  map[string]map[string]string `json:"queued"`
}

func (c *EthNodeClient) MempoolInspect(ctx context.Context, address common.Address) (MempoolView, error) {
	var raw txpoolInspectResult
	if err := c.rpc.CallContext(ctx, &raw, "txpool_inspect"); err != nil {
		return MempoolView{}, wrapTxpoolError(err)
	}
	return MempoolView{
		Pending: extractInspectSlots(raw.Pending[address.Hex()], address),
		Queued:  extractInspectSlots(raw.Queued[address.Hex()], address),
	}, nil
}

// txpoolContentResult mirrors txpool_content's response: full transaction
// JSON bodies keyed by address then nonce.
type txpoolContentResult struct {
	Pending map[string]map[string]json.RawMessage `json:"pending"`
	Queued  map[string]map[string]json.RawMessage `json:"queued"`
}

func (c *EthNodeClient) MempoolContent(ctx context.Context, address common.Address) (MempoolView, error) {
	var raw txpoolContentResult
	if err := c.rpc.CallContext(ctx, &raw, "txpool_content"); err != nil {
		return MempoolView{}, wrapTxpoolError(err)
	}
	pending, err := extractContentSlots(raw.Pending[address.Hex()])
	if err != nil {
		return MempoolView{}, err
	}
	queued, err := extractContentSlots(raw.Queued[address.Hex()])
	if err != nil {
		return MempoolView{}, err
	}
	return MempoolView{Pending: pending, Queued: queued}, nil
}

func (c *EthNodeClient) GetCode(ctx context.Context, address common.Address) ([]byte, error) {
	return c.eth.CodeAt(ctx, address, nil)
}

func wrapTxpoolError(err error) error {
	if err == nil {
		return nil
	}
	if rpcErr, ok := err.(rpc.Error); ok && (rpcErr.ErrorCode() == -32601 || rpcErr.ErrorCode() == -32600) {
		return apperrors.New(apperrors.ErrGeneric, "method not supported by node: "+err.Error(), err)
	}
	return err
}

func extractInspectSlots(byNonce map[string]string, from common.Address) map[uint64]*RawTransaction {
	out := map[uint64]*RawTransaction{}
	for nonceStr := range byNonce {
		n, ok := new(big.Int).SetString(nonceStr, 10)
		if !ok {
			continue
		}
		out[n.Uint64()] = &RawTransaction{From: from}
	}
	return out
}

func extractContentSlots(byNonce map[string]json.RawMessage) (map[uint64]*RawTransaction, error) {
	out := map[uint64]*RawTransaction{}
	for nonceStr, raw := range byNonce {
		n, ok := new(big.Int).SetString(nonceStr, 10)
		if !ok {
			continue
		}
		var wire wireTransaction
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("parsing txpool_content entry: %w", err)
		}
		out[n.Uint64()] = wire.toRawTransaction()
	}
	return out, nil
}

// wireTransaction decodes the hex-integer-encoded transaction JSON shape
// of spec §6 ("integer fields are transmitted as 0x-prefixed hex strings
// with no leading-zero padding; 0 encodes as 0x0").
type wireTransaction struct {
	Hash     common.Hash    `json:"hash"`
	From     common.Address `json:"from"`
	To       *common.Address `json:"to"`
	Value    hexBigInt      `json:"value"`
	Gas      hexUint64      `json:"gas"`
	GasPrice hexBigInt      `json:"gasPrice"`
	Nonce    hexUint64      `json:"nonce"`
	Input    hexBytes       `json:"input"`
}

func (w *wireTransaction) toRawTransaction() *RawTransaction {
	to := common.Address{}
	if w.To != nil {
		to = *w.To
	}
	nonce := uint64(w.Nonce)
	return &RawTransaction{
		From:     w.From,
		To:       to,
		Value:    (*big.Int)(&w.Value),
		Gas:      uint64(w.Gas),
		GasPrice: (*big.Int)(&w.GasPrice),
		Nonce:    &nonce,
		Data:     w.Input,
		Hash:     w.Hash,
	}
}

// rawTxToCallArg builds the eth_sendTransaction JSON argument, applying
// the hex-integer wire encoding rule of spec §6.
func rawTxToCallArg(tx *RawTransaction) map[string]any {
	arg := map[string]any{
		"from":     tx.From,
		"to":       tx.To,
		"value":    toHexBig(tx.Value),
		"gas":      toHexUint64(tx.Gas),
		"gasPrice": toHexBig(tx.GasPrice),
	}
	if tx.Nonce != nil {
		arg["nonce"] = toHexUint64(*tx.Nonce)
	}
	if tx.ChainID != nil {
		arg["chainId"] = toHexBig(tx.ChainID)
	}
	if len(tx.Data) > 0 {
		arg["data"] = fmt.Sprintf("0x%x", tx.Data)
	}
	return arg
}

func toHexBig(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return fmt.Sprintf("0x%x", v)
}

func toHexUint64(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}
