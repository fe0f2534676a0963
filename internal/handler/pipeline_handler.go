// Package handler implements the admin HTTP surface over the Transaction
// Pipeline: sends, status queries, and operator pause/resume.
package handler

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/evmtx/txpipeline/internal/pipeline"
	"github.com/evmtx/txpipeline/internal/pkg/apperrors"
)

// PipelineHandler exposes the core Pipeline over HTTP. Every send it
// makes leaves SignCallback nil, so the node signs and assigns the nonce;
// requests cannot supply signed transactions or an external signer.
type PipelineHandler struct {
	pl *pipeline.Pipeline
}

func NewPipelineHandler(pl *pipeline.Pipeline) *PipelineHandler {
	return &PipelineHandler{pl: pl}
}

type sendRequest struct {
	From     string `json:"from" binding:"required"`
	Contract string `json:"contract" binding:"required"`
	Method   string `json:"method" binding:"required"`
	Args     []any  `json:"args"`
}

// Send handles POST /v1/send: a single contract call, submitted and
// signed by the node (no externally-held key in this surface).
func (h *PipelineHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}

	receipt, err := h.pl.Sender.Send(c.Request.Context(), pipeline.SendParams{
		From:     common.HexToAddress(req.From),
		Contract: req.Contract,
		Method:   req.Method,
		Args:     req.Args,
	})
	if err != nil {
		c.Error(asAppError(err))
		return
	}
	c.JSON(http.StatusOK, receipt)
}

type sendTransferRequest struct {
	From  string `json:"from" binding:"required"`
	To    string `json:"to" binding:"required"`
	Value string `json:"value" binding:"required"`
}

// SendTransfer handles POST /v1/send-transfer.
func (h *PipelineHandler) SendTransfer(c *gin.Context) {
	var req sendTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}

	value, ok := new(big.Int).SetString(req.Value, 10)
	if !ok {
		c.Error(apperrors.NewInvalidRequest("value must be a base-10 integer string"))
		return
	}

	receipt, err := h.pl.Sender.SendTransfer(c.Request.Context(), pipeline.TransferSendParams{
		From:  common.HexToAddress(req.From),
		To:    common.HexToAddress(req.To),
		Value: value,
	})
	if err != nil {
		c.Error(asAppError(err))
		return
	}
	c.JSON(http.StatusOK, receipt)
}

type sendChainRequest struct {
	From         string          `json:"from" binding:"required"`
	Transactions []chainStepJSON `json:"transactions" binding:"required"`
}

type chainStepJSON struct {
	Contract string `json:"contract"`
	Method   string `json:"method"`
	Args     []any  `json:"args"`
}

// SendChain handles POST /v1/send-chain.
func (h *PipelineHandler) SendChain(c *gin.Context) {
	var req sendChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}

	steps := make([]pipeline.CallParams, 0, len(req.Transactions))
	for _, s := range req.Transactions {
		steps = append(steps, pipeline.CallParams{Contract: s.Contract, Method: s.Method, Args: s.Args})
	}

	receipt, err := h.pl.Sender.SendChain(c.Request.Context(), pipeline.SendChainParams{
		From:         common.HexToAddress(req.From),
		Transactions: steps,
	})
	if err != nil {
		if chainErr, ok := err.(*pipeline.ChainFailureError); ok {
			c.JSON(chainErr.HTTPStatus, gin.H{
				"error":       chainErr.AppError,
				"unsentCount": len(chainErr.Unsent),
				"failedIndex": chainErr.FailedIndex,
			})
			return
		}
		c.Error(asAppError(err))
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// TxDetails handles GET /v1/tx/:hash?from=0x...
func (h *PipelineHandler) TxDetails(c *gin.Context) {
	hash := common.HexToHash(c.Param("hash"))
	from := common.HexToAddress(c.Query("from"))

	result, err := h.pl.Details.ByHash(c.Request.Context(), from, hash)
	if err != nil {
		c.Error(asAppError(err))
		return
	}
	c.JSON(http.StatusOK, result)
}

// NonceStatus handles GET /v1/nonce/:address?nonce=N
func (h *PipelineHandler) NonceStatus(c *gin.Context) {
	address := common.HexToAddress(c.Param("address"))
	nonce, err := strconv.ParseUint(c.Query("nonce"), 10, 64)
	if err != nil {
		c.Error(apperrors.NewInvalidRequest("nonce must be a non-negative integer"))
		return
	}

	status, err := h.pl.Details.ByNonce(c.Request.Context(), address, nonce)
	if err != nil {
		c.Error(asAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// Pause handles POST /v1/admin/pause.
func (h *PipelineHandler) Pause(c *gin.Context) {
	h.pl.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// Resume handles POST /v1/admin/resume.
func (h *PipelineHandler) Resume(c *gin.Context) {
	h.pl.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func asAppError(err error) *apperrors.AppError {
	if appErr, ok := err.(*apperrors.AppError); ok {
		return appErr
	}
	if chainErr, ok := err.(*pipeline.ChainFailureError); ok {
		return chainErr.AppError
	}
	return apperrors.Wrap(err)
}
