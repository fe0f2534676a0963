package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evmtx/txpipeline/internal/pkg/logger"
)

// newHeadsSubscribeMsg is the standard eth_subscribe envelope for the
// "newHeads" topic.
var newHeadsSubscribeMsg = map[string]any{
	"jsonrpc": "2.0",
	"id":      1,
	"method":  "eth_subscribe",
	"params":  []any{"newHeads"},
}

type newHeadsNotification struct {
	Params struct {
		Result json.RawMessage `json:"result"`
	} `json:"params"`
}

// BlockSubscriber dials a node's websocket endpoint and invalidates the
// AccountInspector's confirmed-count cache on every new head, so the
// nonce allocator sees a new confirmed count without waiting for the
// cache's confirmedCountTTL to run out. It is optional: if dialing fails
// or the endpoint is unset, cached counts simply expire after the TTL.
type BlockSubscriber struct {
	wsURL     string
	inspector *AccountInspector
	conn      *websocket.Conn
	stop      chan struct{}
}

func NewBlockSubscriber(wsURL string, inspector *AccountInspector) *BlockSubscriber {
	return &BlockSubscriber{wsURL: wsURL, inspector: inspector, stop: make(chan struct{})}
}

// Start dials and begins the read loop in the background. Reconnects with
// a fixed backoff on a dropped connection; call Stop to end it for good.
func (b *BlockSubscriber) Start() {
	go b.run()
}

func (b *BlockSubscriber) Stop() {
	close(b.stop)
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *BlockSubscriber) run() {
	for {
		select {
		case <-b.stop:
			return
		default:
		}

		if err := b.connectAndRead(); err != nil {
			logger.Warn("blocksub: connection lost, retrying", "error", err)
		}

		select {
		case <-b.stop:
			return
		case <-time.After(3 * time.Second):
		}
	}
}

func (b *BlockSubscriber) connectAndRead() error {
	conn, _, err := websocket.DefaultDialer.Dial(b.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	b.conn = conn
	defer conn.Close()

	if err := conn.WriteJSON(newHeadsSubscribeMsg); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		b.handleMessage(msg)
	}
}

func (b *BlockSubscriber) handleMessage(raw []byte) {
	var notif newHeadsNotification
	if err := json.Unmarshal(raw, &notif); err != nil {
		return
	}
	if len(notif.Params.Result) == 0 {
		return
	}
	b.inspector.InvalidateConfirmedCount()
}
