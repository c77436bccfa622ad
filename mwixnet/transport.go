package mwixnet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mwcore/mwwallet/mwtx"
)

const (
	// defaultHandshakeTimeout bounds the websocket handshake.
	defaultHandshakeTimeout = 30 * time.Second

	swapMethod = "swap"
)

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcError is the error object of a JSON-RPC 2.0 response.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// swapResult is the result of the swap method.
type swapResult struct {
	Tx *mwtx.Transaction `json:"tx"`
}

// WSServer is a MixServer reached over a websocket carrying JSON-RPC. Every
// swap uses its own connection, held open until the mix round completes.
type WSServer struct {
	url    string
	dialer *websocket.Dialer
	nextID atomic.Uint64
}

// NewWSServer returns a transport to the mix server at url.
func NewWSServer(url string) *WSServer {
	return &WSServer{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: defaultHandshakeTimeout,
		},
	}
}

// Swap submits the request and waits for the swap transaction.
func (w *WSServer) Swap(ctx context.Context,
	req *SwapRequest) (*mwtx.Transaction, error) {

	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMixnetUnavailable, err)
	}
	defer conn.Close()

	// Unblock the read below once the caller gives up.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	id := w.nextID.Add(1)
	err = conn.WriteJSON(&rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  swapMethod,
		Params:  []interface{}{req},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMixnetUnavailable, err)
	}

	log.Debugf("Sent swap request %d to %v", id, w.url)

	var resp rpcResponse
	if err := conn.ReadJSON(&resp); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%w: %v", ErrMixnetUnavailable, err)
	}

	if resp.ID != id {
		return nil, fmt.Errorf("%w: response id %d, expected %d",
			ErrSwapRejected, resp.ID, id)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s (code %d)", ErrSwapRejected,
			resp.Error.Message, resp.Error.Code)
	}

	var result swapResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSwapRejected, err)
	}

	return result.Tx, nil
}

var _ MixServer = (*WSServer)(nil)
