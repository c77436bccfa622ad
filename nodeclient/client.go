// Package nodeclient talks to a node's foreign JSON-RPC API.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/wallet"
)

const (
	// DefaultURL is the foreign API of a local node.
	DefaultURL = "http://127.0.0.1:3413/v2/foreign"

	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second

	// apiUser is the basic auth user of the foreign API.
	apiUser = "grin"

	// maxResponseSize bounds the size of a response body.
	maxResponseSize = 64 << 20
)

// The foreign API methods.
const (
	methodGetTip            = "get_tip"
	methodGetOutputs        = "get_outputs"
	methodGetUnspentOutputs = "get_unspent_outputs"
	methodPushTransaction   = "push_transaction"
	methodGetKernel         = "get_kernel"
)

var (
	// errNotFound is the node's answer to lookups of unknown objects.
	errNotFound = errors.New("not found")
)

// Config configures a Client.
type Config struct {
	// URL is the foreign API endpoint.
	URL string

	// APISecret enables basic auth when set.
	APISecret string

	// Timeout bounds a single request.
	Timeout time.Duration
}

// Client implements wallet.ChainQuery over the node's foreign API.
type Client struct {
	cfg  Config
	http *http.Client
	id   atomic.Uint64
}

// New returns a client for the node at cfg.URL.
func New(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// nodeResult is the Ok/Err envelope the node wraps results in.
type nodeResult struct {
	Ok  json.RawMessage `json:"Ok,omitempty"`
	Err json.RawMessage `json:"Err,omitempty"`
}

// call runs method and decodes its result into result, if non-nil.
func (c *Client) call(ctx context.Context, method string, result any,
	params ...any) error {

	id := c.id.Add(1)
	req, err := btcjson.NewRequest(btcjson.RpcVersion2, id, method, params)
	if err != nil {
		return err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", wallet.ErrNodeCommunication, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APISecret != "" {
		httpReq.SetBasicAuth(apiUser, c.cfg.APISecret)
	}

	log.Tracef("Calling %v (id=%d)", method, id)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v: %v", wallet.ErrNodeCommunication,
			method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %v: status %v",
			wallet.ErrNodeCommunication, method, resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: %v: %v", wallet.ErrNodeCommunication,
			method, err)
	}

	var rpcResp btcjson.Response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("%w: %v: malformed response: %v",
			wallet.ErrNodeCommunication, method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%w: %v: %v", wallet.ErrNodeCommunication,
			method, rpcResp.Error)
	}

	var res nodeResult
	if err := json.Unmarshal(rpcResp.Result, &res); err != nil {
		return fmt.Errorf("%w: %v: malformed result: %v",
			wallet.ErrNodeCommunication, method, err)
	}
	if len(res.Err) > 0 {
		return nodeError(method, res.Err)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(res.Ok, result); err != nil {
		return fmt.Errorf("%w: %v: malformed result: %v",
			wallet.ErrNodeCommunication, method, err)
	}

	return nil
}

// nodeError converts an Err result. The node reports a missing object as
// the bare string "NotFound".
func nodeError(method string, raw json.RawMessage) error {
	var kind string
	if json.Unmarshal(raw, &kind) == nil && kind == "NotFound" {
		return errNotFound
	}

	return fmt.Errorf("%w: %v: node error: %s", wallet.ErrNodeCommunication,
		method, raw)
}

type tipResult struct {
	Height          uint64 `json:"height"`
	LastBlockPushed string `json:"last_block_pushed"`
}

// GetChainTip returns the latest block.
func (c *Client) GetChainTip(ctx context.Context) (wallet.ChainTip, error) {
	var tip tipResult
	if err := c.call(ctx, methodGetTip, &tip); err != nil {
		return wallet.ChainTip{}, err
	}

	return wallet.ChainTip{
		Height: tip.Height,
		Hash:   tip.LastBlockPushed,
	}, nil
}

// outputResult is an output as printed by the node.
type outputResult struct {
	OutputType  string              `json:"output_type"`
	Commit      pedersen.Commitment `json:"commit"`
	Spent       bool                `json:"spent"`
	Proof       *pedersen.Proof     `json:"proof"`
	BlockHeight uint64              `json:"block_height"`
	MMRIndex    uint64              `json:"mmr_index"`
}

const coinbaseOutputType = "Coinbase"

func (o *outputResult) chainOutput() wallet.ChainOutput {
	out := wallet.ChainOutput{
		Commit:     o.Commit,
		Height:     o.BlockHeight,
		MMRIndex:   o.MMRIndex,
		IsCoinbase: o.OutputType == coinbaseOutputType,
	}
	if o.Proof != nil {
		out.Proof = *o.Proof
	}

	return out
}

// GetOutputsByCommit returns the unspent outputs among commits.
func (c *Client) GetOutputsByCommit(ctx context.Context,
	commits []pedersen.Commitment) (
	map[pedersen.Commitment]wallet.ChainOutput, error) {

	found := make(map[pedersen.Commitment]wallet.ChainOutput)
	if len(commits) == 0 {
		return found, nil
	}

	var outputs []outputResult
	err := c.call(
		ctx, methodGetOutputs, &outputs, commits, nil, nil, false,
		false,
	)
	if err != nil {
		return nil, err
	}

	for i := range outputs {
		if outputs[i].Spent {
			continue
		}
		found[outputs[i].Commit] = outputs[i].chainOutput()
	}

	log.Debugf("Found %d of %d outputs on chain", len(found), len(commits))

	return found, nil
}

type unspentResult struct {
	HighestIndex       uint64         `json:"highest_index"`
	LastRetrievedIndex uint64         `json:"last_retrieved_index"`
	Outputs            []outputResult `json:"outputs"`
}

// GetOutputsByPMMRIndex pages through the unspent outputs.
func (c *Client) GetOutputsByPMMRIndex(ctx context.Context, start, end uint64,
	max int) (*wallet.OutputPage, error) {

	var endParam *uint64
	if end != 0 {
		endParam = &end
	}

	var res unspentResult
	err := c.call(
		ctx, methodGetUnspentOutputs, &res, start+1, endParam, max,
		true,
	)
	if err != nil {
		return nil, err
	}

	page := &wallet.OutputPage{
		HighestIndex:       res.HighestIndex,
		LastRetrievedIndex: res.LastRetrievedIndex,
		Outputs:            make([]wallet.ChainOutput, 0, len(res.Outputs)),
	}
	for i := range res.Outputs {
		page.Outputs = append(page.Outputs, res.Outputs[i].chainOutput())
	}

	return page, nil
}

// PostTx pushes the transaction to the node's pool.
func (c *Client) PostTx(ctx context.Context, tx *mwtx.Transaction,
	fluff bool) error {

	if err := c.call(ctx, methodPushTransaction, nil, tx, fluff); err != nil {
		return err
	}

	log.Infof("Posted transaction with %d inputs and %d outputs (fluff=%v)",
		len(tx.Body.Inputs), len(tx.Body.Outputs), fluff)

	return nil
}

type kernelResult struct {
	Kernel   mwtx.TxKernel `json:"tx_kernel"`
	Height   uint64        `json:"height"`
	MMRIndex uint64        `json:"mmr_index"`
}

// GetKernel looks up a kernel by excess.
func (c *Client) GetKernel(ctx context.Context, excess pedersen.Commitment,
	minHeight, maxHeight uint64) (fn.Option[wallet.KernelLocation], error) {

	none := fn.None[wallet.KernelLocation]()

	var minParam, maxParam *uint64
	if minHeight != 0 {
		minParam = &minHeight
	}
	if maxHeight != 0 {
		maxParam = &maxHeight
	}

	var res kernelResult
	err := c.call(ctx, methodGetKernel, &res, excess, minParam, maxParam)
	switch {
	case errors.Is(err, errNotFound):
		return none, nil

	case err != nil:
		return none, err
	}

	return fn.Some(wallet.KernelLocation{
		Kernel:   res.Kernel,
		Height:   res.Height,
		MMRIndex: res.MMRIndex,
	}), nil
}

var _ wallet.ChainQuery = (*Client)(nil)
