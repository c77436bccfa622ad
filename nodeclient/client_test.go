package nodeclient

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/mwcore/mwwallet/internal/chaintest"
	"github.com/mwcore/mwwallet/internal/slatetest"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/slate"
	"github.com/mwcore/mwwallet/wallet"
	"github.com/stretchr/testify/require"
)

const testSecret = "hunter2"

var errKernelMissing = errors.New("kernel missing")

// fakeNode serves the foreign API from an in-memory chain.
type fakeNode struct {
	chain *chaintest.Chain
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != apiUser || pass != testSecret {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req btcjson.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var wrapped map[string]any
	result, err := n.dispatch(r, &req)
	switch {
	case errors.Is(err, errKernelMissing):
		wrapped = map[string]any{"Err": "NotFound"}

	case err != nil:
		wrapped = map[string]any{
			"Err": map[string]string{"Internal": err.Error()},
		}

	default:
		wrapped = map[string]any{"Ok": result}
	}

	resp, err := btcjson.MarshalResponse(req.Jsonrpc, req.ID, wrapped, nil)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(resp)
}

func param[T any](req *btcjson.Request, i int) (T, error) {
	var v T
	err := json.Unmarshal(req.Params[i], &v)
	return v, err
}

func printable(out wallet.ChainOutput) outputResult {
	res := outputResult{
		OutputType:  "Transaction",
		Commit:      out.Commit,
		BlockHeight: out.Height,
		MMRIndex:    out.MMRIndex,
	}
	if out.IsCoinbase {
		res.OutputType = coinbaseOutputType
	}
	if out.Proof != (pedersen.Proof{}) {
		proof := out.Proof
		res.Proof = &proof
	}

	return res
}

func (n *fakeNode) dispatch(r *http.Request, req *btcjson.Request) (any,
	error) {

	ctx := r.Context()

	switch req.Method {
	case methodGetTip:
		tip, err := n.chain.GetChainTip(ctx)
		if err != nil {
			return nil, err
		}

		return tipResult{
			Height: tip.Height, LastBlockPushed: tip.Hash,
		}, nil

	case methodGetOutputs:
		commits, err := param[[]pedersen.Commitment](req, 0)
		if err != nil {
			return nil, err
		}
		found, err := n.chain.GetOutputsByCommit(ctx, commits)
		if err != nil {
			return nil, err
		}
		res := make([]outputResult, 0, len(found))
		for _, out := range found {
			res = append(res, printable(out))
		}

		return res, nil

	case methodGetUnspentOutputs:
		start, err := param[uint64](req, 0)
		if err != nil {
			return nil, err
		}
		end, err := param[*uint64](req, 1)
		if err != nil {
			return nil, err
		}
		max, err := param[int](req, 2)
		if err != nil {
			return nil, err
		}

		var endIndex uint64
		if end != nil {
			endIndex = *end
		}
		page, err := n.chain.GetOutputsByPMMRIndex(
			ctx, start-1, endIndex, max,
		)
		if err != nil {
			return nil, err
		}

		res := unspentResult{
			HighestIndex:       page.HighestIndex,
			LastRetrievedIndex: page.LastRetrievedIndex,
			Outputs:            []outputResult{},
		}
		for _, out := range page.Outputs {
			res.Outputs = append(res.Outputs, printable(out))
		}

		return res, nil

	case methodPushTransaction:
		tx, err := param[mwtx.Transaction](req, 0)
		if err != nil {
			return nil, err
		}
		fluff, err := param[bool](req, 1)
		if err != nil {
			return nil, err
		}

		return nil, n.chain.PostTx(ctx, &tx, fluff)

	case methodGetKernel:
		excess, err := param[pedersen.Commitment](req, 0)
		if err != nil {
			return nil, err
		}
		loc, err := n.chain.GetKernel(ctx, excess, 0, 0)
		if err != nil {
			return nil, err
		}
		if loc.IsNone() {
			return nil, errKernelMissing
		}
		k := loc.UnwrapOr(wallet.KernelLocation{})

		return kernelResult{
			Kernel:   k.Kernel,
			Height:   k.Height,
			MMRIndex: k.MMRIndex,
		}, nil

	default:
		return nil, errors.New("unknown method")
	}
}

func newTestClient(t *testing.T) (*Client, *chaintest.Chain) {
	t.Helper()

	chain := chaintest.New(100)
	srv := httptest.NewServer(&fakeNode{chain: chain})
	t.Cleanup(srv.Close)

	return New(Config{URL: srv.URL, APISecret: testSecret}), chain
}

// TestOutputs queries outputs by commitment and by PMMR index.
func TestOutputs(t *testing.T) {
	t.Parallel()

	client, chain := newTestClient(t)
	party := slatetest.NewParty(t, 0x81)

	first, _ := party.Output(t, 0, 1, 10)
	second, _ := party.Output(t, 0, 2, 20)
	third, _ := party.Output(t, 0, 3, 30)
	missing, _ := party.Output(t, 0, 4, 40)
	chain.AddOutputs(false, first, second)
	chain.AddOutputs(true, third)

	tip, err := client.GetChainTip(t.Context())
	require.NoError(t, err)
	require.EqualValues(t, 102, tip.Height)
	require.Len(t, tip.Hash, 64)

	found, err := client.GetOutputsByCommit(
		t.Context(), []pedersen.Commitment{
			first.Commit, third.Commit, missing.Commit,
		},
	)
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.EqualValues(t, 1, found[first.Commit].MMRIndex)
	require.True(t, found[third.Commit].IsCoinbase)
	require.EqualValues(t, 102, found[third.Commit].Height)

	none, err := client.GetOutputsByCommit(t.Context(), nil)
	require.NoError(t, err)
	require.Empty(t, none)

	page, err := client.GetOutputsByPMMRIndex(t.Context(), 0, 0, 2)
	require.NoError(t, err)
	require.EqualValues(t, 3, page.HighestIndex)
	require.EqualValues(t, 2, page.LastRetrievedIndex)
	require.Len(t, page.Outputs, 2)
	require.Equal(t, first.Proof, page.Outputs[0].Proof)
	require.Equal(t, second.Commit, page.Outputs[1].Commit)

	page, err = client.GetOutputsByPMMRIndex(
		t.Context(), page.LastRetrievedIndex, 0, 2,
	)
	require.NoError(t, err)
	require.Len(t, page.Outputs, 1)
	require.Equal(t, third.Commit, page.Outputs[0].Commit)
	require.EqualValues(t, 3, page.LastRetrievedIndex)

	page, err = client.GetOutputsByPMMRIndex(t.Context(), 0, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Outputs, 1)
}

// TestPostTxAndKernel posts a transaction and finds its kernel.
func TestPostTxAndKernel(t *testing.T) {
	t.Parallel()

	client, chain := newTestClient(t)
	payer := slatetest.NewParty(t, 0x82)
	payee := slatetest.NewParty(t, 0x83)

	flow := slatetest.StandardFlow(t, payer, payee, slatetest.FlowParams{
		Amount: 6, Fee: 1, InputValue: 10,
	})
	tx := flow.Steps[slate.Standard3].Tx

	for _, in := range tx.Body.Inputs {
		chain.AddOutputs(false, mwtx.Output{Commit: in.Commit})
	}

	excess := tx.Body.Kernels[0].Excess
	loc, err := client.GetKernel(t.Context(), excess, 0, 0)
	require.NoError(t, err)
	require.True(t, loc.IsNone())

	require.NoError(t, client.PostTx(t.Context(), tx, true))
	require.Len(t, chain.Posted(), 1)

	loc, err = client.GetKernel(t.Context(), excess, 50, 0)
	require.NoError(t, err)
	kernel := loc.UnwrapOr(wallet.KernelLocation{})
	require.Equal(t, tx.Body.Kernels[0], kernel.Kernel)
	require.Equal(t, chain.Height(), kernel.Height)

	// Spending the inputs again is refused by the node.
	err = client.PostTx(t.Context(), tx, false)
	require.ErrorIs(t, err, wallet.ErrNodeCommunication)
}

// TestNodeFailures checks that every kind of failure is reported as a node
// communication error.
func TestNodeFailures(t *testing.T) {
	t.Parallel()

	client, chain := newTestClient(t)

	chain.SetOffline(true)
	_, err := client.GetChainTip(t.Context())
	require.ErrorIs(t, err, wallet.ErrNodeCommunication)
	chain.SetOffline(false)

	wrongSecret := New(Config{URL: client.cfg.URL, APISecret: "nope"})
	_, err = wrongSecret.GetChainTip(t.Context())
	require.ErrorIs(t, err, wallet.ErrNodeCommunication)

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	unreachable := New(Config{URL: srv.URL})
	_, err = unreachable.GetOutputsByPMMRIndex(t.Context(), 0, 0, 10)
	require.ErrorIs(t, err, wallet.ErrNodeCommunication)
}
