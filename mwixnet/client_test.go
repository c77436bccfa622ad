package mwixnet

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/mwcore/mwwallet/aggsig"
	"github.com/mwcore/mwwallet/internal/slatetest"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/slate"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

const testHopFee = 50

// serverKeys returns n random X25519 key pairs.
func serverKeys(t *testing.T, n int) ([][32]byte, [][32]byte) {
	t.Helper()

	privs := make([][32]byte, n)
	pubs := make([][32]byte, n)
	for i := range privs {
		_, err := rand.Read(privs[i][:])
		require.NoError(t, err)

		pub, err := curve25519.X25519(privs[i][:], curve25519.Basepoint)
		require.NoError(t, err)
		copy(pubs[i][:], pub)
	}

	return privs, pubs
}

type mixMode int

const (
	mixHonest mixMode = iota
	mixReject
	mixCheat
)

// fakeMixer plays every server of the path: it peels all layers and builds
// the swap transaction.
type fakeMixer struct {
	keys [][32]byte
	mode mixMode

	// cheatTx is returned in mixCheat mode.
	cheatTx *mwtx.Transaction
}

func (m *fakeMixer) mix(req *SwapRequest) (*mwtx.Transaction, error) {
	msg := req.Onion.Message()
	if err := req.ComSig.Verify(req.Onion.Commit, msg[:]); err != nil {
		return nil, err
	}

	switch m.mode {
	case mixReject:
		return nil, errors.New("round full")
	case mixCheat:
		return m.cheatTx, nil
	}

	var (
		onion  = req.Onion
		excess pedersen.BlindSum
		fee    uint64
		output *mwtx.Output
	)
	for _, key := range m.keys {
		payload, next, err := onion.Peel(key)
		if err != nil {
			return nil, err
		}
		excess.AddPositive(payload.Excess)
		fee += payload.Fee
		payload.Output.WhenSome(func(out mwtx.Output) {
			output = &out
		})
		onion = next
	}
	if output == nil || output.Commit != onion.Commit {
		return nil, errors.New("final commitment mismatch")
	}

	sum, err := excess.Sum()
	if err != nil {
		return nil, err
	}
	priv, err := sum.PrivKey()
	if err != nil {
		return nil, err
	}

	kernel := mwtx.NewKernel(mwtx.KernelPlain, fee, 0)
	kernel.Excess = pedersen.CommitmentFromPubKey(priv.PubKey())
	kernelMsg, err := kernel.Message()
	if err != nil {
		return nil, err
	}
	kernel.ExcessSig, err = aggsig.SignSingle(priv, kernelMsg)
	if err != nil {
		return nil, err
	}

	tx := mwtx.NewTransaction(kernel)
	tx.AddInput(mwtx.OutputPlain, req.Onion.Commit)
	tx.AddOutput(*output)

	return tx, nil
}

// ServeHTTP answers a single swap call over a websocket.
func (m *fakeMixer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var upgrader websocket.Upgrader
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var req struct {
		ID     uint64            `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := conn.ReadJSON(&req); err != nil {
		return
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	tx, err := func() (*mwtx.Transaction, error) {
		if req.Method != swapMethod || len(req.Params) != 1 {
			return nil, errors.New("bad request")
		}

		var swap SwapRequest
		if err := json.Unmarshal(req.Params[0], &swap); err != nil {
			return nil, err
		}

		return m.mix(&swap)
	}()
	if err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
	} else {
		resp.Result, _ = json.Marshal(&swapResult{Tx: tx})
	}

	_ = conn.WriteJSON(&resp)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// swapFixture is a finalized payment whose payee output is swapped.
type swapFixture struct {
	payee *slatetest.Party
	tx    *mwtx.Transaction
	input Input
}

func newSwapFixture(t *testing.T) *swapFixture {
	t.Helper()

	payer := slatetest.NewParty(t, 0x51)
	payee := slatetest.NewParty(t, 0x52)
	flow := slatetest.StandardFlow(t, payer, payee, slatetest.FlowParams{
		Amount: 6_000, Fee: 100, InputValue: 10_000,
	})

	out := flow.PayeeCtx.Outputs[0]

	return &swapFixture{
		payee: payee,
		tx:    flow.Steps[slate.Standard3].Tx,
		input: Input{
			KeyID:  out.KeyID,
			Value:  out.Value,
			Commit: out.Commit,
		},
	}
}

func newTestClient(t *testing.T, ring keychain.SecretKeyRing,
	servers [][32]byte, server MixServer) *Client {

	t.Helper()

	c, err := NewClient(Config{
		Servers: servers,
		HopFee:  testHopFee,
		KeyRing: ring,
		Server:  server,
	})
	require.NoError(t, err)

	return c
}

// TestOnionPeel checks that every server recovers its payload and that the
// commitment ends up carrying every excess and fee.
func TestOnionPeel(t *testing.T) {
	t.Parallel()

	privs, pubs := serverKeys(t, 3)

	inBlind, err := pedersen.RandomBlindingFactor()
	require.NoError(t, err)
	commit, err := pedersen.Commit(1_000, inBlind)
	require.NoError(t, err)

	var (
		payloads []Payload
		sum      pedersen.BlindSum
	)
	sum.AddPositive(inBlind)
	for range pubs {
		excess, err := pedersen.RandomBlindingFactor()
		require.NoError(t, err)
		payloads = append(payloads, Payload{Excess: excess, Fee: 7})
		sum.AddPositive(excess)
	}

	onion, err := NewOnion(commit, pubs, payloads)
	require.NoError(t, err)
	require.Len(t, onion.Payloads, 3)

	// The wire form survives a round trip.
	raw, err := json.Marshal(onion)
	require.NoError(t, err)
	var decoded Onion
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, onion.Message(), decoded.Message())

	current := &decoded
	for i, key := range privs {
		payload, next, err := current.Peel(key)
		require.NoError(t, err)
		require.Equal(t, payloads[i].Excess, payload.Excess)
		require.Equal(t, payloads[i].Fee, payload.Fee)
		require.True(t, payload.Output.IsNone())
		require.Len(t, next.Payloads, len(privs)-i-1)
		current = next
	}

	finalBlind, err := sum.Sum()
	require.NoError(t, err)
	expected, err := pedersen.Commit(1_000-3*7, finalBlind)
	require.NoError(t, err)
	require.Equal(t, expected, current.Commit)

	_, _, err = current.Peel(privs[0])
	require.ErrorIs(t, err, ErrInvalidOnion)
}

// TestOnionWrongKey checks that a server can't read another server's layer.
func TestOnionWrongKey(t *testing.T) {
	t.Parallel()

	privs, pubs := serverKeys(t, 2)
	commit, err := pedersen.CommitValue(10)
	require.NoError(t, err)

	excess, err := pedersen.RandomBlindingFactor()
	require.NoError(t, err)
	onion, err := NewOnion(commit, pubs, []Payload{
		{Excess: excess, Fee: 1}, {Excess: excess, Fee: 1},
	})
	require.NoError(t, err)

	payload, _, err := onion.Peel(privs[1])
	if err == nil {
		require.NotEqual(t, excess, payload.Excess)
	}
}

// TestSwap swaps a payee output through three honest servers.
func TestSwap(t *testing.T) {
	t.Parallel()

	f := newSwapFixture(t)
	privs, pubs := serverKeys(t, 3)

	srv := httptest.NewServer(&fakeMixer{keys: privs})
	defer srv.Close()

	client := newTestClient(t, f.payee.Ring, pubs, NewWSServer(wsURL(srv)))
	require.EqualValues(t, 3*testHopFee, client.TotalFee())

	before := f.tx.Copy()
	outKey := f.payee.Element(0).KeyID

	res, err := client.Swap(context.Background(), f.tx, f.input, outKey)
	require.NoError(t, err)
	require.Equal(t, before, f.tx)

	require.NoError(t, res.Tx.Validate())
	require.True(t, res.Tx.HasInput(f.input.Commit))
	require.EqualValues(t, f.input.Value-3*testHopFee, res.Value)
	require.Equal(t, outKey, res.KeyID)

	fee, err := res.Tx.Fee()
	require.NoError(t, err)
	require.EqualValues(t, 3*testHopFee, fee)

	// The new output belongs to the wallet.
	loc, err := outKey.Locator()
	require.NoError(t, err)
	priv, err := f.payee.Ring.DerivePrivKey(loc)
	require.NoError(t, err)
	rewound, err := res.Output.Proof.Rewind(
		res.Output.Commit, pedersen.BlindingFactorFromPrivKey(priv),
	)
	require.NoError(t, err)
	require.Equal(t, res.Value, rewound.Value)
	require.Equal(t, outKey, rewound.KeyID)
}

// TestSwapRejected checks server side rejections and swaps the servers
// didn't perform.
func TestSwapRejected(t *testing.T) {
	t.Parallel()

	f := newSwapFixture(t)
	privs, pubs := serverKeys(t, 2)

	for _, mixer := range []*fakeMixer{
		{keys: privs, mode: mixReject},
		{keys: privs, mode: mixCheat, cheatTx: f.tx},
	} {
		srv := httptest.NewServer(mixer)

		client := newTestClient(
			t, f.payee.Ring, pubs, NewWSServer(wsURL(srv)),
		)
		_, err := client.Swap(
			context.Background(), f.tx, f.input,
			f.payee.Element(0).KeyID,
		)
		require.ErrorIs(t, err, ErrSwapRejected)

		srv.Close()
	}
}

// TestSwapUnavailable checks that transport failures are reported as such.
func TestSwapUnavailable(t *testing.T) {
	t.Parallel()

	f := newSwapFixture(t)
	_, pubs := serverKeys(t, 1)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	client := newTestClient(t, f.payee.Ring, pubs, NewWSServer(url))
	_, err := client.Swap(
		context.Background(), f.tx, f.input, f.payee.Element(0).KeyID,
	)
	require.ErrorIs(t, err, ErrMixnetUnavailable)
}

// TestSwapInvalidInput checks the inputs rejected before anything is sent.
func TestSwapInvalidInput(t *testing.T) {
	t.Parallel()

	f := newSwapFixture(t)
	_, pubs := serverKeys(t, 2)
	client := newTestClient(t, f.payee.Ring, pubs, NewWSServer("ws://x"))
	outKey := f.payee.Element(0).KeyID

	foreign := f.input
	foreign.Commit[1] ^= 0x01
	_, err := client.Swap(context.Background(), f.tx, foreign, outKey)
	require.ErrorIs(t, err, ErrInvalidInput)

	wrongValue := f.input
	wrongValue.Value++
	_, err = client.Swap(context.Background(), f.tx, wrongValue, outKey)
	require.ErrorIs(t, err, ErrInvalidInput)

	expensive := newTestClient(t, f.payee.Ring, pubs, NewWSServer("ws://x"))
	expensive.cfg.HopFee = f.input.Value
	_, err = expensive.Swap(context.Background(), f.tx, f.input, outKey)
	require.ErrorIs(t, err, ErrInvalidInput)
}
