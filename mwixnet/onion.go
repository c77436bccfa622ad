package mwixnet

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/curve25519"
)

// ErrInvalidOnion is returned when an onion layer can't be peeled.
var ErrInvalidOnion = errors.New("invalid onion")

// layerKeyTag keys the HMAC turning a shared secret into a layer key.
var layerKeyTag = []byte("MWIXNET")

// Payload is the content of one onion layer, readable only by its server.
type Payload struct {
	// NextEphemeral is the ephemeral key of the next layer. Zero for the
	// last hop.
	NextEphemeral [32]byte

	// Excess is added to the commitment's blinding factor by the server.
	Excess pedersen.BlindingFactor

	// Fee is subtracted from the commitment's value by the server.
	Fee uint64

	// Output is the final output, carried by the last hop only.
	Output fn.Option[mwtx.Output]
}

const (
	typeNextEphemeral tlv.Type = 0
	typeExcess        tlv.Type = 2
	typeFee           tlv.Type = 4
	typeOutputCommit  tlv.Type = 6
	typeOutputProof   tlv.Type = 8
)

func (p *Payload) encode() ([]byte, error) {
	var (
		next   = p.NextEphemeral
		excess = [32]byte(p.Excess)
		fee    = p.Fee
		commit [33]byte
		proof  []byte
	)
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeNextEphemeral, &next),
		tlv.MakePrimitiveRecord(typeExcess, &excess),
		tlv.MakePrimitiveRecord(typeFee, &fee),
	}
	p.Output.WhenSome(func(out mwtx.Output) {
		commit = out.Commit
		proof = out.Proof[:]
		records = append(records,
			tlv.MakePrimitiveRecord(typeOutputCommit, &commit),
			tlv.MakePrimitiveRecord(typeOutputProof, &proof),
		)
	})

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func decodePayload(raw []byte) (*Payload, error) {
	var (
		p      Payload
		excess [32]byte
		commit [33]byte
		proof  []byte
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeNextEphemeral, &p.NextEphemeral),
		tlv.MakePrimitiveRecord(typeExcess, &excess),
		tlv.MakePrimitiveRecord(typeFee, &p.Fee),
		tlv.MakePrimitiveRecord(typeOutputCommit, &commit),
		tlv.MakePrimitiveRecord(typeOutputProof, &proof),
	)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOnion, err)
	}
	for _, typ := range []tlv.Type{typeNextEphemeral, typeExcess, typeFee} {
		if _, ok := parsed[typ]; !ok {
			return nil, fmt.Errorf("%w: record %d missing",
				ErrInvalidOnion, typ)
		}
	}
	p.Excess = excess

	_, hasCommit := parsed[typeOutputCommit]
	_, hasProof := parsed[typeOutputProof]
	if hasCommit != hasProof {
		return nil, fmt.Errorf("%w: partial output", ErrInvalidOnion)
	}
	if hasCommit {
		out := mwtx.Output{Features: mwtx.OutputPlain}
		out.Commit, err = pedersen.ParseCommitment(commit[:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOnion, err)
		}
		if len(proof) != pedersen.ProofSize {
			return nil, fmt.Errorf("%w: proof length %d",
				ErrInvalidOnion, len(proof))
		}
		copy(out.Proof[:], proof)
		p.Output = fn.Some(out)
	}

	return &p, nil
}

// Onion is the layered swap request. Every server peels its layer, adjusts
// the commitment and forwards the rest.
type Onion struct {
	// EphemeralKey is the X25519 key of the outermost layer.
	EphemeralKey [32]byte

	// Commit is the commitment being swapped at this point of the path.
	Commit pedersen.Commitment

	// Payloads are the encrypted layers, the current server's first.
	Payloads [][]byte
}

// layerKey derives the stream cipher key of a layer from its shared secret.
func layerKey(shared []byte) []byte {
	mac := hmac.New(sha256.New, layerKeyTag)
	mac.Write(shared)

	return mac.Sum(nil)
}

// xorLayer applies the keystream of a layer to the payload at the given
// position of the remaining list. Every position gets its own nonce.
func xorLayer(key []byte, position int, payload []byte) error {
	var nonce [chacha20.NonceSize]byte
	binary.BigEndian.PutUint32(nonce[chacha20.NonceSize-4:], uint32(position))

	c, err := chacha20.NewUnauthenticatedCipher(key, nonce[:])
	if err != nil {
		return err
	}
	c.XORKeyStream(payload, payload)

	return nil
}

// NewOnion wraps the payloads for the servers, in path order, around the
// input commitment.
func NewOnion(commit pedersen.Commitment, servers [][32]byte,
	payloads []Payload) (*Onion, error) {

	if len(servers) == 0 || len(servers) != len(payloads) {
		return nil, fmt.Errorf("%d servers for %d payloads",
			len(servers), len(payloads))
	}

	ephemeral := make([][32]byte, len(servers))
	for i := range ephemeral {
		if _, err := rand.Read(ephemeral[i][:]); err != nil {
			return nil, err
		}
	}
	defer func() {
		for i := range ephemeral {
			ephemeral[i] = [32]byte{}
		}
	}()

	keys := make([][]byte, len(servers))
	for i, server := range servers {
		shared, err := curve25519.X25519(ephemeral[i][:], server[:])
		if err != nil {
			return nil, fmt.Errorf("server %d: %w", i, err)
		}
		keys[i] = layerKey(shared)
	}

	onion := &Onion{Commit: commit}
	first, err := curve25519.X25519(ephemeral[0][:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(onion.EphemeralKey[:], first)

	for i := range payloads {
		p := payloads[i]
		p.NextEphemeral = [32]byte{}
		if i+1 < len(servers) {
			next, err := curve25519.X25519(
				ephemeral[i+1][:], curve25519.Basepoint,
			)
			if err != nil {
				return nil, err
			}
			copy(p.NextEphemeral[:], next)
		}

		enc, err := p.encode()
		if err != nil {
			return nil, err
		}

		// Server j sees this payload at position i-j.
		for j := 0; j <= i; j++ {
			if err := xorLayer(keys[j], i-j, enc); err != nil {
				return nil, err
			}
		}
		onion.Payloads = append(onion.Payloads, enc)
	}

	return onion, nil
}

// Peel removes the outer layer with the server's X25519 key. It returns the
// server's payload and the onion to forward, whose commitment carries the
// payload's excess and fee. The returned onion has no payloads after the
// last hop.
func (o *Onion) Peel(serverKey [32]byte) (*Payload, *Onion, error) {
	if len(o.Payloads) == 0 {
		return nil, nil, fmt.Errorf("%w: no layers left",
			ErrInvalidOnion)
	}

	shared, err := curve25519.X25519(serverKey[:], o.EphemeralKey[:])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidOnion, err)
	}
	key := layerKey(shared)

	remaining := make([][]byte, len(o.Payloads))
	for i, enc := range o.Payloads {
		remaining[i] = append([]byte(nil), enc...)
		if err := xorLayer(key, i, remaining[i]); err != nil {
			return nil, nil, err
		}
	}

	payload, err := decodePayload(remaining[0])
	if err != nil {
		return nil, nil, err
	}

	commit, err := adjustCommit(o.Commit, payload.Excess, payload.Fee)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidOnion, err)
	}

	next := &Onion{
		EphemeralKey: payload.NextEphemeral,
		Commit:       commit,
		Payloads:     remaining[1:],
	}

	return payload, next, nil
}

// adjustCommit returns commit + excess*G - fee*H.
func adjustCommit(commit pedersen.Commitment, excess pedersen.BlindingFactor,
	fee uint64) (pedersen.Commitment, error) {

	positive := []pedersen.Commitment{commit}
	if !excess.IsZero() {
		excessCommit, err := pedersen.Commit(0, excess)
		if err != nil {
			return pedersen.Commitment{}, err
		}
		positive = append(positive, excessCommit)
	}

	var negative []pedersen.Commitment
	if fee > 0 {
		feeCommit, err := pedersen.CommitValue(fee)
		if err != nil {
			return pedersen.Commitment{}, err
		}
		negative = append(negative, feeCommit)
	}

	return pedersen.Sum(positive, negative)
}

// Message returns the hash the commitment signature of a swap request
// signs: it binds the signature to the whole onion.
func (o *Onion) Message() [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write(o.EphemeralKey[:])
	h.Write(o.Commit[:])

	var n [4]byte
	for _, p := range o.Payloads {
		binary.BigEndian.PutUint32(n[:], uint32(len(p)))
		h.Write(n[:])
		h.Write(p)
	}

	var msg [32]byte
	copy(msg[:], h.Sum(nil))

	return msg
}

// onionJSON is the wire form of an onion.
type onionJSON struct {
	PubKey string              `json:"pubkey"`
	Commit pedersen.Commitment `json:"commit"`
	Data   []string            `json:"data"`
}

// MarshalJSON encodes the onion with hex encoded keys and layers.
func (o *Onion) MarshalJSON() ([]byte, error) {
	j := onionJSON{
		PubKey: hex.EncodeToString(o.EphemeralKey[:]),
		Commit: o.Commit,
		Data:   make([]string, 0, len(o.Payloads)),
	}
	for _, p := range o.Payloads {
		j.Data = append(j.Data, hex.EncodeToString(p))
	}

	return json.Marshal(j)
}

// UnmarshalJSON decodes the wire form of an onion.
func (o *Onion) UnmarshalJSON(b []byte) error {
	var j onionJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}

	pub, err := hex.DecodeString(j.PubKey)
	if err != nil || len(pub) != 32 {
		return fmt.Errorf("%w: ephemeral key", ErrInvalidOnion)
	}

	onion := Onion{Commit: j.Commit}
	copy(onion.EphemeralKey[:], pub)
	for _, d := range j.Data {
		p, err := hex.DecodeString(d)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOnion, err)
		}
		onion.Payloads = append(onion.Payloads, p)
	}
	*o = onion

	return nil
}
