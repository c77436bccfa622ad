package slatepack

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/mwcore/mwwallet/address"
	"golang.org/x/crypto/chacha20poly1305"
)

// The TLV types of the binary form. The content types are shared by the
// plaintext envelope and the sealed content of encrypted ones.
const (
	typeMajor      tlv.Type = 0
	typeMinor      tlv.Type = 1
	typeMode       tlv.Type = 2
	typeSender     tlv.Type = 4
	typeSenderSig  tlv.Type = 5
	typePayload    tlv.Type = 6
	typeEphemeral  tlv.Type = 8
	typeSlots      tlv.Type = 10
	typeNonce      tlv.Type = 12
	typeCiphertext tlv.Type = 14
)

// content is the sender, signature and payload of a slatepack, in the clear
// or sealed.
type content struct {
	sender  []byte
	sig     [ed25519.SignatureSize]byte
	payload []byte
}

func contentOf(s *Slatepack) (*content, error) {
	c := &content{payload: s.Payload}
	if s.Sender.IsNone() {
		return c, nil
	}

	sender, err := s.Sender.UnsafeFromSome().MarshalText()
	if err != nil {
		return nil, err
	}
	sig, err := s.SenderSig.UnwrapOrErr(fmt.Errorf("%w: sender "+
		"without signature", ErrSenderAuthFailed))
	if err != nil {
		return nil, err
	}
	c.sender = sender
	c.sig = sig

	return c, nil
}

// records returns the records to encode, leaving out an absent sender.
func (c *content) records() []tlv.Record {
	var records []tlv.Record
	if c.sender != nil {
		records = append(records,
			tlv.MakePrimitiveRecord(typeSender, &c.sender),
			tlv.MakePrimitiveRecord(typeSenderSig, &c.sig),
		)
	}

	return append(records, tlv.MakePrimitiveRecord(typePayload, &c.payload))
}

// allRecords returns every content record, for decoding.
func (c *content) allRecords() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeSender, &c.sender),
		tlv.MakePrimitiveRecord(typeSenderSig, &c.sig),
		tlv.MakePrimitiveRecord(typePayload, &c.payload),
	}
}

// apply copies the decoded content into the slatepack.
func (c *content) apply(s *Slatepack, parsed tlv.TypeMap) error {
	if _, ok := parsed[typePayload]; !ok {
		return fmt.Errorf("%w: payload missing", ErrMalformedSlatepack)
	}
	s.Payload = c.payload

	_, hasSender := parsed[typeSender]
	_, hasSig := parsed[typeSenderSig]
	switch {
	case !hasSender && !hasSig:
		return nil

	case !hasSender || !hasSig:
		return fmt.Errorf("%w: sender and signature must come "+
			"together", ErrMalformedSlatepack)
	}

	sender, err := address.Decode(string(c.sender))
	if err != nil {
		return fmt.Errorf("%w: sender: %v", ErrMalformedSlatepack, err)
	}
	s.Sender = fn.Some(sender)
	s.SenderSig = fn.Some(c.sig)

	return nil
}

// encodeContent serializes the content of a plaintext slatepack on its own,
// to be sealed.
func encodeContent(s *Slatepack) ([]byte, error) {
	c, err := contentOf(s)
	if err != nil {
		return nil, err
	}

	stream, err := tlv.NewStream(c.records()...)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// decodeContent parses unsealed content into the slatepack.
func decodeContent(s *Slatepack, raw []byte) error {
	var c content
	stream, err := tlv.NewStream(c.allRecords()...)
	if err != nil {
		return err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSlatepack, err)
	}

	return c.apply(s, parsed)
}

// Encode writes the binary form of the slatepack.
func (s *Slatepack) Encode(w io.Writer) error {
	major, minor, mode := s.Version.Major, s.Version.Minor, uint8(s.Mode)
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeMajor, &major),
		tlv.MakePrimitiveRecord(typeMinor, &minor),
		tlv.MakePrimitiveRecord(typeMode, &mode),
	}

	switch s.Mode {
	case ModePlaintext:
		c, err := contentOf(s)
		if err != nil {
			return err
		}
		records = append(records, c.records()...)

	case ModeEncrypted:
		e := s.Envelope
		if e == nil {
			return fmt.Errorf("%w: encrypted without envelope",
				ErrMalformedSlatepack)
		}

		slots := make([]byte, 0, len(e.Slots)*slotSize)
		for _, slot := range e.Slots {
			slots = append(slots, slot[:]...)
		}
		nonce := e.Nonce[:]

		records = append(records,
			tlv.MakePrimitiveRecord(typeEphemeral, &e.EphemeralKey),
			tlv.MakePrimitiveRecord(typeSlots, &slots),
			tlv.MakePrimitiveRecord(typeNonce, &nonce),
			tlv.MakePrimitiveRecord(typeCiphertext, &e.Ciphertext),
		)

	default:
		return fmt.Errorf("%w: unknown mode %v", ErrMalformedSlatepack,
			s.Mode)
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Decode reads a slatepack in its binary form.
func Decode(r io.Reader) (*Slatepack, error) {
	var (
		major, minor, mode uint8
		c                  content
		env                Envelope
		slots, nonce       []byte
	)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeMajor, &major),
		tlv.MakePrimitiveRecord(typeMinor, &minor),
		tlv.MakePrimitiveRecord(typeMode, &mode),
	}
	records = append(records, c.allRecords()...)
	records = append(records,
		tlv.MakePrimitiveRecord(typeEphemeral, &env.EphemeralKey),
		tlv.MakePrimitiveRecord(typeSlots, &slots),
		tlv.MakePrimitiveRecord(typeNonce, &nonce),
		tlv.MakePrimitiveRecord(typeCiphertext, &env.Ciphertext),
	)

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}
	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSlatepack, err)
	}

	if !hasTypes(parsed, typeMajor, typeMinor, typeMode) {
		return nil, fmt.Errorf("%w: version or mode missing",
			ErrMalformedSlatepack)
	}
	if major != CurrentVersion.Major {
		return nil, fmt.Errorf("%w: unsupported version %d.%d",
			ErrMalformedSlatepack, major, minor)
	}

	s := &Slatepack{
		Version: Version{Major: major, Minor: minor},
		Mode:    Mode(mode),
	}

	switch s.Mode {
	case ModePlaintext:
		if err := c.apply(s, parsed); err != nil {
			return nil, err
		}

	case ModeEncrypted:
		if !hasTypes(parsed, typeEphemeral, typeSlots, typeNonce,
			typeCiphertext) {

			return nil, fmt.Errorf("%w: incomplete envelope",
				ErrMalformedSlatepack)
		}
		if len(slots) == 0 || len(slots)%slotSize != 0 {
			return nil, fmt.Errorf("%w: bad slots length %d",
				ErrMalformedSlatepack, len(slots))
		}
		if len(nonce) != chacha20poly1305.NonceSizeX {
			return nil, fmt.Errorf("%w: bad nonce length %d",
				ErrMalformedSlatepack, len(nonce))
		}

		for len(slots) > 0 {
			var slot [slotSize]byte
			copy(slot[:], slots)
			env.Slots = append(env.Slots, slot)
			slots = slots[slotSize:]
		}
		copy(env.Nonce[:], nonce)
		s.Envelope = &env

	default:
		return nil, fmt.Errorf("%w: unknown mode %d",
			ErrMalformedSlatepack, mode)
	}

	return s, nil
}

func hasTypes(parsed tlv.TypeMap, types ...tlv.Type) bool {
	for _, typ := range types {
		if _, ok := parsed[typ]; !ok {
			return false
		}
	}

	return true
}
