package slatepack

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/address"
)

var (
	// ErrMalformedArmor is returned when an armored slatepack has a bad
	// structure or checksum.
	ErrMalformedArmor = errors.New("malformed slatepack armor")

	// ErrMalformedSlatepack is returned when the binary form of a
	// slatepack can't be decoded.
	ErrMalformedSlatepack = errors.New("malformed slatepack")

	// ErrDecryptionFailed is returned when an encrypted slatepack can't
	// be opened with the given key, either because the key isn't one of
	// the recipients or because the ciphertext was altered.
	ErrDecryptionFailed = errors.New("slatepack decryption failed")

	// ErrSenderAuthFailed is returned when the sender signature of a
	// slatepack doesn't verify.
	ErrSenderAuthFailed = errors.New("slatepack sender authentication " +
		"failed")

	// ErrNotEncrypted is returned when decrypting a plaintext slatepack.
	ErrNotEncrypted = errors.New("slatepack not encrypted")

	// ErrEncrypted is returned when reading the payload of a slatepack
	// that hasn't been decrypted yet.
	ErrEncrypted = errors.New("slatepack still encrypted")
)

// Mode tells whether the payload of a slatepack is encrypted.
type Mode uint8

const (
	// ModePlaintext carries the payload in the clear.
	ModePlaintext Mode = 0

	// ModeEncrypted carries the payload sealed to one or more
	// recipients.
	ModeEncrypted Mode = 1
)

// String returns a human readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModePlaintext:
		return "plaintext"
	case ModeEncrypted:
		return "encrypted"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Version is the version of the slatepack envelope.
type Version struct {
	Major uint8
	Minor uint8
}

// CurrentVersion is the envelope version written by this package.
var CurrentVersion = Version{Major: 1, Minor: 0}

// String returns the version as major.minor.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Slatepack is the transport envelope of an encoded slate.
//
// In plaintext mode Payload holds the encoded slate. In encrypted mode the
// payload, the sender and its signature are sealed together in Envelope and
// only become available after Decrypt.
type Slatepack struct {
	// Version of the envelope.
	Version Version

	// Mode tells whether Envelope or Payload holds the content.
	Mode Mode

	// Sender is the optional address of the sender, which signs the
	// payload.
	Sender fn.Option[address.Address]

	// SenderSig is the ed25519 signature of the sender over the payload.
	SenderSig fn.Option[[ed25519.SignatureSize]byte]

	// Payload is the encoded slate.
	Payload []byte

	// Envelope holds the sealed content of encrypted slatepacks.
	Envelope *Envelope
}

// New returns a plaintext slatepack carrying payload.
func New(payload []byte) *Slatepack {
	return &Slatepack{
		Version: CurrentVersion,
		Mode:    ModePlaintext,
		Payload: payload,
	}
}

// Sign sets the sender of the slatepack and signs the payload with its key.
func (s *Slatepack) Sign(sender address.Address,
	key ed25519.PrivateKey) error {

	if s.Mode != ModePlaintext {
		return ErrEncrypted
	}

	pub, _ := key.Public().(ed25519.PublicKey)
	if !sender.PubKey.Equal(pub) {
		return fmt.Errorf("%w: key doesn't match sender address %v",
			ErrSenderAuthFailed, sender)
	}

	var sig [ed25519.SignatureSize]byte
	copy(sig[:], ed25519.Sign(key, s.Payload))

	s.Sender = fn.Some(sender)
	s.SenderSig = fn.Some(sig)

	return nil
}

// VerifySender checks the sender signature of the payload. Slatepacks
// without a sender pass, the caller decides whether anonymous slatepacks
// are acceptable. A sender without signature fails.
func (s *Slatepack) VerifySender() error {
	if s.Mode != ModePlaintext {
		return ErrEncrypted
	}

	if s.Sender.IsNone() {
		return nil
	}
	sender := s.Sender.UnsafeFromSome()

	sig, err := s.SenderSig.UnwrapOrErr(fmt.Errorf("%w: signature "+
		"missing", ErrSenderAuthFailed))
	if err != nil {
		return err
	}

	if len(sender.PubKey) != ed25519.PublicKeySize ||
		!ed25519.Verify(sender.PubKey, s.Payload, sig[:]) {

		return fmt.Errorf("%w: bad signature of %v", ErrSenderAuthFailed,
			sender)
	}

	return nil
}
