package slatepack

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/address"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// fileKeySize is the size of the random key sealing the content.
	fileKeySize = chacha20poly1305.KeySize

	// slotSize is the size of a recipient slot: the wrapped file key
	// plus its tag.
	slotSize = fileKeySize + chacha20poly1305.Overhead
)

// slotInfo binds the slot keys to their purpose.
var slotInfo = []byte("MW/slatepack/slot")

// Envelope is the sealed content of an encrypted slatepack.
//
// The content is encrypted once under a random file key. Every recipient
// gets a slot wrapping the file key under a key agreed between the
// ephemeral key and the recipient's X25519 key. Recipients aren't listed,
// each one finds its slot by trial decryption.
type Envelope struct {
	// EphemeralKey is the X25519 public key of the sender's one time key.
	EphemeralKey [32]byte

	// Slots wrap the file key, one per recipient.
	Slots [][slotSize]byte

	// Nonce of the content encryption.
	Nonce [chacha20poly1305.NonceSizeX]byte

	// Ciphertext is the sealed content, authenticated together with the
	// ephemeral key.
	Ciphertext []byte
}

// slotKey derives the key wrapping the file key for one recipient.
func slotKey(shared, ephemeral, recipient []byte) ([]byte, error) {
	salt := make([]byte, 0, len(ephemeral)+len(recipient))
	salt = append(salt, ephemeral...)
	salt = append(salt, recipient...)

	key := make([]byte, chacha20poly1305.KeySize)
	h := hkdf.New(sha256.New, shared, salt, slotInfo)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, err
	}

	return key, nil
}

// slotNonce is all zero, every slot key is used once.
var slotNonce [chacha20poly1305.NonceSize]byte

// Encrypt seals the payload, the sender and its signature to the given
// recipients. Any one of them can open it with Decrypt.
func (s *Slatepack) Encrypt(recipients []address.Address) error {
	if s.Mode != ModePlaintext {
		return ErrEncrypted
	}
	if len(recipients) == 0 {
		return errors.New("no slatepack recipients")
	}

	content, err := encodeContent(s)
	if err != nil {
		return err
	}

	var fileKey, ephPriv [32]byte
	if _, err := rand.Read(fileKey[:]); err != nil {
		return err
	}
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return err
	}
	defer func() {
		fileKey = [32]byte{}
		ephPriv = [32]byte{}
	}()

	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return err
	}

	env := &Envelope{}
	copy(env.EphemeralKey[:], ephPub)

	for _, recipient := range recipients {
		recipientKey, err := recipient.X25519()
		if err != nil {
			return err
		}

		shared, err := curve25519.X25519(ephPriv[:], recipientKey[:])
		if err != nil {
			return fmt.Errorf("recipient %v: %w", recipient, err)
		}
		key, err := slotKey(shared, ephPub, recipientKey[:])
		if err != nil {
			return err
		}
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return err
		}

		var slot [slotSize]byte
		copy(slot[:], aead.Seal(nil, slotNonce[:], fileKey[:], nil))
		env.Slots = append(env.Slots, slot)
	}

	if _, err := rand.Read(env.Nonce[:]); err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(fileKey[:])
	if err != nil {
		return err
	}
	env.Ciphertext = aead.Seal(
		nil, env.Nonce[:], content, env.EphemeralKey[:],
	)

	log.Debugf("Encrypted slatepack to %d recipients", len(recipients))

	s.Mode = ModeEncrypted
	s.Envelope = env
	s.Payload = nil
	s.Sender = fn.None[address.Address]()
	s.SenderSig = fn.None[[ed25519.SignatureSize]byte]()

	return nil
}

// Decrypt opens an encrypted slatepack with the slatepack key of one of its
// recipients, restoring the payload, the sender and its signature. The
// sender signature isn't checked, see VerifySender.
func (s *Slatepack) Decrypt(key ed25519.PrivateKey) error {
	if s.Mode != ModeEncrypted || s.Envelope == nil {
		return ErrNotEncrypted
	}
	env := s.Envelope

	priv := address.X25519PrivKey(key)
	defer func() {
		priv = [32]byte{}
	}()

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return err
	}
	shared, err := curve25519.X25519(priv[:], env.EphemeralKey[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	wrapKey, err := slotKey(shared, env.EphemeralKey[:], pub)
	if err != nil {
		return err
	}
	wrap, err := chacha20poly1305.New(wrapKey)
	if err != nil {
		return err
	}

	var fileKey []byte
	for _, slot := range env.Slots {
		fileKey, err = wrap.Open(nil, slotNonce[:], slot[:], nil)
		if err == nil {
			break
		}
	}
	if fileKey == nil {
		return fmt.Errorf("%w: not a recipient", ErrDecryptionFailed)
	}

	aead, err := chacha20poly1305.NewX(fileKey)
	if err != nil {
		return err
	}
	content, err := aead.Open(
		nil, env.Nonce[:], env.Ciphertext, env.EphemeralKey[:],
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	opened := &Slatepack{Version: s.Version, Mode: ModePlaintext}
	if err := decodeContent(opened, content); err != nil {
		return err
	}
	*s = *opened

	return nil
}
