package slatepack

import (
	"bytes"
	"crypto/ed25519"
	"errors"

	"github.com/mwcore/mwwallet/address"
	"github.com/mwcore/mwwallet/slate"
	"github.com/mwcore/mwwallet/slateversions"
)

// Config configures a Slatepacker.
type Config struct {
	// Key is the wallet's slatepack key. When set, created slatepacks are
	// signed with it and encrypted slatepacks addressed to it are opened.
	Key ed25519.PrivateKey

	// Network selects the sender address encoding.
	Network address.Network

	// Version is the slate version of created slatepacks. Zero selects
	// the binary form of the current version.
	Version slateversions.Version
}

// Slatepacker ties the slate codec to the slatepack envelope.
type Slatepacker struct {
	cfg Config
}

// NewSlatepacker returns a Slatepacker for the given config.
func NewSlatepacker(cfg Config) *Slatepacker {
	return &Slatepacker{cfg: cfg}
}

// Address returns the address of the configured key.
func (p *Slatepacker) Address() (address.Address, bool) {
	if p.cfg.Key == nil {
		return address.Address{}, false
	}

	pub, _ := p.cfg.Key.Public().(ed25519.PublicKey)

	return address.New(pub, p.cfg.Network), true
}

// encodeSlate serializes the slate for transport. Slates the binary form
// can't carry fall back to V4 JSON.
func (p *Slatepacker) encodeSlate(s *slate.Slate) ([]byte, error) {
	if p.cfg.Version != 0 {
		return slateversions.Encode(s, p.cfg.Version)
	}

	payload, err := slateversions.EncodeBinary(s)
	if errors.Is(err, slateversions.ErrVersionIncompatible) {
		log.Debugf("Slate %v doesn't fit the binary form, using JSON: "+
			"%v", s.ID, err)

		return slateversions.Encode(s, slateversions.V4)
	}

	return payload, err
}

// CreateSlatepack encodes the slate into a slatepack, signed by the
// configured key if any and encrypted to the recipients if any.
func (p *Slatepacker) CreateSlatepack(s *slate.Slate,
	recipients ...address.Address) (*Slatepack, error) {

	payload, err := p.encodeSlate(s)
	if err != nil {
		return nil, err
	}

	pack := New(payload)
	if sender, ok := p.Address(); ok {
		if err := pack.Sign(sender, p.cfg.Key); err != nil {
			return nil, err
		}
	}

	if len(recipients) > 0 {
		if err := pack.Encrypt(recipients); err != nil {
			return nil, err
		}
	}

	return pack, nil
}

// Armor returns the armored binary form of the slatepack.
func (p *Slatepacker) Armor(pack *Slatepack) (string, error) {
	var b bytes.Buffer
	if err := pack.Encode(&b); err != nil {
		return "", err
	}

	return Armor(b.Bytes()), nil
}

// ArmorSlatepack creates the slatepack of the slate and armors it.
func (p *Slatepacker) ArmorSlatepack(s *slate.Slate,
	recipients ...address.Address) (string, error) {

	pack, err := p.CreateSlatepack(s, recipients...)
	if err != nil {
		return "", err
	}

	return p.Armor(pack)
}

// DearmorSlatepack parses an armored slatepack. Encrypted slatepacks are
// opened with the configured key, and the sender signature is verified.
func (p *Slatepacker) DearmorSlatepack(armored string) (*Slatepack, error) {
	data, err := Dearmor(armored)
	if err != nil {
		return nil, err
	}

	pack, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	if pack.Mode == ModeEncrypted {
		if p.cfg.Key == nil {
			return nil, ErrDecryptionFailed
		}
		if err := pack.Decrypt(p.cfg.Key); err != nil {
			return nil, err
		}
	}

	if err := pack.VerifySender(); err != nil {
		return nil, err
	}

	return pack, nil
}

// GetSlate decodes the slate carried by an opened slatepack, together with
// the version it was encoded with.
func (p *Slatepacker) GetSlate(pack *Slatepack) (*slate.Slate,
	slateversions.Version, error) {

	if pack.Mode != ModePlaintext {
		return nil, 0, ErrEncrypted
	}
	if err := pack.VerifySender(); err != nil {
		return nil, 0, err
	}

	return slateversions.Decode(pack.Payload)
}
