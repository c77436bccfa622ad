package walletdb

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/mwcore/mwwallet/keychain"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// contextKeyInfo binds the derived key to context encryption.
var contextKeyInfo = []byte("mwwallet/walletdb/context")

// contextBox seals negotiation contexts with a key derived from the
// storage key family, so the database alone doesn't reveal any secret.
type contextBox struct {
	key [chacha20poly1305.KeySize]byte
}

func newContextBox(ring keychain.SecretKeyRing) (*contextBox, error) {
	priv, err := ring.DerivePrivKey(keychain.KeyLocator{
		Family: keychain.KeyFamilyStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to derive storage key: %w", err)
	}
	secret := priv.Serialize()
	defer wipeBytes(secret)

	box := &contextBox{}
	h := hkdf.New(sha256.New, secret, nil, contextKeyInfo)
	if _, err := io.ReadFull(h, box.key[:]); err != nil {
		return nil, err
	}

	return box, nil
}

// seal encrypts plaintext bound to ad. The nonce is prepended.
func (b *contextBox) seal(plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, aead.NonceSize(), aead.NonceSize()+
		len(plaintext)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}

	return aead.Seal(out, out, plaintext, ad), nil
}

// open decrypts a sealed record bound to ad.
func (b *contextBox) open(sealed, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key[:])
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("sealed context too short")
	}

	nonce := sealed[:aead.NonceSize()]

	return aead.Open(nil, nonce, sealed[aead.NonceSize():], ad)
}

func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
