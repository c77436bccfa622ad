package keychain

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// HDKeyRing is a SecretKeyRing backed by a BIP32 extended master key. Family
// branch keys are cached since the output scanner derives thousands of
// siblings below the same branch.
type HDKeyRing struct {
	root *hdkeychain.ExtendedKey

	mu       sync.Mutex
	branches map[branchKey]*hdkeychain.ExtendedKey
}

// branchKey identifies the m/account'/family branch.
type branchKey struct {
	account uint32
	family  KeyFamily
}

// NewHDKeyRing creates a key ring from the given seed. The chain params only
// select the extended key version bytes and have no influence on the keys
// themselves.
func NewHDKeyRing(seed []byte, params *chaincfg.Params) (*HDKeyRing, error) {
	root, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("unable to create master key: %w", err)
	}

	return &HDKeyRing{
		root:     root,
		branches: make(map[branchKey]*hdkeychain.ExtendedKey),
	}, nil
}

// branch returns the extended key of the account/family branch, deriving and
// caching it on first use.
func (h *HDKeyRing) branch(account uint32,
	family KeyFamily) (*hdkeychain.ExtendedKey, error) {

	h.mu.Lock()
	defer h.mu.Unlock()

	key := branchKey{account: account, family: family}
	if b, ok := h.branches[key]; ok {
		return b, nil
	}

	acct, err := h.root.Derive(hdkeychain.HardenedKeyStart + account)
	if err != nil {
		return nil, err
	}
	b, err := acct.Derive(uint32(family))
	if err != nil {
		return nil, err
	}
	h.branches[key] = b

	return b, nil
}

// DerivePrivKey derives the private key located by keyLoc.
//
// NOTE: This is part of the SecretKeyRing interface.
func (h *HDKeyRing) DerivePrivKey(keyLoc KeyLocator) (*btcec.PrivateKey,
	error) {

	b, err := h.branch(keyLoc.Account, keyLoc.Family)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCannotDerivePrivKey, err)
	}

	child, err := b.Derive(keyLoc.Index)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCannotDerivePrivKey, err)
	}

	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCannotDerivePrivKey, err)
	}

	return priv, nil
}

// DeriveKey derives the public key located by keyLoc.
//
// NOTE: This is part of the KeyRing interface.
func (h *HDKeyRing) DeriveKey(keyLoc KeyLocator) (KeyDescriptor, error) {
	priv, err := h.DerivePrivKey(keyLoc)
	if err != nil {
		return KeyDescriptor{}, err
	}

	return KeyDescriptor{
		KeyLocator: keyLoc,
		PubKey:     priv.PubKey(),
	}, nil
}

// A compile time check to ensure HDKeyRing implements the SecretKeyRing
// interface.
var _ SecretKeyRing = (*HDKeyRing)(nil)
