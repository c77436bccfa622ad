package walletapi

import (
	"context"
	"crypto/ed25519"

	"github.com/mwcore/mwwallet/address"
	"github.com/mwcore/mwwallet/slate"
	"github.com/mwcore/mwwallet/slatepack"
	"github.com/mwcore/mwwallet/slateversions"
	"github.com/mwcore/mwwallet/wallet"
)

// slatepackKey derives the slatepack key at index.
func (o *Owner) slatepackKey(ctx context.Context,
	index uint32) (ed25519.PrivateKey, error) {

	var key ed25519.PrivateKey
	err := o.withStore(ctx, func(store wallet.PersistentStore) error {
		var err error
		key, err = address.DeriveKey(
			store.Keychain(), o.cfg.Account, index,
		)
		return err
	})

	return key, err
}

// GetSlatepackAddress returns the wallet's slatepack address at index.
func (o *Owner) GetSlatepackAddress(ctx context.Context,
	index uint32) (address.Address, error) {

	key, err := o.slatepackKey(ctx, index)
	if err != nil {
		return address.Address{}, err
	}

	pub, _ := key.Public().(ed25519.PublicKey)

	return address.New(pub, o.cfg.Network), nil
}

// CreateSlatepackMessage armors the slate into a slatepack signed by the
// wallet and encrypted to the recipients, if any.
func (o *Owner) CreateSlatepackMessage(ctx context.Context, s *slate.Slate,
	args SlatepackArgs) (_ string, err error) {

	defer func() { o.metrics.observe("create_slatepack", err) }()

	index := args.SenderIndex.UnwrapOr(address.DefaultIndex)
	key, err := o.slatepackKey(ctx, index)
	if err != nil {
		return "", err
	}

	packer := slatepack.NewSlatepacker(slatepack.Config{
		Key:     key,
		Network: o.cfg.Network,
		Version: args.Version,
	})

	return packer.ArmorSlatepack(s, args.Recipients...)
}

// SlateFromSlatepackMessage dearmors a slatepack, opening it with the
// wallet's default slatepack key if it's encrypted, and decodes its slate.
func (o *Owner) SlateFromSlatepackMessage(ctx context.Context,
	armored string) (_ *slate.Slate, _ slateversions.Version, err error) {

	defer func() { o.metrics.observe("slate_from_slatepack", err) }()

	key, err := o.slatepackKey(ctx, address.DefaultIndex)
	if err != nil {
		return nil, 0, err
	}

	packer := slatepack.NewSlatepacker(slatepack.Config{
		Key:     key,
		Network: o.cfg.Network,
	})

	pack, err := packer.DearmorSlatepack(armored)
	if err != nil {
		return nil, 0, err
	}

	return packer.GetSlate(pack)
}
