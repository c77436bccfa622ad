package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwcfg"
	"github.com/mwcore/mwwallet/mwixnet"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/nodeclient"
	"github.com/mwcore/mwwallet/wallet"
	"github.com/mwcore/mwwallet/walletapi"
	"github.com/mwcore/mwwallet/walletdb"
)

// seedLen is the length of generated wallet seeds.
const seedLen = 32

// errNoWallet is returned when the seed file doesn't exist yet.
var errNoWallet = errors.New("no wallet, create one with `mwwallet init`")

// chainParams returns the derivation parameters of the network.
func chainParams(cfg *mwcfg.Config) *chaincfg.Params {
	if cfg.Testnet {
		return &chaincfg.TestNet3Params
	}

	return &chaincfg.MainNetParams
}

// writeSeed stores a new seed, refusing to overwrite an existing one. A nil
// seed generates a fresh one.
func writeSeed(cfg *mwcfg.Config, seed []byte) ([]byte, error) {
	if seed == nil {
		seed = make([]byte, seedLen)
		if _, err := rand.Read(seed); err != nil {
			return nil, err
		}
	}

	// Reject seeds the key ring can't use before writing anything.
	if _, err := keychain.NewHDKeyRing(seed, chainParams(cfg)); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(
		cfg.SeedFile(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600,
	)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("wallet already exists at %v",
			cfg.SeedFile())
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		return nil, err
	}

	return seed, f.Sync()
}

// readKeyRing loads the wallet seed.
func readKeyRing(cfg *mwcfg.Config) (*keychain.HDKeyRing, error) {
	raw, err := os.ReadFile(cfg.SeedFile())
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNoWallet
	}
	if err != nil {
		return nil, err
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("corrupt seed file: %w", err)
	}

	return keychain.NewHDKeyRing(seed, chainParams(cfg))
}

// openOwner builds the owner API of the configured wallet. The returned
// function closes the wallet.
func openOwner(cfg *mwcfg.Config) (*walletapi.Owner, func(), error) {
	ring, err := readKeyRing(cfg)
	if err != nil {
		return nil, nil, err
	}

	inst := wallet.NewInstance(&walletdb.Provider{
		Path:    filepath.Join(cfg.DataDir, walletdb.DefaultDBName),
		KeyRing: ring,
	})
	cleanUp := func() {
		if err := inst.Close(context.Background()); err != nil {
			log.Errorf("Unable to close wallet: %v", err)
		}
	}

	nodeCfg, err := cfg.NodeClientConfig()
	if err != nil {
		return nil, nil, err
	}

	ownerCfg := walletapi.DefaultConfig(inst, nodeclient.New(nodeCfg))
	ownerCfg.Account = cfg.Account
	ownerCfg.Network = cfg.Network()
	ownerCfg.Fees = mwtx.FeeParams{BaseFee: cfg.Fee.BaseFee}
	ownerCfg.MinConfirmations = cfg.MinConfirmations
	ownerCfg.Scanner = cfg.ScannerConfig()

	if cfg.Mixnet.Enabled() {
		keys, err := cfg.Mixnet.ServerKeys()
		if err != nil {
			return nil, nil, err
		}
		ownerCfg.Mixnet = &walletapi.MixnetConfig{
			Servers: keys,
			HopFee:  cfg.Mixnet.HopFee,
			Server:  mwixnet.NewWSServer(cfg.Mixnet.URL),
		}
	}

	owner, err := walletapi.New(ownerCfg)
	if err != nil {
		return nil, nil, err
	}

	log.Debugf("Opened wallet in %v, account %d", cfg.DataDir,
		cfg.Account)

	return owner, cleanUp, nil
}
