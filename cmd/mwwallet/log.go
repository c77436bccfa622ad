package main

import (
	"github.com/btcsuite/btclog"
	"github.com/mwcore/mwwallet/build"
	"github.com/mwcore/mwwallet/mwixnet"
	"github.com/mwcore/mwwallet/nodeclient"
	"github.com/mwcore/mwwallet/scanner"
	"github.com/mwcore/mwwallet/slate"
	"github.com/mwcore/mwwallet/slatepack"
	"github.com/mwcore/mwwallet/slateversions"
	"github.com/mwcore/mwwallet/wallet"
	"github.com/mwcore/mwwallet/walletapi"
	"github.com/mwcore/mwwallet/walletdb"
)

// log is the logger of the tool itself.
var log = btclog.Disabled

// setupLoggers creates a logger for every subsystem, writing to the log file
// only so that command output stays clean.
func setupLoggers(w *build.RotatingLogWriter) *build.SubLoggerManager {
	mgr := build.NewSubLoggerManager(w.RotatorPipe)

	log = mgr.GenSubLogger("MWWL")
	addSubLogger(mgr, "SLAT", slate.UseLogger)
	addSubLogger(mgr, "SVER", slateversions.UseLogger)
	addSubLogger(mgr, "SPCK", slatepack.UseLogger)
	addSubLogger(mgr, "MIXN", mwixnet.UseLogger)
	addSubLogger(mgr, "SCAN", scanner.UseLogger)
	addSubLogger(mgr, "WLLT", wallet.UseLogger)
	addSubLogger(mgr, "WAPI", walletapi.UseLogger)
	addSubLogger(mgr, "WLDB", walletdb.UseLogger)
	addSubLogger(mgr, "NODE", nodeclient.UseLogger)

	return mgr
}

// addSubLogger hands the subsystem's logger to every package logging under
// it.
func addSubLogger(mgr *build.SubLoggerManager, subsystem string,
	useLoggers ...func(btclog.Logger)) {

	logger := mgr.GenSubLogger(subsystem)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}
