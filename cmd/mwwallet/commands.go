package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/address"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/slate"
	"github.com/mwcore/mwwallet/slateversions"
	"github.com/mwcore/mwwallet/wallet"
	"github.com/mwcore/mwwallet/walletapi"
	"github.com/urfave/cli"
	"golang.org/x/term"
)

func printJSON(resp interface{}) error {
	b, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", b)
	return nil
}

// withOwner opens the wallet around a command.
func withOwner(f func(*cli.Context, *walletapi.Owner) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		owner, cleanUp, err := openOwner(getConfig(ctx))
		if err != nil {
			return err
		}
		defer cleanUp()

		return f(ctx, owner)
	}
}

// readSlatepack returns the slatepack given as the first argument, or read
// from stdin.
func readSlatepack(ctx *cli.Context) (string, error) {
	if ctx.NArg() > 0 {
		return ctx.Args().First(), nil
	}

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return "", fmt.Errorf("slatepack expected as argument or on " +
			"stdin")
	}

	return string(raw), nil
}

// readSlate decodes the slatepack of the command.
func readSlate(ctx *cli.Context, owner *walletapi.Owner) (*slate.Slate,
	slateversions.Version, error) {

	armored, err := readSlatepack(ctx)
	if err != nil {
		return nil, 0, err
	}

	return owner.SlateFromSlatepackMessage(getContext(ctx), armored)
}

// printSlatepack prints the slate armored for the recipients.
func printSlatepack(ctx *cli.Context, owner *walletapi.Owner, s *slate.Slate,
	version slateversions.Version, recipients ...address.Address) error {

	armored, err := owner.CreateSlatepackMessage(
		getContext(ctx), s, walletapi.SlatepackArgs{
			Recipients: recipients,
			Version:    version,
		},
	)
	if err != nil {
		return err
	}

	fmt.Println(armored)
	return nil
}

func parseSlateID(ctx *cli.Context) (uuid.UUID, error) {
	if !ctx.IsSet("id") {
		return uuid.Nil, fmt.Errorf("--id is required")
	}

	return uuid.Parse(ctx.String("id"))
}

func optUint64(ctx *cli.Context, name string) fn.Option[uint64] {
	if !ctx.IsSet(name) {
		return fn.None[uint64]()
	}

	return fn.Some(ctx.Uint64(name))
}

func optString(ctx *cli.Context, name string) fn.Option[string] {
	if ctx.String(name) == "" {
		return fn.None[string]()
	}

	return fn.Some(ctx.String(name))
}

var messageFlag = cli.StringFlag{
	Name:  "message",
	Usage: "a message signed and attached to the slate",
}

var ttlFlag = cli.Uint64Flag{
	Name:  "ttl",
	Usage: "the number of blocks after which the slate expires",
}

var refreshFlag = cli.BoolFlag{
	Name:  "norefresh",
	Usage: "don't refresh the outputs from the node first",
}

var jsonFlag = cli.BoolFlag{
	Name:  "json",
	Usage: "print JSON instead of a table",
}

var initCommand = cli.Command{
	Name:     "init",
	Category: "Wallet",
	Usage:    "Create a new wallet seed.",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "restore",
			Usage: "restore from an existing hex encoded seed, read " +
				"from the terminal",
		},
	},
	Action: initWallet,
}

// readSeed prompts for a hex encoded seed without echoing it.
func readSeed() ([]byte, error) {
	fmt.Print("Input wallet seed: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, err
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}

	return seed, nil
}

func initWallet(ctx *cli.Context) error {
	cfg := getConfig(ctx)

	var seed []byte
	if ctx.Bool("restore") {
		var err error
		seed, err = readSeed()
		if err != nil {
			return err
		}
	}

	seed, err := writeSeed(cfg, seed)
	if err != nil {
		return err
	}

	if !ctx.Bool("restore") {
		fmt.Printf("Wallet seed written to %v, back it up:\n%x\n",
			cfg.SeedFile(), seed)
		return nil
	}

	fmt.Printf("Wallet seed written to %v\n", cfg.SeedFile())
	fmt.Println("Run `mwwallet scan --fromstart` to restore the funds.")

	return nil
}

var addressCommand = cli.Command{
	Name:     "address",
	Category: "Wallet",
	Usage:    "Show the slatepack address of the wallet.",
	Flags: []cli.Flag{
		cli.Uint64Flag{
			Name:  "index",
			Usage: "the derivation index of the address",
		},
	},
	Action: withOwner(showAddress),
}

func showAddress(ctx *cli.Context, owner *walletapi.Owner) error {
	index := ctx.Uint64("index")
	if index > uint64(^uint32(0)) {
		return fmt.Errorf("index %d out of range", index)
	}

	addr, err := owner.GetSlatepackAddress(
		getContext(ctx), uint32(index),
	)
	if err != nil {
		return err
	}

	fmt.Println(addr)
	return nil
}

var infoCommand = cli.Command{
	Name:     "info",
	Category: "Wallet",
	Usage:    "Show the wallet balance.",
	Flags:    []cli.Flag{refreshFlag},
	Action:   withOwner(info),
}

func info(ctx *cli.Context, owner *walletapi.Owner) error {
	summary, err := owner.RetrieveSummaryInfo(
		getContext(ctx), !ctx.Bool("norefresh"),
	)
	if err != nil {
		return err
	}

	return printJSON(summary)
}

var outputsCommand = cli.Command{
	Name:     "outputs",
	Category: "Wallet",
	Usage:    "List the wallet outputs.",
	Flags: []cli.Flag{
		refreshFlag,
		jsonFlag,
		cli.BoolFlag{
			Name:  "spent",
			Usage: "include spent outputs",
		},
	},
	Action: withOwner(outputs),
}

func outputs(ctx *cli.Context, owner *walletapi.Owner) error {
	outs, err := owner.RetrieveOutputs(
		getContext(ctx), ctx.Bool("spent"), !ctx.Bool("norefresh"),
	)
	if err != nil {
		return err
	}

	if ctx.Bool("json") {
		return printJSON(outs)
	}
	printOutputs(outs)

	return nil
}

var txsCommand = cli.Command{
	Name:     "txs",
	Category: "Wallet",
	Usage:    "List the transaction log.",
	Flags: []cli.Flag{
		refreshFlag,
		jsonFlag,
		cli.StringFlag{
			Name:  "id",
			Usage: "only show the transaction of this slate",
		},
		cli.BoolFlag{
			Name:  "nocancelled",
			Usage: "hide cancelled transactions",
		},
		cli.BoolFlag{
			Name:  "outstanding",
			Usage: "only show unconfirmed transactions",
		},
		cli.BoolFlag{
			Name:  "confirmed",
			Usage: "only show confirmed transactions",
		},
		cli.StringSliceFlag{
			Name: "type",
			Usage: "only show transactions of this type: sent, " +
				"received, coinbase or reverted; may be repeated",
		},
		cli.StringFlag{
			Name: "sort",
			Usage: "order by id, created, confirmed, total, " +
				"credited or debited",
			Value: walletapi.SortByID.String(),
		},
		cli.BoolFlag{
			Name:  "desc",
			Usage: "sort in descending order",
		},
		cli.Uint64Flag{
			Name:  "limit",
			Usage: "show at most this many transactions",
		},
	},
	Action: withOwner(txs),
}

// txQuery builds the tx log query from the flags of the txs command.
func txQuery(ctx *cli.Context) (walletapi.RetrieveTxQueryArgs, error) {
	query := walletapi.RetrieveTxQueryArgs{
		ExcludeCancelled: ctx.Bool("nocancelled"),
		OutstandingOnly:  ctx.Bool("outstanding"),
		ConfirmedOnly:    ctx.Bool("confirmed"),
	}

	for _, typ := range ctx.StringSlice("type") {
		switch strings.ToLower(typ) {
		case "sent":
			query.SentOnly = true
		case "received":
			query.ReceivedOnly = true
		case "coinbase":
			query.CoinbaseOnly = true
		case "reverted":
			query.RevertedOnly = true
		default:
			return query, fmt.Errorf("unknown transaction type %q",
				typ)
		}
	}

	field, err := walletapi.ParseTxSortField(ctx.String("sort"))
	if err != nil {
		return query, err
	}
	query.SortField = field
	if ctx.Bool("desc") {
		query.SortOrder = walletapi.Descending
	}

	if ctx.IsSet("limit") {
		limit := ctx.Uint64("limit")
		if limit > math.MaxUint32 {
			return query, fmt.Errorf("limit %d too large", limit)
		}
		query.Limit = fn.Some(uint32(limit))
	}

	return query, nil
}

func txs(ctx *cli.Context, owner *walletapi.Owner) error {
	slateID := fn.None[uuid.UUID]()
	if ctx.IsSet("id") {
		id, err := parseSlateID(ctx)
		if err != nil {
			return err
		}
		slateID = fn.Some(id)
	}

	query, err := txQuery(ctx)
	if err != nil {
		return err
	}

	entries, err := owner.RetrieveTxs(
		getContext(ctx), !ctx.Bool("norefresh"), slateID, query,
	)
	if err != nil {
		return err
	}

	if ctx.Bool("json") {
		return printJSON(entries)
	}
	printTxs(entries)

	return nil
}

var scanCommand = cli.Command{
	Name:     "scan",
	Category: "Wallet",
	Usage:    "Scan the chain for wallet outputs.",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "fromstart",
			Usage: "scan the whole UTXO set, restoring lost outputs",
		},
	},
	Action: withOwner(scan),
}

func scan(ctx *cli.Context, owner *walletapi.Owner) error {
	res, err := owner.Scan(getContext(ctx), ctx.Bool("fromstart"))
	if err != nil {
		return err
	}

	return printJSON(res)
}

var sendCommand = cli.Command{
	Name:      "send",
	Category:  "Transactions",
	Usage:     "Start a payment, printing the slatepack for the recipient.",
	ArgsUsage: "--amount N [--dest address]",
	Flags: []cli.Flag{
		cli.Uint64Flag{
			Name:  "amount",
			Usage: "the amount to send in nanogrin",
		},
		cli.StringFlag{
			Name:  "dest",
			Usage: "the slatepack address of the recipient",
		},
		cli.BoolFlag{
			Name:  "proof",
			Usage: "request a payment proof from the recipient",
		},
		cli.Uint64Flag{
			Name:  "fee",
			Usage: "override the computed fee",
		},
		cli.Uint64Flag{
			Name:  "minconf",
			Usage: "the minimum confirmations of spent outputs",
		},
		cli.BoolFlag{
			Name:  "selectall",
			Usage: "spend every eligible output",
		},
		messageFlag,
		ttlFlag,
	},
	Action: withOwner(send),
}

// destination parses the optional recipient address.
func destination(ctx *cli.Context) (fn.Option[address.Address], error) {
	if ctx.String("dest") == "" {
		return fn.None[address.Address](), nil
	}

	addr, err := address.Decode(ctx.String("dest"))
	if err != nil {
		return fn.None[address.Address](), err
	}

	return fn.Some(addr), nil
}

// recipients returns the addresses the slatepack is encrypted to.
func recipients(dest fn.Option[address.Address]) []address.Address {
	return fn.MapOptionZ(dest, func(a address.Address) []address.Address {
		return []address.Address{a}
	})
}

func send(ctx *cli.Context, owner *walletapi.Owner) error {
	dest, err := destination(ctx)
	if err != nil {
		return err
	}

	args := walletapi.InitTxArgs{
		Amount:           ctx.Uint64("amount"),
		Fee:              optUint64(ctx, "fee"),
		MinConfirmations: optUint64(ctx, "minconf"),
		SelectAll:        ctx.Bool("selectall"),
		Message:          optString(ctx, "message"),
		TTLBlocks:        optUint64(ctx, "ttl"),
	}
	if ctx.Bool("proof") {
		if dest.IsNone() {
			return fmt.Errorf("payment proofs need --dest")
		}
		args.PaymentProofRecipient = dest
	}

	s, err := owner.InitSendTx(getContext(ctx), args)
	if err != nil {
		return err
	}

	return printSlatepack(
		ctx, owner, s, slateversions.CurrentVersion, recipients(dest)...,
	)
}

var receiveCommand = cli.Command{
	Name:      "receive",
	Category:  "Transactions",
	Usage:     "Sign a received payment, printing the response slatepack.",
	ArgsUsage: "[slatepack]",
	Flags: []cli.Flag{
		messageFlag,
		cli.StringFlag{
			Name:  "reply",
			Usage: "encrypt the response to this address",
		},
	},
	Action: withOwner(receive),
}

func receive(ctx *cli.Context, owner *walletapi.Owner) error {
	s, version, err := readSlate(ctx, owner)
	if err != nil {
		return err
	}

	s, err = owner.ReceiveTx(
		getContext(ctx), s, optString(ctx, "message"),
	)
	if err != nil {
		return err
	}

	return reply(ctx, owner, s, version)
}

// reply prints the response slatepack in the version it was received in.
func reply(ctx *cli.Context, owner *walletapi.Owner, s *slate.Slate,
	version slateversions.Version) error {

	if ctx.String("reply") == "" {
		return printSlatepack(ctx, owner, s, version)
	}

	addr, err := address.Decode(ctx.String("reply"))
	if err != nil {
		return err
	}

	return printSlatepack(ctx, owner, s, version, addr)
}

var invoiceCommand = cli.Command{
	Name:     "invoice",
	Category: "Transactions",
	Usage:    "Request a payment, printing the slatepack for the payer.",
	Flags: []cli.Flag{
		cli.Uint64Flag{
			Name:  "amount",
			Usage: "the amount requested in nanogrin",
		},
		cli.StringFlag{
			Name:  "dest",
			Usage: "the slatepack address of the payer",
		},
		messageFlag,
		ttlFlag,
	},
	Action: withOwner(invoice),
}

func invoice(ctx *cli.Context, owner *walletapi.Owner) error {
	dest, err := destination(ctx)
	if err != nil {
		return err
	}

	s, err := owner.IssueInvoiceTx(
		getContext(ctx), walletapi.IssueInvoiceTxArgs{
			Amount:    ctx.Uint64("amount"),
			Message:   optString(ctx, "message"),
			TTLBlocks: optUint64(ctx, "ttl"),
		},
	)
	if err != nil {
		return err
	}

	return printSlatepack(
		ctx, owner, s, slateversions.CurrentVersion, recipients(dest)...,
	)
}

var payCommand = cli.Command{
	Name:      "pay",
	Category:  "Transactions",
	Usage:     "Pay a received invoice, printing the response slatepack.",
	ArgsUsage: "[slatepack]",
	Flags: []cli.Flag{
		cli.Uint64Flag{
			Name:  "fee",
			Usage: "override the computed fee",
		},
		cli.Uint64Flag{
			Name:  "minconf",
			Usage: "the minimum confirmations of spent outputs",
		},
		cli.BoolFlag{
			Name:  "selectall",
			Usage: "spend every eligible output",
		},
		cli.StringFlag{
			Name:  "reply",
			Usage: "encrypt the response to this address",
		},
		messageFlag,
	},
	Action: withOwner(pay),
}

func pay(ctx *cli.Context, owner *walletapi.Owner) error {
	s, version, err := readSlate(ctx, owner)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Paying invoice %v of %d nanogrin\n", s.ID,
		s.Amount)

	s, err = owner.ProcessInvoiceTx(
		getContext(ctx), s, walletapi.InitTxArgs{
			Fee:              optUint64(ctx, "fee"),
			MinConfirmations: optUint64(ctx, "minconf"),
			SelectAll:        ctx.Bool("selectall"),
			Message:          optString(ctx, "message"),
		},
	)
	if err != nil {
		return err
	}

	return reply(ctx, owner, s, version)
}

var finalizeCommand = cli.Command{
	Name:      "finalize",
	Category:  "Transactions",
	Usage:     "Finalize a returned slate.",
	ArgsUsage: "[slatepack]",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "post",
			Usage: "post the transaction once finalized",
		},
		cli.BoolFlag{
			Name:  "fluff",
			Usage: "skip the dandelion stem phase when posting",
		},
	},
	Action: withOwner(finalize),
}

func finalize(ctx *cli.Context, owner *walletapi.Owner) error {
	s, _, err := readSlate(ctx, owner)
	if err != nil {
		return err
	}

	s, err = owner.FinalizeTx(getContext(ctx), s)
	if err != nil {
		return err
	}
	fmt.Printf("Transaction %v finalized\n", s.ID)

	if !ctx.Bool("post") {
		return nil
	}

	err = owner.PostTx(getContext(ctx), s.ID, ctx.Bool("fluff"))
	if err != nil {
		return err
	}
	fmt.Printf("Transaction %v posted\n", s.ID)

	return nil
}

var postCommand = cli.Command{
	Name:     "post",
	Category: "Transactions",
	Usage:    "Post a finalized transaction to the node.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "id",
			Usage: "the slate id of the transaction",
		},
		cli.BoolFlag{
			Name:  "fluff",
			Usage: "skip the dandelion stem phase",
		},
	},
	Action: withOwner(post),
}

func post(ctx *cli.Context, owner *walletapi.Owner) error {
	id, err := parseSlateID(ctx)
	if err != nil {
		return err
	}

	return owner.PostTx(getContext(ctx), id, ctx.Bool("fluff"))
}

var cancelCommand = cli.Command{
	Name:     "cancel",
	Category: "Transactions",
	Usage:    "Cancel an unconfirmed transaction, unlocking its inputs.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "id",
			Usage: "the slate id of the transaction",
		},
	},
	Action: withOwner(cancel),
}

func cancel(ctx *cli.Context, owner *walletapi.Owner) error {
	id, err := parseSlateID(ctx)
	if err != nil {
		return err
	}

	return owner.CancelTx(getContext(ctx), id)
}

var mixCommand = cli.Command{
	Name:     "mix",
	Category: "Transactions",
	Usage: "Swap an output of a finalized transaction through the " +
		"mixnet.",
	ArgsUsage: "--commit hex [slatepack]",
	Description: `
	Swaps the output with the given commitment into a fresh one through
	the configured mix servers. The slatepack holds the finalized slate
	whose transaction created the output.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "commit",
			Usage: "the hex commitment of the output to swap",
		},
	},
	Action: withOwner(mix),
}

type mixResponse struct {
	Commit string `json:"commit"`
	KeyID  string `json:"key_id"`
	Value  uint64 `json:"value"`
}

func mix(ctx *cli.Context, owner *walletapi.Owner) error {
	raw, err := hex.DecodeString(ctx.String("commit"))
	if err != nil {
		return fmt.Errorf("invalid commitment: %w", err)
	}
	commit, err := pedersen.ParseCommitment(raw)
	if err != nil {
		return err
	}

	s, _, err := readSlate(ctx, owner)
	if err != nil {
		return err
	}
	if !s.IsFinalized() {
		return fmt.Errorf("slate %v isn't finalized", s.ID)
	}

	res, err := owner.Mix(getContext(ctx), s.Tx, commit)
	if err != nil {
		return err
	}

	return printJSON(mixResponse{
		Commit: res.Output.Commit.String(),
		KeyID:  res.KeyID.String(),
		Value:  res.Value,
	})
}

var coinbaseCommand = cli.Command{
	Name:     "coinbase",
	Category: "Mining",
	Usage:    "Build the coinbase output and kernel of a block.",
	Flags: []cli.Flag{
		cli.Uint64Flag{
			Name:  "fees",
			Usage: "the fees collected by the block",
		},
		cli.Uint64Flag{
			Name:  "height",
			Usage: "the height of the block being mined",
		},
		cli.StringFlag{
			Name:  "keyid",
			Usage: "the key id of the output, derived if unset",
		},
		cli.StringFlag{
			Name:  "version",
			Usage: "the slate version of the miner",
			Value: slateversions.CurrentVersion.String(),
		},
	},
	Action: withOwner(coinbase),
}

func coinbase(ctx *cli.Context, owner *walletapi.Owner) error {
	version, err := slateversions.ParseVersion(ctx.String("version"))
	if err != nil {
		return err
	}

	fees := wallet.BlockFees{
		Fees:   ctx.Uint64("fees"),
		Height: ctx.Uint64("height"),
	}
	if ctx.IsSet("keyid") {
		id, err := keychain.ParseKeyID(ctx.String("keyid"))
		if err != nil {
			return err
		}
		fees.KeyID = fn.Some(id)
	}

	cb, err := owner.BuildCoinbase(getContext(ctx), fees)
	if err != nil {
		return err
	}

	versioned, err := slateversions.NewVersionedCoinbase(cb, version)
	if err != nil {
		return err
	}

	return printJSON(versioned)
}
