package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/wallet"
)

const timeFormat = "2006-01-02 15:04:05"

func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)

	return t
}

func printOutputs(outs []wallet.OutputData) {
	t := newTable(table.Row{
		"Key ID", "Commitment", "Value", "Status", "Height",
		"Lock Height", "Coinbase", "Tx",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
	})

	for _, out := range outs {
		tx := "-"
		out.TxLogID.WhenSome(func(id uint32) {
			tx = fmt.Sprint(id)
		})

		t.AppendRow(table.Row{
			out.KeyID, out.Commit, out.Value, out.Status,
			out.Height, out.LockHeight, out.IsCoinbase, tx,
		})
	}

	t.Render()
}

func printTxs(entries []wallet.TxLogEntry) {
	t := newTable(table.Row{
		"ID", "Type", "Slate ID", "Created", "Confirmed", "Credited",
		"Debited", "Fee", "Proof",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})

	for _, entry := range entries {
		slateID := fn.MapOptionZ(entry.SlateID, uuid.UUID.String)
		if slateID == "" {
			slateID = "-"
		}

		fee := "-"
		entry.Fee.WhenSome(func(f uint64) {
			fee = fmt.Sprint(f)
		})

		t.AppendRow(table.Row{
			entry.ID, entry.Type, slateID,
			entry.CreationTime.Format(timeFormat), entry.Confirmed,
			entry.AmountCredited, entry.AmountDebited, fee,
			entry.PaymentProof.IsSome(),
		})
	}

	t.Render()
}
