package walletapi

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/wallet"
)

// TxSortField is the tx log field RetrieveTxs orders by.
type TxSortField uint8

const (
	// SortByID orders by log entry id.
	SortByID TxSortField = iota

	// SortByCreationTime orders by creation time.
	SortByCreationTime

	// SortByConfirmationTime orders by confirmation time. Unconfirmed
	// entries sort before confirmed ones.
	SortByConfirmationTime

	// SortByTotalAmount orders by the net amount moved, credited minus
	// debited in absolute value.
	SortByTotalAmount

	// SortByAmountCredited orders by the amount credited.
	SortByAmountCredited

	// SortByAmountDebited orders by the amount debited.
	SortByAmountDebited
)

var sortFieldNames = map[TxSortField]string{
	SortByID:               "id",
	SortByCreationTime:     "created",
	SortByConfirmationTime: "confirmed",
	SortByTotalAmount:      "total",
	SortByAmountCredited:   "credited",
	SortByAmountDebited:    "debited",
}

// String returns the name of the field.
func (f TxSortField) String() string {
	if name, ok := sortFieldNames[f]; ok {
		return name
	}

	return fmt.Sprintf("TxSortField(%d)", uint8(f))
}

// ParseTxSortField maps a field name back onto the field.
func ParseTxSortField(s string) (TxSortField, error) {
	for f, name := range sortFieldNames {
		if strings.EqualFold(name, s) {
			return f, nil
		}
	}

	return 0, fmt.Errorf("unknown sort field %q", s)
}

// SortOrder is the direction of a sort.
type SortOrder uint8

const (
	// Ascending puts the smallest value first.
	Ascending SortOrder = iota

	// Descending puts the largest value first.
	Descending
)

// RetrieveTxQueryArgs filters and orders the entries RetrieveTxs returns.
// The zero value returns every entry ordered by id.
type RetrieveTxQueryArgs struct {
	// ExcludeCancelled drops cancelled entries.
	ExcludeCancelled bool

	// OutstandingOnly keeps the entries not yet confirmed.
	OutstandingOnly bool

	// ConfirmedOnly keeps the confirmed entries.
	ConfirmedOnly bool

	// SentOnly, ReceivedOnly, CoinbaseOnly and RevertedOnly select entry
	// types. When any is set, entries of any selected type are kept.
	SentOnly     bool
	ReceivedOnly bool
	CoinbaseOnly bool
	RevertedOnly bool

	// MinID and MaxID bound the entry ids, inclusive.
	MinID fn.Option[uint32]
	MaxID fn.Option[uint32]

	// MinAmount and MaxAmount bound the net amount moved, inclusive.
	MinAmount fn.Option[uint64]
	MaxAmount fn.Option[uint64]

	// MinCreationTime and MaxCreationTime bound the creation time,
	// inclusive.
	MinCreationTime fn.Option[time.Time]
	MaxCreationTime fn.Option[time.Time]

	// MinConfirmationTime and MaxConfirmationTime bound the
	// confirmation time, inclusive. Setting either drops unconfirmed
	// entries.
	MinConfirmationTime fn.Option[time.Time]
	MaxConfirmationTime fn.Option[time.Time]

	// SortField and SortOrder order the result.
	SortField TxSortField
	SortOrder SortOrder

	// Limit caps the number of entries returned, after sorting.
	Limit fn.Option[uint32]
}

// totalAmount is the net amount an entry moved.
func totalAmount(e *wallet.TxLogEntry) uint64 {
	if e.AmountCredited >= e.AmountDebited {
		return e.AmountCredited - e.AmountDebited
	}

	return e.AmountDebited - e.AmountCredited
}

func inRange[T any](v T, lo, hi fn.Option[T], less func(a, b T) bool) bool {
	if l, ok := unpack(lo); ok && less(v, l) {
		return false
	}
	if h, ok := unpack(hi); ok && less(h, v) {
		return false
	}

	return true
}

func lessOrdered[T ~uint32 | ~uint64](a, b T) bool {
	return a < b
}

func lessTime(a, b time.Time) bool {
	return a.Before(b)
}

// typeSelected reports whether the entry type passes the type filters.
func (q *RetrieveTxQueryArgs) typeSelected(t wallet.TxLogEntryType) bool {
	if !q.SentOnly && !q.ReceivedOnly && !q.CoinbaseOnly &&
		!q.RevertedOnly {

		return true
	}

	switch t {
	case wallet.TxSent, wallet.TxSentCancelled:
		return q.SentOnly
	case wallet.TxReceived, wallet.TxReceivedCancelled:
		return q.ReceivedOnly
	case wallet.ConfirmedCoinbase:
		return q.CoinbaseOnly
	case wallet.TxReverted:
		return q.RevertedOnly
	default:
		return false
	}
}

// matches reports whether the entry passes every filter.
func (q *RetrieveTxQueryArgs) matches(e *wallet.TxLogEntry) bool {
	switch {
	case q.ExcludeCancelled && e.IsCancelled():
		return false
	case q.OutstandingOnly && e.Confirmed:
		return false
	case q.ConfirmedOnly && !e.Confirmed:
		return false
	case !q.typeSelected(e.Type):
		return false
	case !inRange(e.ID, q.MinID, q.MaxID, lessOrdered[uint32]):
		return false
	case !inRange(totalAmount(e), q.MinAmount, q.MaxAmount,
		lessOrdered[uint64]):

		return false
	case !inRange(e.CreationTime, q.MinCreationTime, q.MaxCreationTime,
		lessTime):

		return false
	}

	if q.MinConfirmationTime.IsNone() && q.MaxConfirmationTime.IsNone() {
		return true
	}
	confirmed, ok := unpack(e.ConfirmationTime)
	if !ok {
		return false
	}

	return inRange(
		confirmed, q.MinConfirmationTime, q.MaxConfirmationTime,
		lessTime,
	)
}

// less orders a before b by the sort field, ascending. Ties fall back to
// the entry id.
func (q *RetrieveTxQueryArgs) less(a, b *wallet.TxLogEntry) bool {
	switch q.SortField {
	case SortByCreationTime:
		if !a.CreationTime.Equal(b.CreationTime) {
			return a.CreationTime.Before(b.CreationTime)
		}

	case SortByConfirmationTime:
		at, aok := unpack(a.ConfirmationTime)
		bt, bok := unpack(b.ConfirmationTime)
		switch {
		case aok != bok:
			return !aok
		case aok && !at.Equal(bt):
			return at.Before(bt)
		}

	case SortByTotalAmount:
		if ta, tb := totalAmount(a), totalAmount(b); ta != tb {
			return ta < tb
		}

	case SortByAmountCredited:
		if a.AmountCredited != b.AmountCredited {
			return a.AmountCredited < b.AmountCredited
		}

	case SortByAmountDebited:
		if a.AmountDebited != b.AmountDebited {
			return a.AmountDebited < b.AmountDebited
		}
	}

	return a.ID < b.ID
}

// apply filters, sorts and truncates the entries.
func (q *RetrieveTxQueryArgs) apply(
	entries []wallet.TxLogEntry) []wallet.TxLogEntry {

	kept := make([]wallet.TxLogEntry, 0, len(entries))
	for i := range entries {
		if q.matches(&entries[i]) {
			kept = append(kept, entries[i])
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if q.SortOrder == Descending {
			return q.less(&kept[j], &kept[i])
		}

		return q.less(&kept[i], &kept[j])
	})

	if limit, ok := unpack(q.Limit); ok && uint32(len(kept)) > limit {
		kept = kept[:limit]
	}

	return kept
}
