package walletdb

import (
	"crypto/ed25519"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mwcore/mwwallet/address"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/pedersen"
	"github.com/mwcore/mwwallet/slate"
	"github.com/mwcore/mwwallet/wallet"
)

// The records below are the cbor encoded forms of the wallet types. Options
// are stored as nil-able pointers.

func toPtr[A any](o fn.Option[A]) *A {
	var p *A
	o.WhenSome(func(a A) {
		p = &a
	})

	return p
}

func fromPtr[A any](p *A) fn.Option[A] {
	if p == nil {
		return fn.None[A]()
	}

	return fn.Some(*p)
}

type outputRecord struct {
	KeyID      keychain.KeyID      `cbor:"1,keyasint"`
	Commit     pedersen.Commitment `cbor:"2,keyasint"`
	Value      uint64              `cbor:"3,keyasint"`
	Status     uint8               `cbor:"4,keyasint"`
	Height     uint64              `cbor:"5,keyasint"`
	LockHeight uint64              `cbor:"6,keyasint"`
	IsCoinbase bool                `cbor:"7,keyasint"`
	TxLogID    *uint32             `cbor:"8,keyasint,omitempty"`
	MMRIndex   *uint64             `cbor:"9,keyasint,omitempty"`
}

func newOutputRecord(o *wallet.OutputData) *outputRecord {
	return &outputRecord{
		KeyID:      o.KeyID,
		Commit:     o.Commit,
		Value:      o.Value,
		Status:     uint8(o.Status),
		Height:     o.Height,
		LockHeight: o.LockHeight,
		IsCoinbase: o.IsCoinbase,
		TxLogID:    toPtr(o.TxLogID),
		MMRIndex:   toPtr(o.MMRIndex),
	}
}

func (r *outputRecord) output() wallet.OutputData {
	return wallet.OutputData{
		KeyID:      r.KeyID,
		Commit:     r.Commit,
		Value:      r.Value,
		Status:     wallet.OutputStatus(r.Status),
		Height:     r.Height,
		LockHeight: r.LockHeight,
		IsCoinbase: r.IsCoinbase,
		TxLogID:    fromPtr(r.TxLogID),
		MMRIndex:   fromPtr(r.MMRIndex),
	}
}

type proofRecord struct {
	Sender      string `cbor:"1,keyasint"`
	Receiver    string `cbor:"2,keyasint"`
	ReceiverSig []byte `cbor:"3,keyasint,omitempty"`
	SenderIndex uint32 `cbor:"4,keyasint"`
}

func newProofRecord(p *wallet.StoredProofInfo) *proofRecord {
	r := &proofRecord{
		Sender:      p.Proof.SenderAddress.String(),
		Receiver:    p.Proof.ReceiverAddress.String(),
		SenderIndex: p.SenderAddressIndex,
	}
	p.Proof.ReceiverSignature.WhenSome(
		func(sig [ed25519.SignatureSize]byte) {
			r.ReceiverSig = sig[:]
		},
	)

	return r
}

func (r *proofRecord) proof() (wallet.StoredProofInfo, error) {
	sender, err := address.Decode(r.Sender)
	if err != nil {
		return wallet.StoredProofInfo{}, err
	}
	receiver, err := address.Decode(r.Receiver)
	if err != nil {
		return wallet.StoredProofInfo{}, err
	}

	info := wallet.StoredProofInfo{
		Proof: slate.PaymentProof{
			SenderAddress:   sender,
			ReceiverAddress: receiver,
		},
		SenderAddressIndex: r.SenderIndex,
	}
	if len(r.ReceiverSig) == ed25519.SignatureSize {
		var sig [ed25519.SignatureSize]byte
		copy(sig[:], r.ReceiverSig)
		info.Proof.ReceiverSignature = fn.Some(sig)
	}

	return info, nil
}

type txLogRecord struct {
	ID                    uint32               `cbor:"1,keyasint"`
	SlateID               *uuid.UUID           `cbor:"2,keyasint,omitempty"`
	Type                  uint8                `cbor:"3,keyasint"`
	CreationTime          int64                `cbor:"4,keyasint"`
	ConfirmationTime      *int64               `cbor:"5,keyasint,omitempty"`
	Confirmed             bool                 `cbor:"6,keyasint"`
	NumInputs             int                  `cbor:"7,keyasint"`
	NumOutputs            int                  `cbor:"8,keyasint"`
	AmountCredited        uint64               `cbor:"9,keyasint"`
	AmountDebited         uint64               `cbor:"10,keyasint"`
	Fee                   *uint64              `cbor:"11,keyasint,omitempty"`
	TTLCutoffHeight       *uint64              `cbor:"12,keyasint,omitempty"`
	KernelExcess          *pedersen.Commitment `cbor:"13,keyasint,omitempty"`
	KernelLookupMinHeight *uint64              `cbor:"14,keyasint,omitempty"`
	PaymentProof          *proofRecord         `cbor:"15,keyasint,omitempty"`
}

func newTxLogRecord(e *wallet.TxLogEntry) *txLogRecord {
	r := &txLogRecord{
		ID:                    e.ID,
		SlateID:               toPtr(e.SlateID),
		Type:                  uint8(e.Type),
		CreationTime:          e.CreationTime.UnixNano(),
		Confirmed:             e.Confirmed,
		NumInputs:             e.NumInputs,
		NumOutputs:            e.NumOutputs,
		AmountCredited:        e.AmountCredited,
		AmountDebited:         e.AmountDebited,
		Fee:                   toPtr(e.Fee),
		TTLCutoffHeight:       toPtr(e.TTLCutoffHeight),
		KernelExcess:          toPtr(e.KernelExcess),
		KernelLookupMinHeight: toPtr(e.KernelLookupMinHeight),
	}
	e.ConfirmationTime.WhenSome(func(t time.Time) {
		ts := t.UnixNano()
		r.ConfirmationTime = &ts
	})
	e.PaymentProof.WhenSome(func(p wallet.StoredProofInfo) {
		r.PaymentProof = newProofRecord(&p)
	})

	return r
}

func (r *txLogRecord) entry() (wallet.TxLogEntry, error) {
	e := wallet.TxLogEntry{
		ID:                    r.ID,
		SlateID:               fromPtr(r.SlateID),
		Type:                  wallet.TxLogEntryType(r.Type),
		CreationTime:          time.Unix(0, r.CreationTime),
		Confirmed:             r.Confirmed,
		NumInputs:             r.NumInputs,
		NumOutputs:            r.NumOutputs,
		AmountCredited:        r.AmountCredited,
		AmountDebited:         r.AmountDebited,
		Fee:                   fromPtr(r.Fee),
		TTLCutoffHeight:       fromPtr(r.TTLCutoffHeight),
		KernelExcess:          fromPtr(r.KernelExcess),
		KernelLookupMinHeight: fromPtr(r.KernelLookupMinHeight),
	}
	if r.ConfirmationTime != nil {
		e.ConfirmationTime = fn.Some(time.Unix(0, *r.ConfirmationTime))
	}
	if r.PaymentProof != nil {
		proof, err := r.PaymentProof.proof()
		if err != nil {
			return wallet.TxLogEntry{}, err
		}
		e.PaymentProof = fn.Some(proof)
	}

	return e, nil
}

type contextRecord struct {
	SlateID           uuid.UUID               `cbor:"1,keyasint"`
	ParticipantID     uint64                  `cbor:"2,keyasint"`
	SecKey            pedersen.BlindingFactor `cbor:"3,keyasint"`
	SecNonce          pedersen.BlindingFactor `cbor:"4,keyasint"`
	Inputs            []slate.OutputRef       `cbor:"5,keyasint"`
	Outputs           []slate.OutputRef       `cbor:"6,keyasint"`
	Amount            uint64                  `cbor:"7,keyasint"`
	Fee               uint64                  `cbor:"8,keyasint"`
	IsInvoice         bool                    `cbor:"9,keyasint"`
	PaymentProofIndex *uint32                 `cbor:"10,keyasint,omitempty"`
	Account           uint32                  `cbor:"11,keyasint"`
	KernelFeatures    mwtx.KernelFeatures     `cbor:"12,keyasint"`
	LockHeight        uint64                  `cbor:"13,keyasint"`
}

func newContextRecord(c *wallet.StoredContext) *contextRecord {
	ctx := c.Context

	return &contextRecord{
		SlateID:           ctx.SlateID,
		ParticipantID:     ctx.ParticipantID,
		SecKey:            ctx.SecKey,
		SecNonce:          ctx.SecNonce,
		Inputs:            ctx.Inputs,
		Outputs:           ctx.Outputs,
		Amount:            ctx.Amount,
		Fee:               ctx.Fee,
		IsInvoice:         ctx.IsInvoice,
		PaymentProofIndex: toPtr(ctx.PaymentProofIndex),
		Account:           c.Account,
		KernelFeatures:    ctx.KernelFeatures,
		LockHeight:        ctx.LockHeight,
	}
}

func (r *contextRecord) context() *wallet.StoredContext {
	return &wallet.StoredContext{
		Context: &slate.Context{
			SlateID:           r.SlateID,
			ParticipantID:     r.ParticipantID,
			SecKey:            r.SecKey,
			SecNonce:          r.SecNonce,
			Inputs:            r.Inputs,
			Outputs:           r.Outputs,
			Amount:            r.Amount,
			Fee:               r.Fee,
			KernelFeatures:    r.KernelFeatures,
			LockHeight:        r.LockHeight,
			IsInvoice:         r.IsInvoice,
			PaymentProofIndex: fromPtr(r.PaymentProofIndex),
		},
		Account: r.Account,
	}
}

// wipe clears the secrets of the record.
func (r *contextRecord) wipe() {
	r.SecKey.Wipe()
	r.SecNonce.Wipe()
}
