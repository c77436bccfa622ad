// Package walletdb is a bbolt backed wallet.PersistentStore. Records are
// cbor encoded, negotiation contexts are encrypted at rest.
package walletdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/mwcore/mwwallet/keychain"
	"github.com/mwcore/mwwallet/mwtx"
	"github.com/mwcore/mwwallet/wallet"
	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBName is the file name of the wallet database.
	DefaultDBName = "wallet.db"

	dbFilePermission = 0600

	defaultOpenTimeout = 5 * time.Second
)

var (
	outputsBucket  = []byte("outputs")
	txLogBucket    = []byte("txlog")
	contextsBucket = []byte("contexts")
	txsBucket      = []byte("txs")
	accountsBucket = []byte("accounts")
	metaBucket     = []byte("meta")

	lastScannedKey = []byte("last-scanned")
	childIndexKey  = []byte("child-index")
	txLogIDKey     = []byte("txlog-id")

	topLevelBuckets = [][]byte{
		outputsBucket, txLogBucket, contextsBucket, txsBucket,
		accountsBucket, metaBucket,
	}
)

// DB is the wallet database.
type DB struct {
	db   *bolt.DB
	ring keychain.SecretKeyRing
	box  *contextBox
}

// Open opens or creates the wallet database at path. The key ring provides
// the keys of the wallet and the key encrypting negotiation contexts.
func Open(path string, ring keychain.SecretKeyRing) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("%w: %v", wallet.ErrBackend, err)
	}

	bdb, err := bolt.Open(path, dbFilePermission, &bolt.Options{
		Timeout: defaultOpenTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wallet.ErrBackend, err)
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, name := range topLevelBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("%w: %v", wallet.ErrBackend, err)
	}

	box, err := newContextBox(ring)
	if err != nil {
		bdb.Close()
		return nil, err
	}

	log.Infof("Opened wallet database %v", path)

	return &DB{db: bdb, ring: ring, box: box}, nil
}

// Provider opens the wallet database for a wallet.Instance.
type Provider struct {
	// Path is the database file.
	Path string

	// KeyRing is the wallet key ring.
	KeyRing keychain.SecretKeyRing
}

// Open opens the database.
func (p *Provider) Open(context.Context) (wallet.PersistentStore, error) {
	return Open(p.Path, p.KeyRing)
}

var _ wallet.LCProvider = (*Provider)(nil)

func backendErr(err error) error {
	if err == nil || errors.Is(err, wallet.ErrBackend) ||
		errors.Is(err, wallet.ErrNotFound) {

		return err
	}

	return fmt.Errorf("%w: %v", wallet.ErrBackend, err)
}

func u32Key(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func u64Key(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func contextKey(id uuid.UUID, participantID uint64) []byte {
	return append(id[:len(id):len(id)], u64Key(participantID)...)
}

// accountBucket returns the account's sub bucket of a top level bucket, or
// nil if it doesn't exist yet.
func accountBucket(tx *bolt.Tx, top []byte, account uint32) *bolt.Bucket {
	return tx.Bucket(top).Bucket(u32Key(account))
}

// Keychain returns the wallet's key ring.
func (d *DB) Keychain() keychain.SecretKeyRing {
	return d.ring
}

// FetchOutputs returns every output of the account.
func (d *DB) FetchOutputs(account uint32) ([]wallet.OutputData, error) {
	var outputs []wallet.OutputData
	err := d.db.View(func(tx *bolt.Tx) error {
		b := accountBucket(tx, outputsBucket, account)
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var r outputRecord
			if err := cbor.Unmarshal(v, &r); err != nil {
				return err
			}
			outputs = append(outputs, r.output())

			return nil
		})
	})

	return outputs, backendErr(err)
}

// FetchOutput returns the output located by id.
func (d *DB) FetchOutput(id keychain.KeyID) (*wallet.OutputData, error) {
	loc, err := id.Locator()
	if err != nil {
		return nil, err
	}

	var out *wallet.OutputData
	err = d.db.View(func(tx *bolt.Tx) error {
		b := accountBucket(tx, outputsBucket, loc.Account)
		if b == nil {
			return fmt.Errorf("output %v: %w", id, wallet.ErrNotFound)
		}
		v := b.Get(id[:])
		if v == nil {
			return fmt.Errorf("output %v: %w", id, wallet.ErrNotFound)
		}

		var r outputRecord
		if err := cbor.Unmarshal(v, &r); err != nil {
			return err
		}
		o := r.output()
		out = &o

		return nil
	})

	return out, backendErr(err)
}

// FetchTxLog returns every tx log entry of the account in id order.
func (d *DB) FetchTxLog(account uint32) ([]wallet.TxLogEntry, error) {
	var entries []wallet.TxLogEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		b := accountBucket(tx, txLogBucket, account)
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			e, err := decodeTxLog(v)
			if err != nil {
				return err
			}
			entries = append(entries, e)

			return nil
		})
	})

	return entries, backendErr(err)
}

func decodeTxLog(v []byte) (wallet.TxLogEntry, error) {
	var r txLogRecord
	if err := cbor.Unmarshal(v, &r); err != nil {
		return wallet.TxLogEntry{}, err
	}

	return r.entry()
}

// FetchTxLogBySlate returns the account's entry of the slate.
func (d *DB) FetchTxLogBySlate(account uint32,
	id uuid.UUID) (*wallet.TxLogEntry, error) {

	entries, err := d.FetchTxLog(account)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		var match bool
		entries[i].SlateID.WhenSome(func(slateID uuid.UUID) {
			match = slateID == id
		})
		if match {
			return &entries[i], nil
		}
	}

	return nil, fmt.Errorf("tx log of slate %v: %w", id, wallet.ErrNotFound)
}

// FetchContext returns the decrypted negotiation context.
func (d *DB) FetchContext(id uuid.UUID,
	participantID uint64) (*wallet.StoredContext, error) {

	var sealed []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(contextsBucket).Get(contextKey(id, participantID))
		if v == nil {
			return fmt.Errorf("context of slate %v: %w", id,
				wallet.ErrNotFound)
		}
		sealed = append([]byte(nil), v...)

		return nil
	})
	if err != nil {
		return nil, backendErr(err)
	}

	raw, err := d.box.open(sealed, contextKey(id, participantID))
	if err != nil {
		return nil, backendErr(err)
	}
	defer wipeBytes(raw)

	var r contextRecord
	if err := cbor.Unmarshal(raw, &r); err != nil {
		return nil, backendErr(err)
	}
	defer r.wipe()

	return r.context(), nil
}

// FetchStoredTx returns the final transaction of the slate.
func (d *DB) FetchStoredTx(id uuid.UUID) (*mwtx.Transaction, error) {
	var stored *mwtx.Transaction
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(txsBucket).Get(id[:])
		if v == nil {
			return fmt.Errorf("transaction of slate %v: %w", id,
				wallet.ErrNotFound)
		}

		stored = &mwtx.Transaction{}
		return cbor.Unmarshal(v, stored)
	})
	if err != nil {
		return nil, backendErr(err)
	}

	return stored, nil
}

// Accounts returns the known account paths.
func (d *DB) Accounts() ([]wallet.AccountPath, error) {
	var paths []wallet.AccountPath
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(accountsBucket).ForEach(func(k, v []byte) error {
			if len(v) != 4 {
				return fmt.Errorf("account %q: bad index", k)
			}
			paths = append(paths, wallet.AccountPath{
				Label:   string(k),
				Account: binary.BigEndian.Uint32(v),
			})

			return nil
		})
	})

	return paths, backendErr(err)
}

// LastScannedIndex returns the scanner progress.
func (d *DB) LastScannedIndex() (uint64, error) {
	var index uint64
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(lastScannedKey)
		if len(v) == 8 {
			index = binary.BigEndian.Uint64(v)
		}

		return nil
	})

	return index, backendErr(err)
}

// Batch runs f in a single bbolt write transaction.
func (d *DB) Batch(f func(wallet.Batch) error) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return f(&batch{tx: tx, box: d.box})
	})
}

// Close closes the database.
func (d *DB) Close() error {
	log.Infof("Closing wallet database")

	return backendErr(d.db.Close())
}

var _ wallet.PersistentStore = (*DB)(nil)

// batch implements wallet.Batch over a bbolt write transaction.
type batch struct {
	tx  *bolt.Tx
	box *contextBox
}

func (b *batch) accountBucket(top []byte,
	account uint32) (*bolt.Bucket, error) {

	bucket, err := b.tx.Bucket(top).CreateBucketIfNotExists(
		u32Key(account),
	)

	return bucket, backendErr(err)
}

func (b *batch) put(bucket *bolt.Bucket, key []byte, v interface{}) error {
	raw, err := cbor.Marshal(v)
	if err != nil {
		return backendErr(err)
	}

	return backendErr(bucket.Put(key, raw))
}

// PutOutput inserts or replaces an output.
func (b *batch) PutOutput(account uint32, out *wallet.OutputData) error {
	bucket, err := b.accountBucket(outputsBucket, account)
	if err != nil {
		return err
	}

	return b.put(bucket, out.KeyID[:], newOutputRecord(out))
}

// DeleteOutput removes an output.
func (b *batch) DeleteOutput(account uint32, id keychain.KeyID) error {
	bucket, err := b.accountBucket(outputsBucket, account)
	if err != nil {
		return err
	}

	return backendErr(bucket.Delete(id[:]))
}

// counter increments and returns the counter stored under key in the
// account's meta bucket. Counters start at zero.
func (b *batch) counter(account uint32, key []byte) (uint32, error) {
	bucket, err := b.accountBucket(metaBucket, account)
	if err != nil {
		return 0, err
	}

	var next uint32
	if v := bucket.Get(key); len(v) == 4 {
		next = binary.BigEndian.Uint32(v)
	}
	if err := bucket.Put(key, u32Key(next+1)); err != nil {
		return 0, backendErr(err)
	}

	return next, nil
}

// NextTxLogID reserves a tx log id.
func (b *batch) NextTxLogID(account uint32) (uint32, error) {
	return b.counter(account, txLogIDKey)
}

// PutTxLogEntry inserts or replaces a tx log entry.
func (b *batch) PutTxLogEntry(account uint32, entry *wallet.TxLogEntry) error {
	bucket, err := b.accountBucket(txLogBucket, account)
	if err != nil {
		return err
	}

	return b.put(bucket, u32Key(entry.ID), newTxLogRecord(entry))
}

// NextChildIndex reserves the next output key index of the account.
// Indices start at one.
func (b *batch) NextChildIndex(account uint32) (uint32, error) {
	if err := b.EnsureChildIndex(account, 1); err != nil {
		return 0, err
	}

	return b.counter(account, childIndexKey)
}

// EnsureChildIndex raises the next output key index to at least next.
func (b *batch) EnsureChildIndex(account uint32, next uint32) error {
	bucket, err := b.accountBucket(metaBucket, account)
	if err != nil {
		return err
	}

	if v := bucket.Get(childIndexKey); len(v) == 4 &&
		binary.BigEndian.Uint32(v) >= next {

		return nil
	}

	return backendErr(bucket.Put(childIndexKey, u32Key(next)))
}

// PutContext encrypts and stores a negotiation context.
func (b *batch) PutContext(c *wallet.StoredContext) error {
	r := newContextRecord(c)
	defer r.wipe()

	raw, err := cbor.Marshal(r)
	if err != nil {
		return backendErr(err)
	}
	defer wipeBytes(raw)

	key := contextKey(c.Context.SlateID, c.Context.ParticipantID)
	sealed, err := b.box.seal(raw, key)
	if err != nil {
		return backendErr(err)
	}

	return backendErr(b.tx.Bucket(contextsBucket).Put(key, sealed))
}

// DeleteContext removes a negotiation context.
func (b *batch) DeleteContext(id uuid.UUID, participantID uint64) error {
	return backendErr(
		b.tx.Bucket(contextsBucket).Delete(contextKey(id, participantID)),
	)
}

// PutStoredTx stores the final transaction of a slate.
func (b *batch) PutStoredTx(id uuid.UUID, tx *mwtx.Transaction) error {
	return b.put(b.tx.Bucket(txsBucket), id[:], tx)
}

// PutAccount stores an account path.
func (b *batch) PutAccount(path wallet.AccountPath) error {
	if path.Label == "" {
		return errors.New("empty account label")
	}

	return backendErr(b.tx.Bucket(accountsBucket).Put(
		[]byte(path.Label), u32Key(path.Account),
	))
}

// PutLastScannedIndex records scanner progress.
func (b *batch) PutLastScannedIndex(index uint64) error {
	return backendErr(
		b.tx.Bucket(metaBucket).Put(lastScannedKey, u64Key(index)),
	)
}

var _ wallet.Batch = (*batch)(nil)
