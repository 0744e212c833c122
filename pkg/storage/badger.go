// Package storage keeps the raw input batches and the build log in BadgerDB.
//
// The graph itself is never stored here; it is rebuilt from these records.
// Records are kept in first-insertion order so that the builder's
// keep-the-first-N truncation selects the same records on every rebuild.
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/orneryd/bizgraph/pkg/graph"
)

// Key prefixes. Record keys carry an 8-byte big-endian sequence number so
// iteration order is insertion order.
const (
	prefixCustomer    = byte(0x01) // 0x01 + seq -> JSON(Customer)
	prefixProduct     = byte(0x02) // 0x02 + seq -> JSON(Product)
	prefixTransaction = byte(0x03) // 0x03 + seq -> JSON(Transaction)
	prefixIDIndex     = byte(0x04) // 0x04 + record prefix + id -> seq
	prefixCounter     = byte(0x05) // 0x05 + record prefix -> last seq
	prefixBuildLog    = byte(0x10) // 0x10 + started-at unix nanos -> JSON(BuildRecord)
)

// writeChunk bounds the records written per badger transaction.
const writeChunk = 1000

var ErrStorageClosed = errors.New("storage closed")

// Options configures the record store.
type Options struct {
	// DataDir is the badger directory. Ignored when InMemory is set.
	DataDir string
	// InMemory runs badger without touching disk. Used by tests.
	InMemory bool
	// SyncWrites forces an fsync after each write.
	SyncWrites bool
	Logger     *zap.Logger
}

// Store is the badger-backed record store.
type Store struct {
	db     *badger.DB
	log    *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}

// Open opens (or creates) the store.
func Open(opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.
		WithLogger(badgerLogger{log.Named("badger").Sugar()}).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(Options{InMemory: true})
}

// Close closes the store. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStorageClosed
	}
	return nil
}

// RunGC reclaims value log space. Call it periodically in long-running
// processes.
func (s *Store) RunGC() error {
	if err := s.check(); err != nil {
		return err
	}
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func seqKey(prefix byte, seq uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], seq)
	return key
}

func indexKey(prefix byte, id string) []byte {
	return append([]byte{prefixIDIndex, prefix}, id...)
}

func counterKey(prefix byte) []byte {
	return []byte{prefixCounter, prefix}
}

func readUint64(txn *badger.Txn, key []byte) (uint64, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("key %x: bad sequence length %d", key, len(val))
		}
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, true, err
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// putRecords upserts records under prefix. A record whose id is already
// stored keeps its original position.
func putRecords[T any](ctx context.Context, s *Store, prefix byte, records []T, id func(*T) string) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	written := 0
	for start := 0; start < len(records); start += writeChunk {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		end := min(start+writeChunk, len(records))
		err := s.db.Update(func(txn *badger.Txn) error {
			last, _, err := readUint64(txn, counterKey(prefix))
			if err != nil {
				return err
			}
			for i := start; i < end; i++ {
				rec := &records[i]
				rid := id(rec)
				if rid == "" {
					return fmt.Errorf("record %d has an empty id: %w", i, graph.ErrValidation)
				}
				seq, exists, err := readUint64(txn, indexKey(prefix, rid))
				if err != nil {
					return err
				}
				if !exists {
					last++
					seq = last
					if err := txn.Set(indexKey(prefix, rid), encodeUint64(seq)); err != nil {
						return err
					}
				}
				val, err := json.Marshal(rec)
				if err != nil {
					return err
				}
				if err := txn.Set(seqKey(prefix, seq), val); err != nil {
					return err
				}
			}
			return txn.Set(counterKey(prefix), encodeUint64(last))
		})
		if err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

// scanRecords decodes every record under prefix in insertion order.
func scanRecords[T any](ctx context.Context, s *Store, prefix byte) ([]T, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []T
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte{prefix}
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %x: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func countPrefix(txn *badger.Txn, prefix byte) int {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	p := []byte{prefix}
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		n++
	}
	return n
}
