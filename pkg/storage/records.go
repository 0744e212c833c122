package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/orneryd/bizgraph/pkg/graph"
)

// PutCustomers upserts customers and returns how many were written.
func (s *Store) PutCustomers(ctx context.Context, customers []graph.Customer) (int, error) {
	n, err := putRecords(ctx, s, prefixCustomer, customers, func(c *graph.Customer) string { return string(c.ID) })
	s.log.Debug("customers stored", zap.Int("count", n), zap.Error(err))
	return n, err
}

// PutProducts upserts products.
func (s *Store) PutProducts(ctx context.Context, products []graph.Product) (int, error) {
	n, err := putRecords(ctx, s, prefixProduct, products, func(p *graph.Product) string { return string(p.ID) })
	s.log.Debug("products stored", zap.Int("count", n), zap.Error(err))
	return n, err
}

// PutTransactions upserts transactions keyed by transaction id.
func (s *Store) PutTransactions(ctx context.Context, txns []graph.Transaction) (int, error) {
	n, err := putRecords(ctx, s, prefixTransaction, txns, func(t *graph.Transaction) string { return t.ID })
	s.log.Debug("transactions stored", zap.Int("count", n), zap.Error(err))
	return n, err
}

// LoadBatches reads every stored record in insertion order.
func (s *Store) LoadBatches(ctx context.Context) (*graph.Batches, error) {
	var (
		b   graph.Batches
		err error
	)
	if b.Customers, err = scanRecords[graph.Customer](ctx, s, prefixCustomer); err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	if b.Products, err = scanRecords[graph.Product](ctx, s, prefixProduct); err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	if b.Transactions, err = scanRecords[graph.Transaction](ctx, s, prefixTransaction); err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	return &b, nil
}

// Counts are the number of stored records per batch.
type Counts struct {
	Customers    int `json:"customers"`
	Products     int `json:"products"`
	Transactions int `json:"transactions"`
	Builds       int `json:"builds"`
}

// Counts returns the stored record counts.
func (s *Store) Counts() (Counts, error) {
	if err := s.check(); err != nil {
		return Counts{}, err
	}
	var c Counts
	err := s.db.View(func(txn *badger.Txn) error {
		c.Customers = countPrefix(txn, prefixCustomer)
		c.Products = countPrefix(txn, prefixProduct)
		c.Transactions = countPrefix(txn, prefixTransaction)
		c.Builds = countPrefix(txn, prefixBuildLog)
		return nil
	})
	return c, err
}

// BuildRecord is one entry of the build log.
type BuildRecord struct {
	BuildID      string        `json:"build_id"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Source       string        `json:"source"`
	Nodes        int           `json:"nodes"`
	Edges        int           `json:"edges"`
	Similarities int           `json:"similarities"`
	Truncated    bool          `json:"truncated"`
	Error        string        `json:"error,omitempty"`
}

func buildKey(startedAt time.Time) []byte {
	key := make([]byte, 9)
	key[0] = prefixBuildLog
	binary.BigEndian.PutUint64(key[1:], uint64(startedAt.UnixNano()))
	return key
}

// RecordBuild appends rec to the build log.
func (s *Store) RecordBuild(rec BuildRecord) error {
	if err := s.check(); err != nil {
		return err
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(buildKey(rec.StartedAt), val)
	})
}

// Builds returns up to limit build records, newest first. limit <= 0
// returns all of them.
func (s *Store) Builds(limit int) ([]BuildRecord, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []BuildRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse iteration seeks to the largest key <= seek
		seek := []byte{prefixBuildLog, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
		p := []byte{prefixBuildLog}
		for it.Seek(seek); it.ValidForPrefix(p); it.Next() {
			var rec BuildRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// LastBuild returns the most recent build record.
func (s *Store) LastBuild() (*BuildRecord, bool, error) {
	recs, err := s.Builds(1)
	if err != nil || len(recs) == 0 {
		return nil, false, err
	}
	return &recs[0], true, nil
}
