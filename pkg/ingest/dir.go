package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/bizgraph/pkg/graph"
)

// File names ReadDir looks for.
const (
	CustomersFile    = "customers.csv"
	ProductsFile     = "products.csv"
	TransactionsFile = "transactions.csv"
)

func readFile[T any](ctx context.Context, path string, read func(context.Context, *os.File) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", filepath.Base(path), err, graph.ErrValidation)
	}
	defer f.Close()

	out, err := read(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// ReadDir reads the three batch files from dir concurrently. The first
// failure cancels the other readers.
func ReadDir(ctx context.Context, dir string, logger *zap.Logger) (*graph.Batches, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var b graph.Batches
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		b.Customers, err = readFile(gctx, filepath.Join(dir, CustomersFile), func(ctx context.Context, f *os.File) ([]graph.Customer, error) {
			return ReadCustomers(ctx, f)
		})
		return err
	})
	g.Go(func() (err error) {
		b.Products, err = readFile(gctx, filepath.Join(dir, ProductsFile), func(ctx context.Context, f *os.File) ([]graph.Product, error) {
			return ReadProducts(ctx, f)
		})
		return err
	})
	g.Go(func() (err error) {
		b.Transactions, err = readFile(gctx, filepath.Join(dir, TransactionsFile), func(ctx context.Context, f *os.File) ([]graph.Transaction, error) {
			return ReadTransactions(ctx, f)
		})
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	logger.Info("csv batches read",
		zap.String("dir", dir),
		zap.Int("customers", len(b.Customers)),
		zap.Int("products", len(b.Products)),
		zap.Int("transactions", len(b.Transactions)))
	return &b, nil
}
