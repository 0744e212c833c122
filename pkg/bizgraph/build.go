package bizgraph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/orneryd/bizgraph/pkg/builder"
	"github.com/orneryd/bizgraph/pkg/graph"
	"github.com/orneryd/bizgraph/pkg/ingest"
	"github.com/orneryd/bizgraph/pkg/storage"
)

// Build builds a graph from the given batches and publishes it. The
// previous graph stays active if the build fails. A second build while one
// is running fails with ErrBuildInProgress.
func (s *Service) Build(ctx context.Context, customers []graph.Customer, products []graph.Product, txns []graph.Transaction) (*builder.Result, error) {
	if err := s.claimWriter(); err != nil {
		return nil, err
	}
	defer s.releaseWriter()
	ctx, cancel := s.bind(ctx)
	defer cancel()
	return s.build(ctx, SourceAPI, &graph.Batches{Customers: customers, Products: products, Transactions: txns})
}

// RebuildFromStore builds from every record in the record store.
func (s *Service) RebuildFromStore(ctx context.Context) (*builder.Result, error) {
	return s.rebuildFromStore(ctx, SourceStore)
}

func (s *Service) rebuildFromStore(ctx context.Context, source string) (*builder.Result, error) {
	if err := s.claimWriter(); err != nil {
		return nil, err
	}
	defer s.releaseWriter()
	ctx, cancel := s.bind(ctx)
	defer cancel()

	b, err := s.store.LoadBatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("load batches: %w", err)
	}
	return s.build(ctx, source, b)
}

// claimWriter takes the single writer slot shared by builds and snapshot
// loads. The holder is tracked by bgWg so Close waits for it before closing
// the record store.
func (s *Service) claimWriter() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.building.CompareAndSwap(false, true) {
		return ErrBuildInProgress
	}
	s.bgWg.Add(1)
	return nil
}

func (s *Service) releaseWriter() {
	s.building.Store(false)
	s.bgWg.Done()
}

// bind derives a context that is also cancelled when the service closes.
func (s *Service) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// build runs with the writer slot held.
func (s *Service) build(ctx context.Context, source string, b *graph.Batches) (*builder.Result, error) {
	started := s.now()
	g, res, err := s.builder.Build(ctx, b.Customers, b.Products, b.Transactions)
	s.metrics.observeBuild(res, err)

	rec := storage.BuildRecord{Source: source, StartedAt: started}
	if err != nil {
		rec.Duration = s.now().Sub(started)
		rec.Error = err.Error()
		s.recordBuild(rec)
		s.log.Warn("build failed", zap.String("source", source), zap.Error(err))
		return nil, err
	}

	rec.BuildID = res.BuildID
	rec.StartedAt = res.StartedAt
	rec.Duration = res.Duration
	rec.Nodes = res.NodeCount
	rec.Edges = res.EdgeCount
	rec.Similarities = res.Similarity.EdgesCreated
	rec.Truncated = res.Truncation.Applied()
	s.recordBuild(rec)

	s.publish(g, res, source)

	if s.cfg.Snapshot.AutoSave && s.cfg.Snapshot.Path != "" {
		if err := s.Save(); err != nil {
			s.log.Warn("auto-save failed", zap.String("path", s.cfg.Snapshot.Path), zap.Error(err))
		}
	}
	return res, nil
}

func (s *Service) recordBuild(rec storage.BuildRecord) {
	if err := s.store.RecordBuild(rec); err != nil {
		s.log.Warn("failed to record build", zap.String("build_id", rec.BuildID), zap.Error(err))
	}
}

// Builds returns up to limit entries of the build log, newest first.
func (s *Service) Builds(limit int) ([]storage.BuildRecord, error) {
	return s.store.Builds(limit)
}

// BuildTask is a build running in the background.
type BuildTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	result *builder.Result
	err    error
}

// Wait blocks until the build finishes.
func (t *BuildTask) Wait() (*builder.Result, error) {
	<-t.done
	return t.result, t.err
}

// Cancel asks the build to stop. The previous graph stays active.
func (t *BuildTask) Cancel() { t.cancel() }

// Done is closed when the build finishes.
func (t *BuildTask) Done() <-chan struct{} { return t.done }

func finishedTask(err error) *BuildTask {
	t := &BuildTask{cancel: func() {}, done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

// StartBuild runs Build in the background. The build slot is claimed
// before StartBuild returns, so a Build issued afterwards sees
// ErrBuildInProgress. Close cancels the task.
func (s *Service) StartBuild(ctx context.Context, customers []graph.Customer, products []graph.Product, txns []graph.Transaction) *BuildTask {
	if err := s.claimWriter(); err != nil {
		return finishedTask(err)
	}

	ctx, cancel := s.bind(ctx)
	t := &BuildTask{cancel: cancel, done: make(chan struct{})}
	b := &graph.Batches{Customers: customers, Products: products, Transactions: txns}

	go func() {
		defer close(t.done)
		defer cancel()
		defer s.releaseWriter()
		t.result, t.err = s.build(ctx, SourceAPI, b)
	}()
	return t
}

// Import writes batches to the record store. Records whose id is already
// stored are replaced in place. It does not build.
func (s *Service) Import(ctx context.Context, b *graph.Batches) (storage.Counts, error) {
	if err := s.check(); err != nil {
		return storage.Counts{}, err
	}
	if _, err := s.store.PutCustomers(ctx, b.Customers); err != nil {
		return storage.Counts{}, fmt.Errorf("import customers: %w", err)
	}
	if _, err := s.store.PutProducts(ctx, b.Products); err != nil {
		return storage.Counts{}, fmt.Errorf("import products: %w", err)
	}
	if _, err := s.store.PutTransactions(ctx, b.Transactions); err != nil {
		return storage.Counts{}, fmt.Errorf("import transactions: %w", err)
	}
	counts, err := s.store.Counts()
	if err != nil {
		return storage.Counts{}, err
	}
	s.log.Info("batches imported",
		zap.Int("customers", len(b.Customers)),
		zap.Int("products", len(b.Products)),
		zap.Int("transactions", len(b.Transactions)),
		zap.Int("stored_transactions", counts.Transactions))
	return counts, nil
}

// ImportDir reads customers.csv, products.csv and transactions.csv from dir
// and imports them.
func (s *Service) ImportDir(ctx context.Context, dir string) (storage.Counts, error) {
	b, err := ingest.ReadDir(ctx, dir, s.log.Named("ingest"))
	if err != nil {
		return storage.Counts{}, err
	}
	return s.Import(ctx, b)
}
