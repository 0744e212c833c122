// Package bizgraph is the owned service that ties the customer graph
// together: record store, builder, published snapshot, query cache,
// reasoning, persistence, scheduler and metrics.
//
// One Service is constructed at process start and passed to whatever
// serves queries. There is no package-level state.
//
// Lifecycle:
//
//	Import     -> raw batches land in the badger record store
//	Build      -> a fresh graph is built off to the side
//	publish    -> the new snapshot replaces the old one in one pointer swap
//	queries    -> read the snapshot that was current when they started
//
// Readers never lock. A reader that loaded the old snapshot keeps using it
// until it returns; the old graph is immutable, so it stays consistent.
//
// Example Usage:
//
//	svc, err := bizgraph.Open(cfg, bizgraph.WithLogger(logger))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer svc.Close()
//
//	if _, err := svc.ImportDir(ctx, "./exports"); err != nil {
//		log.Fatal(err)
//	}
//	if _, err := svc.RebuildFromStore(ctx); err != nil {
//		log.Fatal(err)
//	}
//	insights, err := svc.CustomerInsights("c-42")
//
// ELI12:
//
// Think of a shop window. While the staff build the new display in the back
// room, customers keep looking at the old one. When the new display is
// finished it is swapped in all at once, so nobody ever sees a half-built
// window.
package bizgraph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/orneryd/bizgraph/pkg/builder"
	"github.com/orneryd/bizgraph/pkg/cache"
	"github.com/orneryd/bizgraph/pkg/config"
	"github.com/orneryd/bizgraph/pkg/graph"
	"github.com/orneryd/bizgraph/pkg/query"
	"github.com/orneryd/bizgraph/pkg/storage"
)

// Errors returned by Service operations.
var (
	// ErrBuildInProgress is returned when a build is requested while another
	// one is running. It wraps graph.ErrResourceBound.
	ErrBuildInProgress = fmt.Errorf("build already in progress: %w", graph.ErrResourceBound)
	ErrClosed          = errors.New("service is closed")
)

// Build sources recorded in the build log.
const (
	SourceAPI      = "api"
	SourceStore    = "store"
	SourceSchedule = "schedule"
	SourceSnapshot = "snapshot"
)

// snapshot is one published graph with everything derived from it.
type snapshot struct {
	graph      *graph.Graph
	engine     *query.Engine
	result     *builder.Result // nil when restored from a file
	generation uint64
	source     string
}

// Service owns the record store and the published graph.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. At most one build runs at a
//	time; queries run concurrently with builds.
type Service struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *storage.Store
	cache   *cache.ResultCache
	metrics *metrics
	builder *builder.Builder
	now     func() time.Time

	current    atomic.Pointer[snapshot]
	generation atomic.Uint64
	building   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // guards closed and cron
	closed bool
	cron   *cron.Cron

	bgWg sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Open validates cfg, opens the record store and, when configured, restores
// the last snapshot. A nil cfg means config.DefaultConfig.
func Open(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		log:     zap.NewNop(),
		metrics: newMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	store, err := storage.Open(storage.Options{
		DataDir:    cfg.Storage.DataDir,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
		Logger:     s.log.Named("storage"),
	})
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	s.store = store

	s.cache = cache.NewResultCache(cfg.Cache.Size, cfg.Cache.TTL)
	s.cache.SetEnabled(cfg.Cache.Enabled)

	s.builder = builder.New(cfg.Limits, cfg.Similarity,
		builder.WithLogger(s.log.Named("builder")),
		builder.WithClock(s.now))

	if cfg.Snapshot.LoadOnStart && cfg.Snapshot.Path != "" {
		loaded, err := s.Load()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.log.Info("startup snapshot", zap.Bool("loaded", loaded), zap.String("path", cfg.Snapshot.Path))
	}

	s.log.Info("bizgraph service opened", zap.Stringer("config", cfg))
	return s, nil
}

// Config returns the configuration the service was opened with.
func (s *Service) Config() *config.Config { return s.cfg }

// Store returns the record store.
func (s *Service) Store() *storage.Store { return s.store }

// Registry returns the service's prometheus registry.
func (s *Service) Registry() *prometheus.Registry { return s.metrics.registry }

func (s *Service) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close stops the scheduler, cancels running builds, waits for background
// work and closes the record store. Closing twice is a no-op.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	s.cancel()
	if c != nil {
		<-c.Stop().Done()
	}
	s.bgWg.Wait()

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close record store: %w", err)
	}
	s.log.Info("bizgraph service closed")
	return nil
}

// publish makes g the active graph.
func (s *Service) publish(g *graph.Graph, res *builder.Result, source string) *snapshot {
	opts := s.cfg.Query
	opts.Logger = s.log.Named("query")

	snap := &snapshot{
		graph:      g,
		engine:     query.NewEngine(g, opts),
		result:     res,
		generation: s.generation.Add(1),
		source:     source,
	}
	s.current.Store(snap)
	s.cache.Clear()
	s.metrics.observeGraph(g, snap.generation)

	s.log.Info("graph published",
		zap.Uint64("generation", snap.generation),
		zap.String("build_id", g.BuildID()),
		zap.String("source", source),
		zap.Int("nodes", g.NodeCount()),
		zap.Int("edges", g.EdgeCount()))
	return snap
}

// Status describes the published graph.
type Status struct {
	Built      bool            `json:"built"`
	Building   bool            `json:"building"`
	Generation uint64          `json:"generation"`
	Source     string          `json:"source,omitempty"`
	BuildID    string          `json:"build_id,omitempty"`
	BuiltAt    time.Time       `json:"built_at,omitempty"`
	LastBuild  *builder.Result `json:"last_build,omitempty"`
	Cache      cache.Stats     `json:"cache"`
}

// Status returns the current service status.
func (s *Service) Status() Status {
	st := Status{
		Building: s.building.Load(),
		Cache:    s.cache.Stats(),
	}
	if snap := s.current.Load(); snap != nil {
		st.Built = true
		st.Generation = snap.generation
		st.Source = snap.source
		st.BuildID = snap.graph.BuildID()
		st.BuiltAt = snap.graph.BuiltAt()
		st.LastBuild = snap.result
	}
	return st
}
