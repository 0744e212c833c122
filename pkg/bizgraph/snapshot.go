package bizgraph

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/orneryd/bizgraph/pkg/graph"
	"github.com/orneryd/bizgraph/pkg/persist"
)

func (s *Service) persistOptions() (string, persist.Options, error) {
	path := s.cfg.Snapshot.Path
	if path == "" {
		return "", persist.Options{}, fmt.Errorf("no snapshot path configured: %w", graph.ErrValidation)
	}
	return path, persist.Options{
		Passphrase: s.cfg.Snapshot.Passphrase,
		Iterations: s.cfg.Snapshot.Iterations,
		Logger:     s.log.Named("persist"),
	}, nil
}

// Save writes the active graph to the configured snapshot path.
func (s *Service) Save() (err error) {
	defer func() { s.metrics.observeSnapshot("save", err) }()

	path, opts, err := s.persistOptions()
	if err != nil {
		return err
	}
	snap := s.current.Load()
	if snap == nil {
		return fmt.Errorf("save: %w", graph.ErrGraphNotBuilt)
	}
	return persist.Save(snap.graph, path, opts)
}

// Load restores the snapshot at the configured path and makes it active.
// It reports false, with no error, when there is no snapshot yet. Load takes
// the same writer slot as Build, so it fails with ErrBuildInProgress while a
// build is running.
func (s *Service) Load() (loaded bool, err error) {
	defer func() { s.metrics.observeSnapshot("load", err) }()

	if err := s.claimWriter(); err != nil {
		return false, err
	}
	defer s.releaseWriter()
	path, opts, err := s.persistOptions()
	if err != nil {
		return false, err
	}
	g, ok, err := persist.Load(path, opts)
	if err != nil || !ok {
		return false, err
	}
	snap := s.publish(g, nil, SourceSnapshot)
	s.log.Info("snapshot loaded", zap.String("path", path), zap.Uint64("generation", snap.generation))
	return true, nil
}
