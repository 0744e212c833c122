package bizgraph

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/orneryd/bizgraph/pkg/graph"
)

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// StartScheduler rebuilds from the record store on the given cron schedule
// ("@every 1h", "0 3 * * *"). An empty schedule falls back to the configured
// schedule. A tick that lands while a build is running is skipped. Close
// stops the scheduler.
func (s *Service) StartScheduler(spec string) error {
	if spec == "" {
		spec = s.cfg.Schedule.Rebuild
	}
	if spec == "" {
		return fmt.Errorf("no rebuild schedule configured: %w", graph.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.cron != nil {
		return errors.New("scheduler already running")
	}

	logger := cronLogger{s.log.Named("scheduler").Sugar()}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, s.scheduledRebuild); err != nil {
		return fmt.Errorf("rebuild schedule %q: %v: %w", spec, err, graph.ErrValidation)
	}
	c.Start()
	s.cron = c
	s.log.Info("rebuild scheduler started", zap.String("schedule", spec))
	return nil
}

func (s *Service) scheduledRebuild() {
	res, err := s.rebuildFromStore(s.ctx, SourceSchedule)
	switch {
	case errors.Is(err, ErrBuildInProgress):
		s.log.Info("scheduled rebuild skipped, build in progress")
	case err != nil:
		s.log.Warn("scheduled rebuild failed", zap.Error(err))
	default:
		s.log.Info("scheduled rebuild done",
			zap.String("build_id", res.BuildID),
			zap.Duration("duration", res.Duration))
	}
}
