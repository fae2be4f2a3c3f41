package accounts

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper purges expired verification tokens on a recurring schedule.
// It runs off the request path; a failed cycle is logged and the
// schedule keeps going.
type Sweeper struct {
	tokens   *VerificationService
	schedule string
	cron     *cron.Cron
	logger   Logger
}

// NewSweeper builds an hourly sweeper
func NewSweeper(tokens *VerificationService) *Sweeper {
	return &Sweeper{
		tokens:   tokens,
		schedule: "@hourly",
		logger:   defLogger{},
	}
}

// WithSchedule overrides the cron spec, mostly for tests
func (s *Sweeper) WithSchedule(spec string) *Sweeper {
	if spec != "" {
		s.schedule = spec
	}
	return s
}

// WithLogger overrides the logger used by the sweeper
func (s *Sweeper) WithLogger(logger Logger) *Sweeper {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Start runs one sweep immediately, then on every tick until Stop
func (s *Sweeper) Start(ctx context.Context) error {
	s.runOnce(ctx)

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.runOnce(ctx)
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
// Safe to call without a prior Start.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Sweeper) runOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if _, err := s.tokens.SweepExpired(ctx); err != nil {
		s.logger.Error("verification sweep failed: %v", err)
	}
}
