// Package schedule fires the scanner's periodic tick and daily rollover from
// cron specs evaluated in the household location.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"choreline/internal/config"
	"choreline/internal/scanner"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Sweeper runs the two sweeps.
type Sweeper interface {
	Tick(ctx context.Context) (scanner.Report, error)
	Rollover(ctx context.Context) (scanner.Report, error)
}

type Scheduler struct {
	sweeper  Sweeper
	logger   zerolog.Logger
	location *time.Location

	cron    *cron.Cron
	entries map[scanner.Sweep]cron.EntryID
	running sync.Map // scanner.Sweep -> struct{}{}

	ctx context.Context
}

func New(sw Sweeper, cfg config.ScannerConfig, location *time.Location, logger zerolog.Logger) (*Scheduler, error) {
	if location == nil {
		location = time.Local
	}
	s := &Scheduler{
		sweeper:  sw,
		logger:   logger,
		location: location,
		cron:     cron.New(cron.WithParser(cronParser), cron.WithLocation(location)),
		entries:  make(map[scanner.Sweep]cron.EntryID),
	}
	specs := map[scanner.Sweep]string{
		scanner.SweepTick:     orDefault(cfg.Tick, config.DefaultTick),
		scanner.SweepRollover: orDefault(cfg.Rollover, config.DefaultRollover),
	}
	for kind, spec := range specs {
		sched, err := cronParser.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("parse %s schedule %q: %w", kind, spec, err)
		}
		kind := kind
		s.entries[kind] = s.cron.Schedule(sched, cron.FuncJob(func() { s.Run(kind) }))
	}
	return s, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Start begins firing sweeps. ctx is passed to every sweep.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	for kind := range s.entries {
		s.logger.Info().Str("sweep", string(kind)).Time("next", s.Next(kind)).Msg("sweep scheduled")
	}
}

// Stop stops the scheduler; the returned context is done once running sweeps finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next reports when kind fires next, or the zero time before Start.
func (s *Scheduler) Next(kind scanner.Sweep) time.Time {
	id, ok := s.entries[kind]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Run executes one sweep now unless the same sweep is still running. It
// reports whether the sweep ran.
func (s *Scheduler) Run(kind scanner.Sweep) bool {
	if _, busy := s.running.LoadOrStore(kind, struct{}{}); busy {
		s.logger.Info().Str("sweep", string(kind)).Msg("skipping sweep because the previous one is still running")
		return false
	}
	defer s.running.Delete(kind)

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	switch kind {
	case scanner.SweepTick:
		_, err = s.sweeper.Tick(ctx)
	case scanner.SweepRollover:
		_, err = s.sweeper.Rollover(ctx)
	default:
		err = fmt.Errorf("unknown sweep %q", kind)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("sweep", string(kind)).Msg("sweep failed")
	}
	return true
}
