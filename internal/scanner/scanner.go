// Package scanner sweeps every (chore, assignee) pair on the periodic tick and
// at the daily rollover. Each pair goes through the engine's locked mutation
// path, so a sweep never races a user action on the same pair.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"choreline/internal/config"
	"choreline/internal/domain"
	"choreline/internal/engine"
	"choreline/internal/repo"
)

// SystemActor is recorded on transitions the scanner makes on its own.
const SystemActor = "system"

type Sweep string

const (
	SweepTick     Sweep = "tick"
	SweepRollover Sweep = "rollover"
)

type Scanner struct {
	Engine     engine.Engine
	Workers    int
	SkipLocked bool
	Logger     zerolog.Logger
}

type Failure struct {
	ChoreID    string `json:"chore_id"`
	AssigneeID string `json:"assignee_id"`
	Error      string `json:"error"`
}

// Report summarizes one sweep.
type Report struct {
	Sweep    Sweep         `json:"sweep"`
	Started  time.Time     `json:"started" format:"date-time"`
	Duration time.Duration `json:"duration_ns"`
	Pairs    int           `json:"pairs"`
	Changed  int           `json:"changed"`
	Skipped  int           `json:"skipped"`
	Failures []Failure     `json:"failures,omitempty"`
}

func New(e engine.Engine, cfg config.ScannerConfig, logger zerolog.Logger) *Scanner {
	return &Scanner{Engine: e, Workers: cfg.Workers, SkipLocked: cfg.SkipLocked, Logger: logger}
}

type step func(tx *engine.Tx, assigneeID string) (bool, error)

func (s *Scanner) Tick(ctx context.Context) (Report, error) {
	return s.sweep(ctx, SweepTick, tick)
}

func (s *Scanner) Rollover(ctx context.Context) (Report, error) {
	return s.sweep(ctx, SweepRollover, rollover)
}

type pair struct{ chore, assignee string }

func (s *Scanner) sweep(ctx context.Context, kind Sweep, fn step) (Report, error) {
	report := Report{Sweep: kind, Started: time.Now()}
	chores, err := s.Engine.ListChores(ctx)
	if err != nil {
		return report, fmt.Errorf("list chores: %w", err)
	}
	var pairs []pair
	for _, c := range chores {
		for _, a := range c.Assignees {
			pairs = append(pairs, pair{c.ID, a})
		}
	}
	report.Pairs = len(pairs)

	workers := s.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(workers)
	for _, p := range pairs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			changed, skipped, err := s.runPair(ctx, p, fn)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failures = append(report.Failures, Failure{ChoreID: p.chore, AssigneeID: p.assignee, Error: err.Error()})
				s.Logger.Warn().Err(err).Str("sweep", string(kind)).Str("chore", p.chore).Str("assignee", p.assignee).Msg("pair failed")
			case skipped:
				report.Skipped++
			case changed:
				report.Changed++
			}
			return nil
		})
	}
	_ = g.Wait()
	report.Duration = time.Since(report.Started)
	s.Logger.Info().Str("sweep", string(kind)).Int("pairs", report.Pairs).Int("changed", report.Changed).
		Int("skipped", report.Skipped).Int("failed", len(report.Failures)).Dur("took", report.Duration).Msg("sweep done")
	return report, ctx.Err()
}

func (s *Scanner) runPair(ctx context.Context, p pair, fn step) (changed, skipped bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	mutate := s.Engine.Mutate
	if s.SkipLocked {
		mutate = s.Engine.TryMutate
	}
	err = mutate(ctx, p.chore, p.assignee, func(tx *engine.Tx) error {
		if err := tx.Chore().Validate(); err != nil {
			return err
		}
		c, err := fn(tx, p.assignee)
		changed = c
		return err
	})
	switch {
	case errors.Is(err, engine.ErrLocked):
		return false, true, nil
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, engine.ErrNotAssigned):
		// Deleted or reassigned since the sweep listed it.
		return false, true, nil
	}
	return changed, false, err
}

// tick applies due-date resets and records overdue and missed transitions.
func tick(tx *engine.Tx, a string) (bool, error) {
	c := tx.Chore()
	inst := tx.Instance(a)
	if inst.DueAt == nil {
		return false, nil
	}
	changed := false
	if c.ApprovalReset.AtDueDate() && !tx.Now().Before(*inst.DueAt) {
		ch, err := resetPeriod(tx, a)
		if err != nil {
			return false, err
		}
		changed = ch
		inst = tx.Instance(a)
	}

	switch tx.Resolve(a).State {
	case domain.StateOverdue:
		if inst.OverdueNotifiedFor == nil || !inst.OverdueNotifiedFor.Equal(*inst.DueAt) {
			due := *inst.DueAt
			inst.OverdueNotifiedFor = &due
			tx.Put(inst)
			tx.Emit(domain.Event{Type: domain.EventOverdue, AssigneeID: a, ActorID: SystemActor,
				Payload: map[string]any{"due_at": due.UTC().Format(time.RFC3339)}})
			changed = true
		}
	case domain.StateMissed:
		if !inst.IsLockedMissed {
			recordMiss(tx, inst)
			changed = true
		}
	}
	return changed, nil
}

// rollover applies the midnight approval reset and is the only exit from the
// missed lock.
func rollover(tx *engine.Tx, a string) (bool, error) {
	c := tx.Chore()
	changed := false

	reset := false
	switch c.ApprovalReset {
	case domain.ResetAtMidnightOnce:
		reset = true
	case domain.ResetAtMidnightMulti:
		reset = completed(tx, scope(c, a))
	}
	if reset {
		ch, err := resetPeriod(tx, a)
		if err != nil {
			return false, err
		}
		changed = ch
	}

	if c.Recurrence.Frequency == domain.FrequencyNone {
		return changed, nil
	}
	inst := tx.Instance(a)
	pastDue := inst.DueAt != nil && tx.Now().After(*inst.DueAt)
	open := pastDue && !inst.HasPendingClaim && !completed(tx, scope(c, a))
	switch {
	case inst.IsLockedMissed, c.Overdue.Strict() && open:
		// an assignee off turn is re-armed without a miss
		if !inst.IsLockedMissed && tx.Resolve(a).State == domain.StateMissed {
			recordMiss(tx, inst)
		}
		if err := tx.Rearm(a); err != nil {
			return changed, err
		}
		changed = true
	case c.Overdue == domain.OverdueClearAtReset && open:
		if err := tx.Rearm(a); err != nil {
			return changed, err
		}
		changed = true
	}
	return changed, nil
}

func recordMiss(tx *engine.Tx, inst domain.Instance) {
	now := tx.Now()
	inst.IsLockedMissed = true
	inst.LastMissedAt = &now
	tx.Put(inst)
	payload := map[string]any{}
	if inst.DueAt != nil {
		payload["due_at"] = inst.DueAt.UTC().Format(time.RFC3339)
	}
	tx.Emit(domain.Event{Type: domain.EventMissed, AssigneeID: inst.AssigneeID, ActorID: SystemActor, Payload: payload})
}

// resetPeriod ends the current approval period for a, or for every assignee
// of a coupled chore. Pending claims follow the chore's pending-claim policy
// first; held claims are carried over untouched.
func resetPeriod(tx *engine.Tx, a string) (bool, error) {
	c := tx.Chore()
	ids := scope(c, a)
	changed := false
	for _, id := range ids {
		inst := tx.Instance(id)
		if !inst.HasPendingClaim {
			continue
		}
		switch c.PendingClaim {
		case domain.PendingClear:
			inst.HasPendingClaim = false
			tx.Put(inst)
			changed = true
		case domain.PendingAutoApprove:
			if err := tx.Approve(id, SystemActor); err != nil {
				return changed, err
			}
			changed = true
		}
	}
	if c.Recurrence.Frequency == domain.FrequencyNone || !completed(tx, ids) {
		return changed, nil
	}
	for _, id := range ids {
		if tx.Instance(id).HasPendingClaim {
			continue
		}
		if err := tx.Rearm(id); err != nil {
			return changed, err
		}
		changed = true
	}
	return changed, nil
}

func scope(c domain.Chore, a string) []string {
	if c.Coupled() {
		return c.Assignees
	}
	return []string{a}
}

func completed(tx *engine.Tx, ids []string) bool {
	for _, id := range ids {
		if tx.Instance(id).IsApprovedThisPeriod {
			return true
		}
	}
	return false
}
