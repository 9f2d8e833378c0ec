// Package engine is the lifecycle manager: every claim, approval, rejection,
// rotation change and scanner transition runs through Mutate, which holds the
// per-key lock, commits the facts and only then posts rewards and publishes
// events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"choreline/internal/config"
	"choreline/internal/domain"
	"choreline/internal/events"
	"choreline/internal/ledger"
	"choreline/internal/lock"
	"choreline/internal/repo"
)

// Store is the durable state the engine reads and commits.
type Store interface {
	GetChore(ctx context.Context, id string) (domain.Chore, error)
	ListChores(ctx context.Context) ([]domain.Chore, error)
	LoadSnapshot(ctx context.Context, choreID string) (domain.Snapshot, error)
	Commit(ctx context.Context, m domain.Mutation) ([]domain.Event, error)
	Events(ctx context.Context, q domain.EventQuery) ([]domain.Event, error)
}

type Engine struct {
	Store      Store
	Ledger     ledger.Ledger
	Publisher  events.Publisher
	Locks      *lock.MutexMap
	Location   *time.Location
	ResetOrder domain.SharedResetOrder
	Logger     zerolog.Logger
	Now        func() time.Time
}

const maxRelock = 5

func New(store Store, cfg *config.Config) Engine {
	e := Engine{
		Store:      store,
		Ledger:     ledger.Nop{},
		Locks:      lock.NewMutexMap(),
		Location:   time.Local,
		ResetOrder: domain.ResetWaitForAll,
		Logger:     zerolog.Nop(),
		Now:        time.Now,
	}
	if cfg != nil {
		e.Location = cfg.Location()
		if cfg.SharedResetOrder != "" {
			e.ResetOrder = cfg.SharedResetOrder
		}
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) location() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return time.Local
}

func choreKey(choreID string) string { return choreID }

func pairKey(choreID, assigneeID string) string { return choreID + "/" + assigneeID }

// lockKey is the key guarding assigneeID's instance. Chores whose transitions
// read or write peers serialize on the chore key.
func lockKey(c domain.Chore, assigneeID string) string {
	if c.Completion != domain.CompletionIndependent || c.Rotation.Active() {
		return choreKey(c.ID)
	}
	return pairKey(c.ID, assigneeID)
}

// Mutate runs fn under the lock guarding (choreID, assigneeID) and commits what
// it staged. An empty assigneeID locks the whole chore.
func (e Engine) Mutate(ctx context.Context, choreID, assigneeID string, fn func(*Tx) error) error {
	if assigneeID == "" {
		return e.mutateChore(ctx, choreID, nil, false, fn)
	}
	return e.mutatePair(ctx, choreID, assigneeID, false, fn)
}

// TryMutate is Mutate that gives up with ErrLocked instead of waiting.
func (e Engine) TryMutate(ctx context.Context, choreID, assigneeID string, fn func(*Tx) error) error {
	if assigneeID == "" {
		return e.mutateChore(ctx, choreID, nil, false, fn)
	}
	return e.mutatePair(ctx, choreID, assigneeID, true, fn)
}

func (e Engine) mutatePair(ctx context.Context, choreID, assigneeID string, try bool, fn func(*Tx) error) error {
	for attempt := 0; attempt < maxRelock; attempt++ {
		c, err := e.Store.GetChore(ctx, choreID)
		if err != nil {
			return err
		}
		key := lockKey(c, assigneeID)
		if try {
			if !e.Locks.TryLock(key) {
				return ErrLocked
			}
		} else {
			e.Locks.Lock(key)
		}
		res, err := e.runLocked(ctx, choreID, assigneeID, key, fn)
		e.Locks.Unlock(key)
		if errors.Is(err, errRelock) {
			continue
		}
		if err != nil {
			return err
		}
		e.afterCommit(ctx, res)
		return nil
	}
	return fmt.Errorf("chore %s: %w", choreID, errRelock)
}

func (e Engine) runLocked(ctx context.Context, choreID, assigneeID, key string, fn func(*Tx) error) (committed, error) {
	snap, err := e.Store.LoadSnapshot(ctx, choreID)
	if err != nil {
		return committed{}, err
	}
	if lockKey(snap.Chore, assigneeID) != key {
		return committed{}, errRelock
	}
	if !snap.Chore.HasAssignee(assigneeID) {
		return committed{}, fmt.Errorf("%s on %s: %w", assigneeID, choreID, ErrNotAssigned)
	}
	scope := []string{assigneeID}
	if key == choreKey(choreID) {
		scope = snap.Chore.Assignees
	}
	tx := e.newTx(snap, true, scope)
	if err := fn(tx); err != nil {
		return committed{}, err
	}
	return e.commit(ctx, tx)
}

// mutateChore locks the chore key and then every pair key of the chore's
// current and extra assignees.
func (e Engine) mutateChore(ctx context.Context, choreID string, extra []string, missingOK bool, fn func(*Tx) error) error {
	ck := choreKey(choreID)
	e.Locks.Lock(ck)
	held := []string{ck}
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			e.Locks.Unlock(held[i])
		}
	}

	res, err := func() (committed, error) {
		snap, err := e.Store.LoadSnapshot(ctx, choreID)
		exists := err == nil
		if err != nil && !(missingOK && errors.Is(err, repo.ErrNotFound)) {
			return committed{}, err
		}
		if !exists {
			snap = domain.Snapshot{Chore: domain.Chore{ID: choreID}, Instances: map[string]domain.Instance{}}
		}
		for _, a := range unionSorted(snap.Chore.Assignees, extra) {
			k := pairKey(choreID, a)
			e.Locks.Lock(k)
			held = append(held, k)
		}
		tx := e.newTx(snap, exists, snap.Chore.Assignees)
		if err := fn(tx); err != nil {
			return committed{}, err
		}
		return e.commit(ctx, tx)
	}()
	release()
	if err != nil {
		return err
	}
	e.afterCommit(ctx, res)
	return nil
}

type committed struct {
	events   []domain.Event
	postings []ledger.Posting
}

func (e Engine) commit(ctx context.Context, tx *Tx) (committed, error) {
	m := tx.mutation()
	if m.Empty() {
		return committed{}, nil
	}
	evts, err := e.Store.Commit(ctx, m)
	if err != nil {
		return committed{}, fmt.Errorf("commit %s: %w", m.ChoreID, err)
	}
	return committed{events: evts, postings: tx.postings}, nil
}

// afterCommit runs once the lock is released.
func (e Engine) afterCommit(ctx context.Context, res committed) {
	if e.Ledger != nil {
		for _, p := range res.postings {
			if err := e.Ledger.Post(ctx, p); err != nil {
				e.Logger.Warn().Err(err).Str("chore", p.ChoreID).Str("assignee", p.AssigneeID).Msg("reward posting failed")
			}
		}
	}
	if e.Publisher != nil && len(res.events) > 0 {
		e.Publisher.Publish(res.events...)
	}
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
