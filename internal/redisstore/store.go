// Package redisstore keeps chores, instances, rotation state, the audit log
// and reward postings in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"choreline/internal/domain"
	"choreline/internal/events"
	"choreline/internal/repo"
)

const defaultPrefix = "choreline"

type Store struct {
	client *redis.Client
	prefix string
	Now    func() time.Time
}

func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix, Now: time.Now}
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *Store) choreKey(id string) string { return s.key("chore", id) }
func (s *Store) indexKey() string { return s.key("chores") }
func (s *Store) instancesKey(id string) string { return s.key("instances", id) }
func (s *Store) rotationKey(id string) string { return s.key("rotation", id) }
func (s *Store) eventsKey() string { return s.key("events") }
func (s *Store) seqKey() string { return s.key("events", "seq") }

func (s *Store) GetChore(ctx context.Context, id string) (domain.Chore, error) {
	var c domain.Chore
	data, err := s.client.Get(ctx, s.choreKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return c, fmt.Errorf("chore %s: %w", id, repo.ErrNotFound)
		}
		return c, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode chore %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) ListChores(ctx context.Context) ([]domain.Chore, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	var chores []domain.Chore
	for _, id := range ids {
		c, err := s.GetChore(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		chores = append(chores, c)
	}
	return chores, nil
}

func (s *Store) LoadSnapshot(ctx context.Context, choreID string) (domain.Snapshot, error) {
	c, err := s.GetChore(ctx, choreID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap := domain.Snapshot{Chore: c, Instances: map[string]domain.Instance{}}
	raw, err := s.client.HGetAll(ctx, s.instancesKey(choreID)).Result()
	if err != nil {
		return snap, err
	}
	for assignee, data := range raw {
		var inst domain.Instance
		if err := json.Unmarshal([]byte(data), &inst); err != nil {
			return snap, fmt.Errorf("decode instance %s/%s: %w", choreID, assignee, err)
		}
		snap.Instances[assignee] = inst
	}
	data, err := s.client.Get(ctx, s.rotationKey(choreID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return snap, err
	default:
		var rs domain.RotationState
		if err := json.Unmarshal(data, &rs); err != nil {
			return snap, fmt.Errorf("decode rotation %s: %w", choreID, err)
		}
		snap.Rotation = &rs
	}
	return snap, nil
}

// Commit writes m in one MULTI/EXEC block. Event sequence numbers are reserved
// beforehand, so an aborted commit leaves a gap.
func (s *Store) Commit(ctx context.Context, m domain.Mutation) ([]domain.Event, error) {
	if m.Delete {
		n, err := s.client.Exists(ctx, s.choreKey(m.ChoreID)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("chore %s: %w", m.ChoreID, repo.ErrNotFound)
		}
	}

	committed := make([]domain.Event, 0, len(m.Events))
	if len(m.Events) > 0 {
		last, err := s.client.IncrBy(ctx, s.seqKey(), int64(len(m.Events))).Result()
		if err != nil {
			return nil, fmt.Errorf("reserve event sequence: %w", err)
		}
		first := last - int64(len(m.Events)) + 1
		for i, evt := range m.Events {
			evt = events.Stamp(evt, s.Now)
			evt.Seq = first + int64(i)
			committed = append(committed, evt)
		}
	}

	var chore []byte
	if m.Chore != nil {
		var err error
		if chore, err = json.Marshal(m.Chore); err != nil {
			return nil, fmt.Errorf("encode chore: %w", err)
		}
	}
	var rotation []byte
	if m.Rotation != nil {
		var err error
		if rotation, err = json.Marshal(m.Rotation); err != nil {
			return nil, fmt.Errorf("encode rotation: %w", err)
		}
	}
	instances := make([]any, 0, 2*len(m.Instances))
	for _, inst := range m.Instances {
		data, err := json.Marshal(inst)
		if err != nil {
			return nil, fmt.Errorf("encode instance: %w", err)
		}
		instances = append(instances, inst.AssigneeID, data)
	}
	evts := make([]redis.Z, 0, len(committed))
	for _, evt := range committed {
		data, err := json.Marshal(evt)
		if err != nil {
			return nil, fmt.Errorf("encode event: %w", err)
		}
		evts = append(evts, redis.Z{Score: float64(evt.Seq), Member: data})
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if m.Delete {
			pipe.Del(ctx, s.choreKey(m.ChoreID), s.instancesKey(m.ChoreID), s.rotationKey(m.ChoreID))
			pipe.SRem(ctx, s.indexKey(), m.ChoreID)
		}
		if chore != nil {
			pipe.Set(ctx, s.choreKey(m.ChoreID), chore, 0)
			pipe.SAdd(ctx, s.indexKey(), m.ChoreID)
		}
		if len(m.DropInstances) > 0 {
			pipe.HDel(ctx, s.instancesKey(m.ChoreID), m.DropInstances...)
		}
		if len(instances) > 0 {
			pipe.HSet(ctx, s.instancesKey(m.ChoreID), instances...)
		}
		if m.ClearRotation {
			pipe.Del(ctx, s.rotationKey(m.ChoreID))
		}
		if rotation != nil {
			pipe.Set(ctx, s.rotationKey(m.ChoreID), rotation, 0)
		}
		if len(evts) > 0 {
			pipe.ZAdd(ctx, s.eventsKey(), evts...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", m.ChoreID, err)
	}
	return committed, nil
}

const eventPage = 200

// Events scans the audit log newest first, filtering client side.
func (s *Store) Events(ctx context.Context, q domain.EventQuery) ([]domain.Event, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	max := "+inf"
	if q.BeforeSeq > 0 {
		max = "(" + strconv.FormatInt(q.BeforeSeq, 10)
	}
	var out []domain.Event
	for offset := int64(0); len(out) < limit; offset += eventPage {
		page, err := s.client.ZRevRangeByScore(ctx, s.eventsKey(), &redis.ZRangeBy{
			Max: max, Min: "-inf", Offset: offset, Count: eventPage,
		}).Result()
		if err != nil {
			return nil, err
		}
		for _, raw := range page {
			var evt domain.Event
			if err := json.Unmarshal([]byte(raw), &evt); err != nil {
				return nil, fmt.Errorf("decode event: %w", err)
			}
			if !matches(evt, q) {
				continue
			}
			out = append(out, evt)
			if len(out) == limit {
				break
			}
		}
		if len(page) < eventPage {
			break
		}
	}
	return out, nil
}

func matches(evt domain.Event, q domain.EventQuery) bool {
	if q.ChoreID != "" && evt.ChoreID != q.ChoreID {
		return false
	}
	if q.AssigneeID != "" && evt.AssigneeID != q.AssigneeID {
		return false
	}
	if q.Type != "" && string(evt.Type) != q.Type {
		return false
	}
	return true
}
