package redisstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"choreline/internal/ledger"
)

// Ledger journals reward postings; a posting key guards against repeats.
type Ledger struct {
	client *redis.Client
	prefix string
}

func NewLedger(client *redis.Client, prefix string) *Ledger {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Ledger{client: client, prefix: prefix}
}

func (l *Ledger) postingKey(p ledger.Posting) string {
	return fmt.Sprintf("%s:ledger:posting:%s:%s:%d", l.prefix, p.AssigneeID, p.ChoreID, p.At.UnixNano())
}

func (l *Ledger) totalsKey() string { return l.prefix + ":ledger:totals" }
func (l *Ledger) countsKey() string { return l.prefix + ":ledger:counts" }

func (l *Ledger) Post(ctx context.Context, p ledger.Posting) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	fresh, err := l.client.SetNX(ctx, l.postingKey(p), p.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("post reward: %w", err)
	}
	if !fresh {
		return nil
	}
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrByFloat(ctx, l.totalsKey(), p.AssigneeID, p.Weight)
		pipe.HIncrBy(ctx, l.countsKey(), p.AssigneeID, 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("post reward: %w", err)
	}
	return nil
}

func (l *Ledger) Balances(ctx context.Context) ([]ledger.Balance, error) {
	totals, err := l.client.HGetAll(ctx, l.totalsKey()).Result()
	if err != nil {
		return nil, err
	}
	counts, err := l.client.HGetAll(ctx, l.countsKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Balance, 0, len(totals))
	for assignee, raw := range totals {
		total, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("balance for %s: %w", assignee, err)
		}
		n, _ := strconv.Atoi(counts[assignee])
		out = append(out, ledger.Balance{AssigneeID: assignee, Total: total, Postings: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssigneeID < out[j].AssigneeID })
	return out, nil
}
