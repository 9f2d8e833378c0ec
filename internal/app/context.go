// Package app wires a household workspace: config, store, ledger, event bus,
// engine, scanner and webhook sink.
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"choreline/internal/config"
	"choreline/internal/db"
	"choreline/internal/domain"
	"choreline/internal/engine"
	"choreline/internal/events"
	"choreline/internal/ledger"
	"choreline/internal/logging"
	"choreline/internal/migrate"
	"choreline/internal/notify"
	"choreline/internal/redisstore"
	"choreline/internal/repo"
	"choreline/internal/scanner"
)

type Options struct {
	// LogLevel overrides config.log.level when set.
	LogLevel string
	// LogWriter overrides the configured log destination.
	LogWriter io.Writer
}

type App struct {
	Workspace string
	Config    *config.Config
	Engine    engine.Engine
	Balances  ledger.Balancer
	Bus       *events.Bus
	Scanner   *scanner.Scanner
	Logger    zerolog.Logger

	closers []func()
}

// Open loads the workspace config (falling back to the built-in template) and
// connects the configured store.
func Open(ctx context.Context, workspace string, opts Options) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	return OpenConfig(ctx, workspace, cfg, opts)
}

func OpenConfig(ctx context.Context, workspace string, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Workspace: workspace, Config: cfg}

	level := cfg.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, closeLog, err := logging.New(level, cfg.Log.File)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.closers = append(a.closers, closeLog)
	if opts.LogWriter != nil {
		logger = logger.Output(opts.LogWriter)
	}
	logger = logger.With().Str("household", cfg.Household.ID).Logger()
	a.Logger = logger

	store, lg, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Bus = events.NewBus(0, logging.Component(logger, "bus"))
	a.closers = append(a.closers, a.Bus.Close)
	if len(cfg.Webhooks) > 0 {
		detach := notify.New(cfg.Household.ID, cfg.Webhooks, logging.Component(logger, "notify")).Attach(a.Bus)
		a.closers = append(a.closers, detach)
	}

	e := engine.New(store, cfg)
	e.Ledger = lg
	e.Publisher = a.Bus
	e.Logger = logging.Component(logger, "engine")
	a.Engine = e
	if b, ok := lg.(ledger.Balancer); ok {
		a.Balances = b
	}
	a.Scanner = scanner.New(e, cfg.Scanner, logging.Component(logger, "scanner"))
	return a, nil
}

func (a *App) openStore(ctx context.Context) (engine.Store, ledger.Ledger, error) {
	switch a.Config.Store.Driver {
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: a.Config.Store.RedisAddr, DB: a.Config.Store.RedisDB})
		a.closers = append(a.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect redis %s: %w", a.Config.Store.RedisAddr, err)
		}
		prefix := a.Config.Store.RedisPrefix
		return redisstore.New(client, prefix), redisstore.NewLedger(client, prefix), nil
	default:
		conn, err := db.Open(db.Config{Workspace: a.Workspace})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		if err := migrate.MigrateContext(ctx, conn); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return repo.New(conn), repo.Ledger{DB: conn}, nil
	}
}

// Close releases everything Open acquired, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

type SyncResult struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}

// SyncChores saves every chore whose definition differs from the stored one.
func (a *App) SyncChores(ctx context.Context, chores []domain.Chore, actorID string) (SyncResult, error) {
	var res SyncResult
	for _, c := range chores {
		c.Normalize()
		existing, err := a.Engine.GetChore(ctx, c.ID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			res.Created = append(res.Created, c.ID)
		case err != nil:
			return res, err
		case sameDefinition(existing, inheritAnchor(c, existing)):
			res.Unchanged = append(res.Unchanged, c.ID)
			continue
		default:
			res.Updated = append(res.Updated, c.ID)
		}
		if _, err := a.Engine.SaveChore(ctx, c, actorID); err != nil {
			return res, fmt.Errorf("save chore %s: %w", c.ID, err)
		}
	}
	return res, nil
}

// inheritAnchor fills an open monthly anchor from the stored chore, which
// SaveChore would keep anyway.
func inheritAnchor(c, existing domain.Chore) domain.Chore {
	if c.Recurrence.CalendarMonthly() && c.Recurrence.DayOfMonth == 0 && existing.Recurrence.CalendarMonthly() {
		c.Recurrence.DayOfMonth = existing.Recurrence.DayOfMonth
	}
	return c
}

// sameDefinition compares the JSON forms so nil and empty lists match.
func sameDefinition(a, b domain.Chore) bool {
	return bytes.Equal(definitionJSON(a), definitionJSON(b))
}

func definitionJSON(c domain.Chore) []byte {
	c.CreatedAt, c.UpdatedAt = time.Time{}, time.Time{}
	if c.DueAt != nil {
		due := c.DueAt.UTC()
		c.DueAt = &due
	}
	data, _ := json.Marshal(c)
	return data
}
