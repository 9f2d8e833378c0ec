package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"choreline/internal/config"
	"choreline/internal/scanner"
)

type fakeSweeper struct {
	ticks     atomic.Int32
	rollovers atomic.Int32
	block     chan struct{}
	entered   chan struct{}
}

func (f *fakeSweeper) Tick(ctx context.Context) (scanner.Report, error) {
	f.ticks.Add(1)
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	return scanner.Report{Sweep: scanner.SweepTick}, nil
}

func (f *fakeSweeper) Rollover(ctx context.Context) (scanner.Report, error) {
	f.rollovers.Add(1)
	return scanner.Report{Sweep: scanner.SweepRollover}, nil
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New(&fakeSweeper{}, config.ScannerConfig{Tick: "whenever"}, time.UTC, zerolog.Nop())
	assert.Error(t, err)
}

func TestRunDispatchesSweeps(t *testing.T) {
	sw := &fakeSweeper{}
	s, err := New(sw, config.ScannerConfig{}, time.UTC, zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, s.Run(scanner.SweepTick))
	assert.True(t, s.Run(scanner.SweepRollover))
	assert.True(t, s.Run(scanner.SweepRollover))
	assert.EqualValues(t, 1, sw.ticks.Load())
	assert.EqualValues(t, 2, sw.rollovers.Load())
}

func TestOverlappingSweepIsSkipped(t *testing.T) {
	sw := &fakeSweeper{block: make(chan struct{}), entered: make(chan struct{})}
	s, err := New(sw, config.ScannerConfig{}, time.UTC, zerolog.Nop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(scanner.SweepTick)
	}()
	<-sw.entered
	assert.False(t, s.Run(scanner.SweepTick))
	assert.True(t, s.Run(scanner.SweepRollover))
	close(sw.block)
	wg.Wait()
	assert.EqualValues(t, 1, sw.ticks.Load())
}

func TestRolloverScheduledAtLocalMidnight(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	s, err := New(&fakeSweeper{}, config.ScannerConfig{Tick: "@every 1h"}, loc, zerolog.Nop())
	require.NoError(t, err)
	s.Start(context.Background())
	defer s.Stop()

	next := s.Next(scanner.SweepRollover).In(loc)
	assert.Equal(t, 0, next.Hour())
	assert.Equal(t, 0, next.Minute())
	assert.True(t, next.After(time.Now()))
}
