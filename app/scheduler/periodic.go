package scheduler

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// periodicTask runs tickFn on a fixed interval while armed. Ticks of one task never overlap.
// A task may disarm itself from inside its own tick.
type periodicTask struct {
	name     string
	interval time.Duration
	tickFn   func(context.Context)
	logger   *log.Logger
	onChange func(name string, active bool)

	active atomic.Bool
	kick   chan struct{}
}

func newPeriodicTask(name string, interval time.Duration, tickFn func(context.Context), logger *log.Logger, onChange func(string, bool)) *periodicTask {
	return &periodicTask{
		name:     name,
		interval: interval,
		tickFn:   tickFn,
		logger:   logger,
		onChange: onChange,
		kick:     make(chan struct{}, 1),
	}
}

// Activate arms the task; it reports whether the task was inactive before
func (t *periodicTask) Activate() bool {
	if !t.active.CompareAndSwap(false, true) {
		return false
	}
	t.logger.Printf("scheduler: %s activated", t.name)
	if t.onChange != nil {
		t.onChange(t.name, true)
	}
	return true
}

// Deactivate disarms the task; it reports whether the task was active before
func (t *periodicTask) Deactivate() bool {
	if !t.active.CompareAndSwap(true, false) {
		return false
	}
	t.logger.Printf("scheduler: %s deactivated", t.name)
	if t.onChange != nil {
		t.onChange(t.name, false)
	}
	return true
}

func (t *periodicTask) IsActive() bool {
	return t.active.Load()
}

// Trigger asks for a tick as soon as the loop is free, without waiting for the ticker
func (t *periodicTask) Trigger() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// run blocks until ctx is done
func (t *periodicTask) run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Printf("scheduler: %s loop started interval=%s", t.name, t.interval)
	for {
		select {
		case <-ctx.Done():
			t.logger.Printf("scheduler: %s loop stopped", t.name)
			return
		case <-ticker.C:
		case <-t.kick:
		}
		if t.active.Load() {
			t.safeTick(ctx)
		}
	}
}

func (t *periodicTask) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Printf("scheduler: %s tick panic recovered: %v", t.name, r)
		}
	}()
	t.tickFn(ctx)
}
