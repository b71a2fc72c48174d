// Package driver runs the pump that advances every enabled session.
package driver

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultIdleSleep is how long the driver yields after a pass that found no
// enabled session.
const DefaultIdleSleep = 10 * time.Millisecond

// Iterator runs one iteration pass and reports whether any session is enabled.
// Implemented by session.Registry.
type Iterator interface {
	IterateOnce() bool
}

// Config holds driver pacing.
type Config struct {
	// IdleSleep is the pause after an idle pass. Zero means DefaultIdleSleep.
	IdleSleep time.Duration
	// PassInterval is the pause after an active pass. Zero loops immediately.
	PassInterval time.Duration
}

// Driver repeatedly calls IterateOnce until its context is cancelled.
type Driver struct {
	it     Iterator
	cfg    Config
	onPass func(active bool)

	running atomic.Bool
	passes  atomic.Uint64
	idle    atomic.Uint64
}

// New creates a driver over it.
func New(it Iterator, cfg Config) *Driver {
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = DefaultIdleSleep
	}
	return &Driver{it: it, cfg: cfg}
}

// OnPass registers fn to run after every pass. Must be called before Run.
func (d *Driver) OnPass(fn func(active bool)) {
	d.onPass = fn
}

// Run drives iteration until ctx is done. An idle registry is normal: the
// driver sleeps briefly and tries again.
func (d *Driver) Run(ctx context.Context) error {
	d.running.Store(true)
	defer d.running.Store(false)

	slog.Info("[Driver] Iteration started",
		"idle_sleep", d.cfg.IdleSleep,
		"pass_interval", d.cfg.PassInterval)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if ctx.Err() != nil {
			slog.Info("[Driver] Iteration stopped", "passes", d.passes.Load())
			return nil
		}

		active := d.it.IterateOnce()
		d.passes.Add(1)
		if d.onPass != nil {
			d.onPass(active)
		}

		wait := d.cfg.PassInterval
		if !active {
			d.idle.Add(1)
			wait = d.cfg.IdleSleep
		}
		if wait <= 0 {
			continue
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			slog.Info("[Driver] Iteration stopped", "passes", d.passes.Load())
			return nil
		case <-timer.C:
		}
	}
}

// Running reports whether Run is executing.
func (d *Driver) Running() bool {
	return d.running.Load()
}

// Passes returns the number of completed passes.
func (d *Driver) Passes() uint64 {
	return d.passes.Load()
}

// IdlePasses returns the number of passes that found nothing enabled.
func (d *Driver) IdlePasses() uint64 {
	return d.idle.Load()
}
