package driver

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sebas/grav/internal/grav/session"
	"github.com/sebas/grav/internal/grav/session/sessiontest"
)

type countingIterator struct {
	calls  atomic.Int64
	active atomic.Bool
}

func (c *countingIterator) IterateOnce() bool {
	c.calls.Add(1)
	return c.active.Load()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	it := &countingIterator{}
	it.active.Store(true)
	d := New(it, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	waitFor(t, func() bool { return it.calls.Load() > 100 })
	if !d.Running() {
		t.Error("Running() = false while Run executes")
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if d.Running() {
		t.Error("Running() = true after Run returned")
	}
}

func TestRunYieldsWhenIdle(t *testing.T) {
	it := &countingIterator{}
	d := New(it, Config{IdleSleep: 20 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	_ = d.Run(ctx)

	// ~6 passes at 20ms spacing; a hot spin would make thousands.
	if n := it.calls.Load(); n < 2 || n > 20 {
		t.Errorf("idle passes = %d, want a handful", n)
	}
	if d.IdlePasses() != d.Passes() {
		t.Errorf("IdlePasses() = %d, Passes() = %d", d.IdlePasses(), d.Passes())
	}
}

func TestOnPassHook(t *testing.T) {
	it := &countingIterator{}
	it.active.Store(true)
	d := New(it, Config{PassInterval: time.Millisecond})

	var active atomic.Int64
	d.OnPass(func(a bool) {
		if a {
			active.Add(1)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = d.Run(ctx) }()
	waitFor(t, func() bool { return active.Load() >= 5 })
	cancel()
}

func TestDriverAdvancesRegistry(t *testing.T) {
	f := sessiontest.NewFactory()
	reg := session.NewRegistry(f, &sessiontest.Listener{}, &sessiontest.Listener{})
	if err := reg.Create("224.2.224.225:20002", session.KindVideo); err != nil {
		t.Fatal(err)
	}
	d := New(reg, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	h := f.Last("224.2.224.225:20002")
	waitFor(t, func() bool { return len(h.Iterations()) >= 10 })

	// Control operations still get through while the driver spins.
	if err := reg.Create("224.2.224.225:20004", session.KindAudio); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetEnabled("224.2.224.225:20002", false); err != nil {
		t.Fatal(err)
	}
	cancel()
	<-done

	reg.Close()
	its := h.Iterations()
	for i := 1; i < len(its); i++ {
		if its[i] != its[i-1]+1 {
			t.Fatalf("counter skipped: %d then %d", its[i-1], its[i])
		}
	}
	if h.DestroyCount() != 1 {
		t.Errorf("DestroyCount() = %d after Close", h.DestroyCount())
	}
}
