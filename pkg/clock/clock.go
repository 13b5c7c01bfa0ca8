package clock

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts wall-clock reads and waits so slot and delay logic can be
// tested without real sleeps.
type Clock interface {
	Now() time.Time
	SleepUntil(ctx context.Context, t time.Time) error
}

// Sleep waits for d on c, returning early with ctx's error.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return c.SleepUntil(ctx, c.Now().Add(d))
}

type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) SleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fake is a manually driven clock. SleepUntil advances the fake time
// immediately and records the requested wait.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	onWake func(time.Time)
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// OnWake registers a hook called after each SleepUntil with the new time.
func (f *Fake) OnWake(fn func(time.Time)) {
	f.mu.Lock()
	f.onWake = fn
	f.mu.Unlock()
}

func (f *Fake) SleepUntil(ctx context.Context, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if t.After(f.now) {
		f.sleeps = append(f.sleeps, t.Sub(f.now))
		f.now = t
	}
	now, hook := f.now, f.onWake
	f.mu.Unlock()
	if hook != nil {
		hook(now)
	}
	return ctx.Err()
}

func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}
