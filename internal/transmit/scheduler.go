package transmit

import (
	"context"
	"sync"
	"time"
)

// Scheduler suspends the sender between writes.
type Scheduler interface {
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realScheduler struct{}

func (realScheduler) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// VirtualScheduler advances a virtual clock instead of sleeping.
type VirtualScheduler struct {
	mu      sync.Mutex
	elapsed time.Duration
}

func (v *VirtualScheduler) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	v.elapsed += d
	v.mu.Unlock()
	return nil
}

// Elapsed returns the total virtual time slept.
func (v *VirtualScheduler) Elapsed() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.elapsed
}
