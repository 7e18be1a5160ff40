package harvester

import (
	"context"
	"time"

	"github.com/aluiziolira/go-harvest-places/config"
)

// PaceKind identifies which throttle applies.
type PaceKind string

const (
	BetweenDetails PaceKind = "between_details"
	BetweenPages   PaceKind = "between_pages"
)

// Pacer blocks between provider calls to stay under rate limits.
type Pacer interface {
	Wait(ctx context.Context, kind PaceKind) error
}

// SleepPacer waits a fixed interval per kind.
type SleepPacer struct {
	Details time.Duration
	Pages   time.Duration
}

// NewSleepPacer builds a pacer from cfg.
func NewSleepPacer(cfg *config.Config) SleepPacer {
	return SleepPacer{Details: cfg.DetailDelay, Pages: cfg.PageDelay}
}

func (p SleepPacer) Wait(ctx context.Context, kind PaceKind) error {
	d := p.Details
	if kind == BetweenPages {
		d = p.Pages
	}
	return sleep(ctx, d)
}

// NoopPacer never waits.
type NoopPacer struct{}

func (NoopPacer) Wait(ctx context.Context, _ PaceKind) error {
	return ctx.Err()
}

func sleep(ctx context.Context, d time.Duration) error {
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
