package capture

import (
	"context"
	"time"
)

// pacer spaces out reads to a fixed interval. Missed slots are not made up for,
// the schedule restarts from now when the reader falls behind.
type pacer struct {
	interval time.Duration
	next     time.Time
}

func newPacer(interval time.Duration) *pacer {
	return &pacer{interval: interval}
}

func (p *pacer) wait(ctx context.Context, done <-chan struct{}) error {
	now := time.Now()
	if p.next.IsZero() || p.next.Before(now.Add(-p.interval)) {
		p.next = now
	}

	if d := p.next.Sub(now); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return errDeviceClosed
		}
	} else {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return errDeviceClosed
		default:
		}
	}

	p.next = p.next.Add(p.interval)
	return nil
}
