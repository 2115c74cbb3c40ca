// Package scheduler drives periodic scrape runs.
package scheduler

import (
	"context"
	"time"

	"github.com/progscrape/progscrape/internal/ports"
)

// Interval fires a job immediately and then on a fixed period.
type Interval struct {
	period time.Duration
	stop   chan struct{}
}

var _ ports.Scheduler = (*Interval)(nil)

// NewInterval builds a scheduler with the given period.
func NewInterval(period time.Duration) *Interval {
	if period <= 0 {
		period = 30 * time.Minute
	}
	return &Interval{period: period}
}

// Start begins ticking. The first run happens right away so a fresh
// deployment does not wait a full period for content.
func (s *Interval) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	if s.stop != nil {
		return nil
	}

	s.stop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		job(time.Now())
		for {
			select {
			case t := <-ticker.C:
				job(t)
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine.
func (s *Interval) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	close(s.stop)
	s.stop = nil
	return nil
}
