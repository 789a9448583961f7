package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule validates a 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("incident: parse reap schedule %q: %w", expr, err)
	}
	return sched, nil
}

// RunReaper calls m.Reap on every tick of sched until ctx is cancelled.
func (m *Manager) RunReaper(ctx context.Context, sched cron.Schedule) {
	for {
		next := sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if n := m.Reap(ctx); n > 0 {
				m.logger.Info().Int("expired", n).Msg("reaped stale P0 sessions")
			}
		}
	}
}
