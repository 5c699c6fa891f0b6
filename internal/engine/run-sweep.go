package engine

import (
	"log/slog"
	"time"
)

const (
	minSweepInterval = 10 * time.Millisecond
	maxSweepInterval = time.Minute
)

// sweepRuns evicts root runs that have been terminal for longer than the
// configured retention. Nested runs leave the table with their root. A
// retention of zero keeps every run
func (e *Engine) sweepRuns() {
	retention := e.config.RunRetentionDuration()
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(sweepInterval(retention))
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			e.evictRuns(now.Add(-retention))
		}
	}
}

func (e *Engine) evictRuns(cutoff time.Time) {
	var evicted int
	e.runs.Range(func(_, v any) bool {
		run := v.(*Run)
		if run.isRoot() && run.finishedBefore(cutoff) {
			evicted += e.evictRun(run)
		}
		return true
	})
	if evicted > 0 {
		slog.Debug("Runs evicted", slog.Int("count", evicted))
	}
}

func (e *Engine) evictRun(run *Run) int {
	e.runs.Delete(run.id)
	res := 1
	for _, c := range run.childRuns() {
		res += e.evictRun(c)
	}
	return res
}

func sweepInterval(retention time.Duration) time.Duration {
	return min(max(retention/4, minSweepInterval), maxSweepInterval)
}
