package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/kode4food/agentflow/internal/util"
	"github.com/kode4food/agentflow/pkg/api"
	"github.com/kode4food/agentflow/pkg/log"
)

// FeedbackMutator applies human feedback to versioned example stores. Writers
// for the same store key are serialized; each write is a compare-and-set on
// the record version, retried a bounded number of times
type FeedbackMutator struct {
	caps        *Capabilities
	locks       *util.KeyedMutex
	now         func() time.Time
	maxAttempts int
}

const defaultFeedbackAttempts = 5

// NewFeedbackMutator creates a mutator over the registered example stores
func NewFeedbackMutator(caps *Capabilities, maxAttempts int) *FeedbackMutator {
	if maxAttempts <= 0 {
		maxAttempts = defaultFeedbackAttempts
	}
	return &FeedbackMutator{
		caps:        caps,
		locks:       util.NewKeyedMutex(),
		now:         time.Now,
		maxAttempts: maxAttempts,
	}
}

// Apply merges the update into the record stored under key and returns the
// committed record. When the update carries an expected version that is no
// longer current, Apply fails immediately with ConcurrentUpdateError
func (m *FeedbackMutator) Apply(
	ctx context.Context, store, key string, upd *api.ExampleUpdate,
) (*api.ExampleRecord, error) {
	examples, err := m.caps.ExampleStore(store)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(store + "/" + key)
	defer unlock()

	var last int64
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cur, version, err := examples.Read(ctx, key)
		if err != nil {
			return nil, err
		}
		last = version

		if upd.ExpectedVersion != nil && *upd.ExpectedVersion != version {
			feedbackTotal.WithLabelValues("conflict").Inc()
			return nil, &api.ConcurrentUpdateError{
				Key:      key,
				Attempts: attempt,
				Expected: *upd.ExpectedVersion,
				Actual:   version,
			}
		}

		next := cur.Apply(key, upd, m.now())
		next.Version = version + 1
		ok, err := examples.WriteIfVersion(ctx, key, version, next)
		if err != nil {
			return nil, err
		}
		if ok {
			feedbackTotal.WithLabelValues("committed").Inc()
			slog.Info("Feedback applied",
				slog.String("store", store),
				slog.String("key", key),
				slog.Int64("version", next.Version),
				slog.Int("attempt", attempt))
			return next, nil
		}

		feedbackTotal.WithLabelValues("stale").Inc()
		slog.Debug("Feedback write stale",
			slog.String("store", store),
			slog.String("key", key),
			slog.Int64("version", version),
			slog.Int("attempt", attempt))
	}

	actual := last
	if _, v, err := examples.Read(ctx, key); err == nil {
		actual = v
	}
	feedbackTotal.WithLabelValues("conflict").Inc()
	err = &api.ConcurrentUpdateError{
		Key:      key,
		Attempts: m.maxAttempts,
		Expected: last,
		Actual:   actual,
	}
	slog.Warn("Feedback write failed", log.Error(err))
	return nil, err
}
