package archive_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gocloud.dev/blob"

	"github.com/kode4food/agentflow/internal/archive"
	"github.com/kode4food/agentflow/pkg/api"
)

func TestBlobArchiver(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	assert.NoError(t, err)

	a, err := archive.New(bucket, "test")
	assert.NoError(t, err)
	defer func() { _ = a.Close() }()

	t.Run("missing run", func(t *testing.T) {
		_, err := a.Get(ctx, "nope")
		assert.ErrorIs(t, err, archive.ErrRunNotArchived)
	})

	t.Run("round trip", func(t *testing.T) {
		st := &api.RunState{
			ID:        "run-1",
			Kind:      api.RunKindFlow,
			Target:    "process_filing",
			Status:    api.RunFailed,
			CreatedAt: time.Unix(1700000000, 0).UTC(),
			Error: &api.RunError{
				Step:    "classify",
				Kind:    api.KindExternalCall,
				Message: "boom",
			},
		}
		assert.NoError(t, a.Archive(ctx, st))

		exists, err := bucket.Exists(ctx, "test/runs/run-1.json")
		assert.NoError(t, err)
		assert.True(t, exists)

		got, err := a.Get(ctx, "run-1")
		assert.NoError(t, err)
		assert.Equal(t, st.Status, got.Status)
		assert.Equal(t, st.Error, got.Error)
		assert.Equal(t, st.Target, got.Target)
	})

	t.Run("nil state", func(t *testing.T) {
		assert.ErrorIs(t, a.Archive(ctx, nil), archive.ErrRunStateRequired)
	})
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := archive.New(nil, "")
	assert.ErrorIs(t, err, archive.ErrBucketRequired)
}

func TestOpen(t *testing.T) {
	a, err := archive.Open(context.Background(), "mem://", "")
	assert.NoError(t, err)
	assert.NoError(t, a.Archive(context.Background(), &api.RunState{ID: "x"}))
	assert.NoError(t, a.Close())
}
