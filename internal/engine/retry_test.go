package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/agentflow/pkg/api"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		name     string
		backoff  string
		count    int
		expected time.Duration
	}{
		{"fixed first", api.BackoffTypeFixed, 0, 100 * time.Millisecond},
		{"fixed later", api.BackoffTypeFixed, 3, 100 * time.Millisecond},
		{"linear first", api.BackoffTypeLinear, 0, 100 * time.Millisecond},
		{"linear third", api.BackoffTypeLinear, 2, 300 * time.Millisecond},
		{"exponential first", api.BackoffTypeExponential, 0,
			100 * time.Millisecond},
		{"exponential third", api.BackoffTypeExponential, 2,
			400 * time.Millisecond},
		{"exponential capped", api.BackoffTypeExponential, 10, time.Second},
		{"unknown is fixed", "bogus", 4, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := retryPolicy{
				RetryConfig: api.RetryConfig{
					BackoffType:  tt.backoff,
					BackoffMs:    100,
					MaxBackoffMs: 1000,
				},
			}
			assert.Equal(t, tt.expected, p.delay(tt.count))
		})
	}
}

func TestBackoffUncapped(t *testing.T) {
	p := retryPolicy{
		RetryConfig: api.RetryConfig{
			BackoffType: api.BackoffTypeExponential,
			BackoffMs:   10,
		},
	}
	assert.Equal(t, 10240*time.Millisecond, p.delay(10))
}

func TestApplyJitter(t *testing.T) {
	base := 100 * time.Millisecond

	t.Run("disabled", func(t *testing.T) {
		assert.Equal(t, base, applyJitter(base, 0))
		assert.Equal(t, time.Duration(0), applyJitter(0, 50))
	})

	t.Run("bounded", func(t *testing.T) {
		for range 100 {
			d := applyJitter(base, 20)
			assert.GreaterOrEqual(t, d, 80*time.Millisecond)
			assert.LessOrEqual(t, d, 120*time.Millisecond)
		}
	})

	t.Run("never negative", func(t *testing.T) {
		for range 100 {
			assert.GreaterOrEqual(t, applyJitter(base, 300), time.Duration(0))
		}
	})
}

func TestResolveRetryConfig(t *testing.T) {
	base := api.RetryConfig{
		BackoffType:  api.BackoffTypeExponential,
		MaxAttempts:  3,
		BackoffMs:    100,
		MaxBackoffMs: 5000,
	}

	t.Run("no override", func(t *testing.T) {
		assert.Equal(t, base, resolveRetryConfig(base, nil))
	})

	t.Run("partial override", func(t *testing.T) {
		res := resolveRetryConfig(base, &api.RetryConfig{MaxAttempts: 1})
		assert.Equal(t, 1, res.MaxAttempts)
		assert.Equal(t, int64(100), res.BackoffMs)
		assert.Equal(t, api.BackoffTypeExponential, res.BackoffType)
	})

	t.Run("full override", func(t *testing.T) {
		step := &api.RetryConfig{
			BackoffType:  api.BackoffTypeLinear,
			MaxAttempts:  5,
			BackoffMs:    10,
			MaxBackoffMs: 50,
		}
		assert.Equal(t, *step, resolveRetryConfig(base, step))
	})
}
