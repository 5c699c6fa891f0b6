package engine

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/kode4food/agentflow/pkg/api"
)

type backoffCalculator func(baseDelay int64, retryCount int) int64

var backoffCalculators = map[string]backoffCalculator{
	api.BackoffTypeFixed: func(base int64, _ int) int64 {
		return base
	},
	api.BackoffTypeLinear: func(base int64, count int) int64 {
		return base * int64(count+1)
	},
	api.BackoffTypeExponential: func(base int64, count int) int64 {
		multiplier := math.Pow(2, float64(count))
		return int64(float64(base) * multiplier)
	},
}

// retryPolicy is the effective retry configuration of one dispatch
type retryPolicy struct {
	api.RetryConfig
	jitter int
}

// resolveRetryConfig overlays a step's retry overrides on the engine default
func resolveRetryConfig(
	base api.RetryConfig, step *api.RetryConfig,
) api.RetryConfig {
	res := base
	if step == nil {
		return res
	}
	if step.MaxAttempts > 0 {
		res.MaxAttempts = step.MaxAttempts
	}
	if step.BackoffMs > 0 {
		res.BackoffMs = step.BackoffMs
	}
	if step.MaxBackoffMs > 0 {
		res.MaxBackoffMs = step.MaxBackoffMs
	}
	if step.BackoffType != "" {
		res.BackoffType = step.BackoffType
	}
	return res
}

// delay returns the wait before the retry following the given attempt
// (zero-based), capped at MaxBackoffMs and spread by jitter percent
func (p retryPolicy) delay(retryCount int) time.Duration {
	calculator, ok := backoffCalculators[p.BackoffType]
	if !ok {
		calculator = backoffCalculators[api.BackoffTypeFixed]
	}

	d := calculator(p.BackoffMs, retryCount)
	if p.MaxBackoffMs > 0 {
		d = min(d, p.MaxBackoffMs)
	}
	return applyJitter(time.Duration(d)*time.Millisecond, p.jitter)
}

func applyJitter(d time.Duration, percent int) time.Duration {
	if percent <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * float64(percent) / 100
	offset := (rand.Float64()*2 - 1) * spread
	return max(0, d+time.Duration(offset))
}
