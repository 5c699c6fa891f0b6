package assert

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/agentflow/internal/config"
	"github.com/kode4food/agentflow/pkg/api"
)

// Wrapper wraps testify assertions with agentflow-specific helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
}

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 10 * time.Millisecond

// New creates a new test assertion wrapper
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
	}
}

// StepValid asserts that a step definition is valid
func (w *Wrapper) StepValid(s *api.StepDefinition) {
	w.Helper()
	w.NoError(s.Validate())
	w.NotEmpty(s.Name)
	if s.Kind.UsesCapability() {
		w.NotEmpty(s.Capability)
	}
}

// StepInvalid asserts that a step definition is invalid with the given cause
func (w *Wrapper) StepInvalid(s *api.StepDefinition, target error) {
	w.Helper()
	err := s.Validate()
	w.Error(err)
	if target != nil {
		w.ErrorIs(err, target)
	}
}

// RunStatus asserts the status of a run snapshot
func (w *Wrapper) RunStatus(st *api.RunState, expected api.RunStatus) {
	w.Helper()
	if w.NotNil(st) {
		w.Equal(expected, st.Status, "run error: %v", st.Error)
	}
}

// RunFailedAt asserts that a run failed at the named step with the given
// error kind
func (w *Wrapper) RunFailedAt(
	st *api.RunState, step string, kind api.ErrorKind,
) {
	w.Helper()
	w.RunStatus(st, api.RunFailed)
	if w.NotNil(st.Error) {
		w.Equal(step, st.Error.Step)
		w.Equal(kind, st.Error.Kind)
	}
}

// ErrorAs asserts that err wraps an error of type T and returns it
func ErrorAs[T error](w *Wrapper, err error) T {
	w.Helper()
	var target T
	w.True(errors.As(err, &target), "expected %T in %v", target, err)
	return target
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.APIPort > 0 && cfg.APIPort <= config.MaxTCPPort)
	w.True(cfg.CallTimeout > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, target error) {
	w.Helper()
	err := cfg.Validate()
	w.Error(err)
	if target != nil {
		w.ErrorIs(err, target)
	}
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}
