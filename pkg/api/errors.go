package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies run failures for reporting
type ErrorKind string

const (
	KindUnresolvedVariable ErrorKind = "unresolved_variable"
	KindExternalCall       ErrorKind = "external_call"
	KindSchemaMismatch     ErrorKind = "schema_mismatch"
	KindDelegation         ErrorKind = "delegation"
	KindConcurrentUpdate   ErrorKind = "concurrent_update"
	KindPartialFailure     ErrorKind = "partial_failure"
	KindFanOut             ErrorKind = "fan_out"
	KindCancelled          ErrorKind = "cancelled"
	KindTimeout            ErrorKind = "timeout"
	KindInternal           ErrorKind = "internal"
)

var (
	ErrRunCancelled = errors.New("run cancelled")
	ErrRunTimeout   = errors.New("run timed out")
	ErrRebind       = errors.New("name already bound")
)

type (
	// UnresolvedVariableError reports a template reference to an unbound
	// name. It is never retried
	UnresolvedVariableError struct {
		Path string
	}

	// ExternalCallError reports a failed capability call
	ExternalCallError struct {
		Err        error
		Capability string
		Attempts   int
		Retryable  bool
	}

	// SchemaMismatchError reports an external response that does not match
	// its declared shape
	SchemaMismatchError struct {
		Field    string
		Expected TypeName
		Actual   TypeName
	}

	// DelegationError reports a failed nested run
	DelegationError struct {
		Err    error
		Nested *RunError
		Target string
		RunID  RunID
	}

	// ConcurrentUpdateError reports a feedback write that lost the version
	// race
	ConcurrentUpdateError struct {
		Key      string
		Attempts int
		Expected int64
		Actual   int64
	}

	// PartialFailure is the best-effort fan-out result when at least one
	// element failed
	PartialFailure struct {
		Outcomes []*ElementOutcome
	}

	// FanOutError is the fail-fast fan-out aggregate error
	FanOutError struct {
		Failures []*ElementOutcome
	}

	// StepError attaches the failing step to a step-local error
	StepError struct {
		Err  error
		Step string
		Kind StepKind
	}
)

func (e *UnresolvedVariableError) Error() string {
	return "unresolved variable: " + e.Path
}

func (e *ExternalCallError) Error() string {
	var sb strings.Builder
	sb.WriteString("external call failed")
	if e.Capability != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Capability)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&sb, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ExternalCallError) Unwrap() error {
	return e.Err
}

func (e *SchemaMismatchError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema mismatch: expected %s, got %s",
			e.Expected, e.Actual)
	}
	return fmt.Sprintf("schema mismatch: %s expected %s, got %s",
		e.Field, e.Expected, e.Actual)
}

func (e *DelegationError) Error() string {
	return fmt.Sprintf("delegation to %s failed: %v", e.Target, e.Err)
}

func (e *DelegationError) Unwrap() error {
	return e.Err
}

func (e *ConcurrentUpdateError) Error() string {
	return fmt.Sprintf(
		"concurrent update of %s: expected version %d, found %d after %d "+
			"attempts", e.Key, e.Expected, e.Actual, e.Attempts,
	)
}

func (e *PartialFailure) Error() string {
	failed := FailedIDs(e.Outcomes)
	return fmt.Sprintf("partial failure: %d of %d elements failed: %s",
		len(failed), len(e.Outcomes), strings.Join(failed, ", "))
}

func (e *FanOutError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msg := ""
		if f.Error != nil {
			msg = f.Error.Message
		}
		parts[i] = fmt.Sprintf("%s: %s", f.ID, msg)
	}
	return "fan-out failed: " + strings.Join(parts, "; ")
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedIDs returns the ids of the failed outcomes in input order
func FailedIDs(outcomes []*ElementOutcome) []string {
	var res []string
	for _, o := range outcomes {
		if o != nil && !o.Succeeded() {
			res = append(res, o.ID)
		}
	}
	return res
}

// KindOf classifies an error for reporting
func KindOf(err error) ErrorKind {
	var (
		unresolved *UnresolvedVariableError
		external   *ExternalCallError
		schema     *SchemaMismatchError
		delegation *DelegationError
		concurrent *ConcurrentUpdateError
		partial    *PartialFailure
		fanOut     *FanOutError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &delegation):
		return KindDelegation
	case errors.As(err, &unresolved):
		return KindUnresolvedVariable
	case errors.As(err, &schema):
		return KindSchemaMismatch
	case errors.As(err, &concurrent):
		return KindConcurrentUpdate
	case errors.As(err, &partial):
		return KindPartialFailure
	case errors.As(err, &fanOut):
		return KindFanOut
	case errors.Is(err, ErrRunCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrRunTimeout):
		return KindTimeout
	case errors.As(err, &external):
		return KindExternalCall
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternal
	}
}

// IsRetryable reports whether an error may succeed on another attempt
func IsRetryable(err error) bool {
	var external *ExternalCallError
	if errors.As(err, &external) {
		return external.Retryable
	}
	return false
}

// NewRunError builds the user-visible description of a run failure
func NewRunError(err error) *RunError {
	if err == nil {
		return nil
	}
	res := &RunError{
		Kind:    KindOf(err),
		Message: err.Error(),
	}
	var step *StepError
	if errors.As(err, &step) {
		res.Step = step.Step
	}
	var fanOut *FanOutError
	if errors.As(err, &fanOut) {
		for _, f := range fanOut.Failures {
			res.Failed = append(res.Failed, f.ID)
		}
	}
	var partial *PartialFailure
	if errors.As(err, &partial) {
		res.Failed = FailedIDs(partial.Outcomes)
	}
	return res
}
