package server

import (
	"errors"
	"net/http"

	"github.com/kode4food/agentflow/internal/engine"
	"github.com/kode4food/agentflow/pkg/api"
)

var (
	ErrInvalidJSON     = errors.New("invalid JSON")
	ErrExampleKey      = errors.New("example key required")
	ErrFeedbackPayload = errors.New("feedback payload required")
)

var (
	notFoundErrors = []error{
		engine.ErrFlowNotFound,
		engine.ErrWorkflowNotFound,
		engine.ErrTargetNotFound,
		engine.ErrRunNotFound,
		engine.ErrCapabilityNotFound,
	}

	badRequestErrors = []error{
		engine.ErrInvalidInput,
		engine.ErrInvalidCollection,
		api.ErrInvalidFailurePolicy,
		api.ErrInvalidExampleUpdate,
		api.ErrInvalidExample,
	}
)

// errorStatus maps an engine error to the HTTP status reported for it
func errorStatus(err error) int {
	var conflict *api.ConcurrentUpdateError
	switch {
	case isAny(err, notFoundErrors):
		return http.StatusNotFound
	case isAny(err, badRequestErrors):
		return http.StatusBadRequest
	case errors.As(err, &conflict), errors.Is(err, engine.ErrNoFeedbackWaiter):
		return http.StatusConflict
	case errors.Is(err, engine.ErrEngineStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
