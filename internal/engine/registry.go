package engine

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/kode4food/agentflow/pkg/api"
)

// Registry holds the loaded flow, workflow, and agent definitions. Loaded
// definitions are immutable
type Registry struct {
	flows     map[api.FlowID]*api.FlowDefinition
	workflows map[api.WorkflowID]*api.WorkflowDefinition
	agents    map[api.AgentID]*api.AgentDefinition
	mu        sync.RWMutex
}

var (
	ErrFlowNotFound     = errors.New("flow not found")
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrTargetNotFound   = errors.New("agent or flow not found")
	ErrDuplicateID      = errors.New("duplicate definition id")
)

// NewRegistry creates an empty definition registry
func NewRegistry() *Registry {
	return &Registry{
		flows:     map[api.FlowID]*api.FlowDefinition{},
		workflows: map[api.WorkflowID]*api.WorkflowDefinition{},
		agents:    map[api.AgentID]*api.AgentDefinition{},
	}
}

// Flow returns the flow registered under id
func (r *Registry) Flow(id api.FlowID) (*api.FlowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.flows[id]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
}

// Workflow returns the workflow registered under id
func (r *Registry) Workflow(
	id api.WorkflowID,
) (*api.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if w, ok := r.workflows[id]; ok {
		return w, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
}

// Target resolves an agent or flow name to the flow it runs. Agent names
// take precedence
func (r *Registry) Target(name string) (*api.FlowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.target(name)
}

func (r *Registry) target(name string) (*api.FlowDefinition, error) {
	if a, ok := r.agents[api.AgentID(name)]; ok {
		if f, ok := r.flows[a.Flow]; ok {
			return f, nil
		}
		return nil, fmt.Errorf("%w: agent %s uses flow %s",
			ErrTargetNotFound, name, a.Flow)
	}
	if f, ok := r.flows[api.FlowID(name)]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, name)
}

// Flows returns all registered flows ordered by id
func (r *Registry) Flows() []*api.FlowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*api.FlowDefinition, 0, len(r.flows))
	for _, id := range slices.Sorted(maps.Keys(r.flows)) {
		res = append(res, r.flows[id])
	}
	return res
}

// Workflows returns all registered workflows ordered by id
func (r *Registry) Workflows() []*api.WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*api.WorkflowDefinition, 0, len(r.workflows))
	for _, id := range slices.Sorted(maps.Keys(r.workflows)) {
		res = append(res, r.workflows[id])
	}
	return res
}

// Agents returns all registered agents ordered by id
func (r *Registry) Agents() []*api.AgentDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*api.AgentDefinition, 0, len(r.agents))
	for _, id := range slices.Sorted(maps.Keys(r.agents)) {
		res = append(res, r.agents[id])
	}
	return res
}

// stage returns a copy of the registry with defs merged in. Definitions
// replace earlier ones with the same id; duplicates within defs are errors
func (r *Registry) stage(defs *api.Definitions) (*Registry, error) {
	r.mu.RLock()
	res := &Registry{
		flows:     maps.Clone(r.flows),
		workflows: maps.Clone(r.workflows),
		agents:    maps.Clone(r.agents),
	}
	r.mu.RUnlock()

	seen := map[string]bool{}
	mark := func(kind, id string) error {
		key := kind + "/" + id
		if seen[key] {
			return fmt.Errorf("%w: %s %s", ErrDuplicateID, kind, id)
		}
		seen[key] = true
		return nil
	}

	for _, f := range defs.Flows {
		if err := mark("flow", string(f.ID)); err != nil {
			return nil, err
		}
		res.flows[f.ID] = f
	}
	for _, w := range defs.Workflows {
		if err := mark("workflow", string(w.ID)); err != nil {
			return nil, err
		}
		res.workflows[w.ID] = w
	}
	for _, a := range defs.Agents {
		if err := mark("agent", string(a.ID)); err != nil {
			return nil, err
		}
		res.agents[a.ID] = a
	}
	return res, nil
}

func (r *Registry) commit(staged *Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows = staged.flows
	r.workflows = staged.workflows
	r.agents = staged.agents
}
