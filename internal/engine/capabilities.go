package engine

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/kode4food/agentflow/pkg/api"
)

type (
	// Capabilities is the registry of named external collaborators that
	// steps dispatch to. Each flow step names the capability it uses
	Capabilities struct {
		prompts   *registry[api.PromptSource]
		memory    *registry[api.MemoryStore]
		remotes   *registry[api.RemoteEndpoint]
		resources *registry[api.ResourceLoader]
		models    *registry[api.ModelAsker]
		feedback  *registry[api.UIFeedback]
		examples  *registry[api.ExampleStore]
	}

	// FeedbackReceiver is implemented by UIFeedback capabilities that accept
	// feedback delivered out of band, such as through the HTTP API
	FeedbackReceiver interface {
		Deliver(runID api.RunID, step string, payload any) bool
	}

	registry[T any] struct {
		items map[string]T
		mu    sync.RWMutex
	}
)

var (
	ErrCapabilityNotFound = errors.New("capability not found")
	ErrCapabilityName     = errors.New("capability name empty")
)

// NewCapabilities creates an empty capability registry
func NewCapabilities() *Capabilities {
	return &Capabilities{
		prompts:   newRegistry[api.PromptSource](),
		memory:    newRegistry[api.MemoryStore](),
		remotes:   newRegistry[api.RemoteEndpoint](),
		resources: newRegistry[api.ResourceLoader](),
		models:    newRegistry[api.ModelAsker](),
		feedback:  newRegistry[api.UIFeedback](),
		examples:  newRegistry[api.ExampleStore](),
	}
}

func (c *Capabilities) RegisterPromptSource(name string, p api.PromptSource) {
	c.prompts.put(name, p)
}

func (c *Capabilities) RegisterMemoryStore(name string, m api.MemoryStore) {
	c.memory.put(name, m)
}

func (c *Capabilities) RegisterRemoteEndpoint(
	name string, r api.RemoteEndpoint,
) {
	c.remotes.put(name, r)
}

func (c *Capabilities) RegisterResourceLoader(
	name string, r api.ResourceLoader,
) {
	c.resources.put(name, r)
}

func (c *Capabilities) RegisterModelAsker(name string, m api.ModelAsker) {
	c.models.put(name, m)
}

func (c *Capabilities) RegisterUIFeedback(name string, u api.UIFeedback) {
	c.feedback.put(name, u)
}

func (c *Capabilities) RegisterExampleStore(name string, s api.ExampleStore) {
	c.examples.put(name, s)
}

func (c *Capabilities) PromptSource(name string) (api.PromptSource, error) {
	return c.prompts.get(api.StepPromptSource, name)
}

func (c *Capabilities) MemoryStore(name string) (api.MemoryStore, error) {
	return c.memory.get(api.StepMemory, name)
}

func (c *Capabilities) RemoteEndpoint(
	name string,
) (api.RemoteEndpoint, error) {
	return c.remotes.get(api.StepRemoteCall, name)
}

func (c *Capabilities) ResourceLoader(
	name string,
) (api.ResourceLoader, error) {
	return c.resources.get(api.StepResourceFetch, name)
}

func (c *Capabilities) ModelAsker(name string) (api.ModelAsker, error) {
	return c.models.get(api.StepAskModel, name)
}

func (c *Capabilities) UIFeedback(name string) (api.UIFeedback, error) {
	return c.feedback.get(api.StepUIFeedback, name)
}

func (c *Capabilities) ExampleStore(name string) (api.ExampleStore, error) {
	return c.examples.get(api.StepApplyFeedback, name)
}

// Has reports whether a capability of the kind a step needs is registered
// under the given name
func (c *Capabilities) Has(kind api.StepKind, name string) bool {
	switch kind {
	case api.StepPromptSource:
		return c.prompts.has(name)
	case api.StepMemory, api.StepStore:
		return c.memory.has(name)
	case api.StepRemoteCall:
		return c.remotes.has(name)
	case api.StepResourceFetch:
		return c.resources.has(name)
	case api.StepAskModel:
		return c.models.has(name)
	case api.StepUIFeedback:
		return c.feedback.has(name)
	case api.StepApplyFeedback:
		return c.examples.has(name)
	default:
		return false
	}
}

// Names returns the registered capability names for a step kind
func (c *Capabilities) Names(kind api.StepKind) []string {
	switch kind {
	case api.StepPromptSource:
		return c.prompts.names()
	case api.StepMemory, api.StepStore:
		return c.memory.names()
	case api.StepRemoteCall:
		return c.remotes.names()
	case api.StepResourceFetch:
		return c.resources.names()
	case api.StepAskModel:
		return c.models.names()
	case api.StepUIFeedback:
		return c.feedback.names()
	case api.StepApplyFeedback:
		return c.examples.names()
	default:
		return nil
	}
}

func (c *Capabilities) receivers() []FeedbackReceiver {
	c.feedback.mu.RLock()
	defer c.feedback.mu.RUnlock()
	var res []FeedbackReceiver
	for _, name := range slices.Sorted(maps.Keys(c.feedback.items)) {
		if r, ok := c.feedback.items[name].(FeedbackReceiver); ok {
			res = append(res, r)
		}
	}
	return res
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{items: map[string]T{}}
}

func (r *registry[T]) put(name string, item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[name] = item
}

func (r *registry[T]) get(kind api.StepKind, name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrCapabilityName, kind)
	}
	item, ok := r.items[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %s", ErrCapabilityNotFound, kind, name)
	}
	return item, nil
}

func (r *registry[T]) has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[name]
	return ok
}

func (r *registry[T]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.items))
}
