package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/LingByte/LingCall/pkg/conversation"
	"github.com/spf13/cast"
)

// Hook is user code invoked by Function and FunctionChoice items. A string
// result of a Function is spoken; a FunctionChoice result is matched
// against option labels by its canonical string.
type Hook func(ctx context.Context, state *State, session Session) (any, error)

// Registry maps module.function identifiers to hooks.
type Registry interface {
	Register(module, function string, hook Hook)
	Get(id string) (Hook, bool)
	List() []string
}

type defaultRegistry struct {
	mu    sync.RWMutex
	hooks map[string]Hook
}

// NewRegistry returns an empty, concurrency-safe hook registry.
func NewRegistry() Registry {
	return &defaultRegistry{hooks: make(map[string]Hook)}
}

func (r *defaultRegistry) Register(module, function string, hook Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[module+"."+function] = hook
}

func (r *defaultRegistry) Get(id string) (Hook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[id]
	return h, ok
}

func (r *defaultRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.hooks))
	for id := range r.hooks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Hooks is the process-wide registry.
var Hooks = NewRegistry()

// Register adds a hook to the process-wide registry.
func Register(module, function string, hook Hook) {
	Hooks.Register(module, function, hook)
}

// Bind resolves every hook the model references.
func Bind(model *conversation.Model, registry Registry) (map[string]Hook, error) {
	bound := make(map[string]Hook)
	var bindErr error
	model.Walk(func(path string, item conversation.Item) {
		var id string
		switch v := item.(type) {
		case conversation.Function:
			id = v.HookID()
		case conversation.FunctionChoice:
			id = v.HookID()
		default:
			return
		}
		if _, done := bound[id]; done {
			return
		}
		h, ok := registry.Get(id)
		if !ok {
			if bindErr == nil {
				bindErr = &conversation.ConfigError{
					Path:    path,
					Index:   -1,
					Field:   "function",
					Message: fmt.Sprintf("hook %q is not registered", id),
				}
			}
			return
		}
		bound[id] = h
	})
	if bindErr != nil {
		return nil, failure(KindConfig, "", bindErr)
	}
	return bound, nil
}

// CanonicalString renders a hook result for exact label matching:
// booleans as True/False, nil as None, numbers in their shortest form.
func CanonicalString(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}
