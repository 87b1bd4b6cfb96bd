package runtime

import (
	"fmt"
	"sort"
	"sync"

	types "github.com/yungbote/dataset-engine/internal/domain/datasets"
)

// Handler is one pipeline stage. Claims lists the stable statuses it picks up and Working
// the status it holds while running.
type Handler interface {
	Type() string
	Claims() []types.Status
	Working() types.Status
	Run(ctx *Context) error
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	t := h.Type()
	if t == "" {
		return fmt.Errorf("handler Type() is empty")
	}
	if !h.Working().Working() {
		return fmt.Errorf("handler %s: %q is not a working status", t, h.Working())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("handler already registered for stage=%s", t)
	}
	for _, other := range r.handlers {
		if other.Working() == h.Working() {
			return fmt.Errorf("stages %s and %s share working status %s", other.Type(), t, h.Working())
		}
	}
	r.handlers[t] = h
	return nil
}

func (r *Registry) Get(stage string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[stage]
	return h, ok
}

// All returns the handlers sorted by stage name.
func (r *Registry) All() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type() < out[j].Type() })
	return out
}
