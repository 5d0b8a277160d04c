package hooks

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// DefaultPriority is used when a registration does not specify one.
// Lower priorities run earlier.
const DefaultPriority = 10

// Handler signatures, one per hook kind. A handler reference is resolved
// to one of these once, at registration time.

// FilterFunc receives the current payload value and returns the value the
// next handler in the chain (or the caller) will see.
type FilterFunc func(ctx context.Context, payload any) (any, error)

// ActionFunc receives the firing's fixed argument tuple. Its return value
// never reaches the firing's caller; failures are logged and isolated.
type ActionFunc func(ctx context.Context, args ...any) error

// StaticFunc receives its arguments plus a continuation it must invoke
// exactly once to release the dispatcher. Extra invocations are ignored.
type StaticFunc func(ctx context.Context, done func(error), args ...any)

// Registration is one handler bound to one hook by one plugin.
type Registration struct {
	Plugin   string
	Hook     string
	Kind     Kind
	Priority int

	// seq is the global registration order, the tie-break for equal
	// priorities. Filter results depend on this order being stable.
	seq uint64

	filter FilterFunc
	action ActionFunc
	static StaticFunc
}

// Registry holds the per-hook ordered registration sets.
//
// Reads (List, KindOf, Active) happen on every firing and take only an
// RLock over immutable slices. Writes (Register, UnregisterPlugin) replace
// the affected slices wholesale, so readers see either the full pre-write
// or the full post-write set.
type Registry struct {
	mu       sync.RWMutex
	hooks    map[string][]*Registration
	inactive map[string]bool
	nextSeq  uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		hooks:    make(map[string][]*Registration),
		inactive: make(map[string]bool),
	}
}

// Register binds handler to hook on behalf of plugin.
//
// The handler must be a FilterFunc, ActionFunc or StaticFunc matching the
// hook name's kind. Duplicate (hook, plugin) pairs are permitted; each
// call appends a new registration.
func (r *Registry) Register(hook, plugin string, handler any, priority int) error {
	kind, err := ParseName(hook)
	if err != nil {
		return err
	}
	if priority < math.MinInt32 || priority > math.MaxInt32 {
		return fmt.Errorf("priority %d: %w", priority, ErrInvalidPriority)
	}

	reg := &Registration{
		Plugin:   plugin,
		Hook:     hook,
		Kind:     kind,
		Priority: priority,
	}
	switch kind {
	case KindFilter:
		fn, ok := handler.(FilterFunc)
		if !ok {
			return fmt.Errorf("hook %s wants FilterFunc, got %T: %w", hook, handler, ErrHandlerType)
		}
		reg.filter = fn
	case KindAction:
		fn, ok := handler.(ActionFunc)
		if !ok {
			return fmt.Errorf("hook %s wants ActionFunc, got %T: %w", hook, handler, ErrHandlerType)
		}
		reg.action = fn
	case KindStatic:
		fn, ok := handler.(StaticFunc)
		if !ok {
			return fmt.Errorf("hook %s wants StaticFunc, got %T: %w", hook, handler, ErrHandlerType)
		}
		reg.static = fn
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg.seq = r.nextSeq
	r.nextSeq++

	old := r.hooks[hook]
	next := make([]*Registration, 0, len(old)+1)
	next = append(next, old...)
	next = append(next, reg)
	sort.SliceStable(next, func(i, j int) bool {
		if next[i].Priority != next[j].Priority {
			return next[i].Priority < next[j].Priority
		}
		return next[i].seq < next[j].seq
	})
	r.hooks[hook] = next
	return nil
}

// UnregisterPlugin removes every registration contributed by plugin across
// all hook names. The removal is atomic with respect to concurrent List
// calls. Any inactive mark survives the removal: a firing holding a
// pre-removal snapshot, or an action task already queued, must still skip
// the plugin's handlers.
func (r *Registry) UnregisterPlugin(plugin string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for hook, regs := range r.hooks {
		kept := regs[:0:0]
		for _, reg := range regs {
			if reg.Plugin != plugin {
				kept = append(kept, reg)
			}
		}
		if len(kept) == 0 {
			delete(r.hooks, hook)
		} else if len(kept) != len(regs) {
			r.hooks[hook] = kept
		}
	}
}

// List returns the registrations for hook ordered by ascending priority,
// then ascending registration order. An unknown hook yields an empty
// slice: firing a hook nobody registered for is a normal no-op.
func (r *Registry) List(hook string) []*Registration {
	r.mu.RLock()
	regs := r.hooks[hook]
	r.mu.RUnlock()

	out := make([]*Registration, len(regs))
	copy(out, regs)
	return out
}

// KindOf derives the hook kind from its name.
func (r *Registry) KindOf(hook string) (Kind, error) {
	return ParseName(hook)
}

// SetActive marks a plugin active or inactive. Registrations owned by an
// inactive plugin are excluded from dispatch without being removed. The
// mark outlives UnregisterPlugin, so work queued before a deactivation is
// still skipped; activation sets the mark back explicitly.
func (r *Registry) SetActive(plugin string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if active {
		delete(r.inactive, plugin)
	} else {
		r.inactive[plugin] = true
	}
}

// Active reports whether plugin is currently active. Plugins are active by
// default; only an explicit SetActive(plugin, false) turns this off.
func (r *Registry) Active(plugin string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.inactive[plugin]
}
