package executor

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	portexec "github.com/alanyang/task-mesh/internal/port/executor"
)

var (
	ErrDuplicateType = errors.New("executor already registered for type")
	ErrUnknownType   = errors.New("no executor registered for type")
)

// Registry resolves a task type tag to its executor.
type Registry struct {
	mu    sync.RWMutex
	execs map[string]portexec.Executor
}

func NewRegistry() *Registry {
	return &Registry{execs: make(map[string]portexec.Executor)}
}

func (r *Registry) Register(typeTag string, exec portexec.Executor) error {
	if typeTag == "" {
		return fmt.Errorf("register executor: empty type tag")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.execs[typeTag]; ok {
		return fmt.Errorf("register %q: %w", typeTag, ErrDuplicateType)
	}
	r.execs[typeTag] = exec
	return nil
}

// MustRegister panics on conflict; for wiring built-ins at startup.
func (r *Registry) MustRegister(typeTag string, exec portexec.Executor) {
	if err := r.Register(typeTag, exec); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(typeTag string) (portexec.Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.execs[typeTag]
	if !ok {
		return nil, fmt.Errorf("lookup %q: %w", typeTag, ErrUnknownType)
	}
	return exec, nil
}

// Types lists registered tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.execs))
	for k := range r.execs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
