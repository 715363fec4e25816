package loader

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry maps re-initialization hook names to the routines that rebuild
// behaviour on freshly patched markup. A delayed response lists the hooks it
// needs by name; nothing is evaluated from the payload itself.
type Registry struct {
	mu     sync.RWMutex
	hooks  map[string]func() error
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		hooks:  make(map[string]func() error),
		logger: logger,
	}
}

// Register adds or replaces the hook named name.
func (r *Registry) Register(name string, fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[name] = fn
}

// Names returns the registered hook names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.hooks))
	for name := range r.hooks {
		names = append(names, name)
	}
	return names
}

// Run executes the named hooks in order. Unknown names are skipped, and a
// failing hook does not stop the rest. It returns the names that ran
// successfully and the first error.
func (r *Registry) Run(names []string) ([]string, error) {
	var ran []string
	var firstErr error

	for _, name := range names {
		r.mu.RLock()
		fn, ok := r.hooks[name]
		r.mu.RUnlock()

		if !ok {
			r.logger.Warn("unknown reinit hook", "hook", name)
			continue
		}
		if err := fn(); err != nil {
			r.logger.Warn("reinit hook failed", "hook", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("reinit %s: %w", name, err)
			}
			continue
		}
		ran = append(ran, name)
	}
	return ran, firstErr
}
