package migration

import (
	"sync"

	"github.com/pkg/errors"
)

// Registry maps qualified unit names to their factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// DefaultRegistry is populated by the package level Register, usually from init functions
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds the factory to the migration filename
func (r *Registry) Register(filename string, f Factory) error {
	name, err := QualifiedName(filename)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[name]; ok {
		return errors.Wrapf(ErrAlreadyRegistered, "[%s]", name)
	}

	r.factories[name] = f

	return nil
}

func (r *Registry) MustRegister(filename string, f Factory) {
	if err := r.Register(filename, f); err != nil {
		panic(err)
	}
}

// Lookup finds a factory by its qualified name
func (r *Registry) Lookup(qualifiedName string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[qualifiedName]
	return f, ok
}

func Register(filename string, f Factory) {
	DefaultRegistry.MustRegister(filename, f)
}
