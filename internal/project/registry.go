package project

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownProject is returned by Registry.Get for names not in the configuration.
var ErrUnknownProject = errors.New("unknown project")

// Registry is a read-mostly index of the configured projects.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]*Project
}

// NewRegistry indexes projects by name.
func NewRegistry(projects map[string]*Project) *Registry {
	return &Registry{
		projects: projects,
	}
}

// Get looks up a project by name.
func (r *Registry) Get(name string) (*Project, error) {
	r.mu.RLock()
	p, ok := r.projects[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownProject, name)
	}
	return p, nil
}

// List returns the project names in order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.projects))
	for name := range r.projects {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// All returns the projects sorted by name
func (r *Registry) All() []*Project {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	return all
}

// Count returns the number of configured projects.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.projects)
}
