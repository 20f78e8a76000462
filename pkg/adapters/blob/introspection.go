package blob

import (
	"github.com/aretw0/introspection"
	units "github.com/docker/go-units"
)

// StoreState is the introspection snapshot of a blob store.
type StoreState struct {
	Containers       []string `json:"containers"`
	Blobs            int      `json:"blobs"`
	Current          string   `json:"current,omitempty"`
	CurrentSize      string   `json:"current_size"`
	MaxContainerSize string   `json:"max_container_size"`
}

// State implements introspection.Introspectable.
func (s *Store) State() any {
	names, _ := listContainers(s.fs)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := StoreState{
		Containers:       names,
		MaxContainerSize: units.HumanSize(float64(s.config.MaxContainerSize)),
	}
	if s.indexed {
		st.Blobs = len(s.index)
		st.Current = s.current
		st.CurrentSize = units.HumanSize(float64(s.currentSize))
	}
	return st
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "blob-store"
}

var (
	_ introspection.Introspectable = (*Store)(nil)
	_ introspection.Component      = (*Store)(nil)
)
