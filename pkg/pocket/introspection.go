package pocket

import (
	"fmt"

	"github.com/aretw0/introspection"

	"github.com/aretw0/pocket/pkg/core"
)

// State implements introspection.Introspectable.
func (p *Pocket) State() any {
	p.mu.RLock()
	defer p.mu.RUnlock()

	types := make(map[string]int, len(p.byType))
	for typeName, ids := range p.byType {
		types[typeName] = len(ids)
	}
	st := core.PocketState{
		State:      p.state.String(),
		Source:     p.config.Objects.Source(),
		Loading:    p.loading.Load(),
		Tracked:    len(p.objects),
		Types:      types,
		Unresolved: len(p.placeholders),
		Objects:    describe(p.config.Objects),
		Blobs:      describe(p.config.Blobs),
	}
	if p.loadErr != nil {
		st.LoadError = p.loadErr.Error()
	}
	return st
}

// ComponentType implements introspection.Component.
func (p *Pocket) ComponentType() string {
	return "pocket"
}

func describe(v any) string {
	if c, ok := v.(introspection.Component); ok {
		return c.ComponentType()
	}
	return fmt.Sprintf("%T", v)
}

var _ introspection.Introspectable = (*Pocket)(nil)
var _ introspection.Component = (*Pocket)(nil)
