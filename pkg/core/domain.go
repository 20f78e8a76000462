// Package core holds the domain types shared by the persistence context and
// its storage adapters.
package core

import (
	"fmt"
	"strings"
)

// Reserved keys written next to the entity's own fields.
const (
	KeyClass = "op_class"
	KeyID    = "op_id"
	KeyRef   = "op_ref"

	// RefPrefix marks an op_id whose value lives in the entity's identifier field.
	RefPrefix = KeyRef + ":"
)

// ProxyToken stands in for a nested reference during serialization.
type ProxyToken struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Ref renders the token as stored on disk: "<id>@<type>".
func (p ProxyToken) Ref() string {
	return p.ID + "@" + p.Type
}

func (p ProxyToken) String() string {
	return p.Ref()
}

// ParseProxy parses an "<id>@<type>" reference.
// Type names never contain '@', so the last separator wins.
func ParseProxy(ref string) (ProxyToken, error) {
	i := strings.LastIndex(ref, "@")
	if i <= 0 || i == len(ref)-1 {
		return ProxyToken{}, fmt.Errorf("malformed proxy reference %q", ref)
	}
	return ProxyToken{ID: ref[:i], Type: ref[i+1:]}, nil
}

// State is the lifecycle state of a persistence context.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateDirty
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateDirty:
		return "dirty"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
