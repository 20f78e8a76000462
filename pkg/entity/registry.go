// Package entity describes which fields of a registered struct type refer to
// other entities and which field, if any, carries a stable identifier.
//
// Types are registered explicitly; a pointer, array or slice field is a
// reference only when its element type is registered too:
//
//	type Person struct {
//		Email   string    `json:"email" pocket:"id"`
//		Address *Address  `json:"address"`
//		Friends []*Person `json:"friends"`
//	}
//
//	reg := entity.NewRegistry(logger)
//	reg.Register(&Person{})
//	reg.Register(&Address{}, "Address")
package entity

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/pocket/pkg/core"
)

// TagName is the struct tag read by the registry.
const TagName = "pocket"

// Registry maps type names to Go types and caches their descriptors.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]reflect.Type
	names  map[reflect.Type]string
	cache  map[reflect.Type]*Descriptor
	logger *slog.Logger
}

// NewRegistry creates a registry with core.Blob already registered.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		types:  make(map[string]reflect.Type),
		names:  make(map[reflect.Type]string),
		cache:  make(map[reflect.Type]*Descriptor),
		logger: logger,
	}
	blob := reflect.TypeOf(core.Blob{})
	r.types[core.BlobTypeName] = blob
	r.names[blob] = core.BlobTypeName
	return r
}

// TypeOf resolves a sample value (T, *T, a typed nil pointer or a reflect.Type)
// to its struct type.
func TypeOf(sample any) (reflect.Type, error) {
	var t reflect.Type
	if rt, ok := sample.(reflect.Type); ok {
		t = rt
	} else {
		t = reflect.TypeOf(sample)
	}
	if t == nil {
		return nil, core.ErrNotEntity
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s", core.ErrNotEntity, t)
	}
	return t, nil
}

// Register adds the type of sample under name, or under its Go type string
// (e.g. "model.Person") when no name is given. Registering the same type
// twice under the same name is a no-op.
func (r *Registry) Register(sample any, name ...string) error {
	t, err := TypeOf(sample)
	if err != nil {
		return err
	}

	n := t.String()
	if len(name) > 0 && name[0] != "" {
		n = name[0]
	}
	if strings.Contains(n, "@") {
		return fmt.Errorf("type name %q must not contain '@'", n)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.names[t]; ok {
		if existing == n {
			return nil
		}
		return fmt.Errorf("type %s already registered as %q", t, existing)
	}
	if other, ok := r.types[n]; ok {
		return fmt.Errorf("type name %q already used by %s", n, other)
	}

	r.types[n] = t
	r.names[t] = n
	// A new entity type can turn existing pointer fields into references.
	r.cache = make(map[reflect.Type]*Descriptor)

	if r.logger != nil {
		r.logger.Debug("entity type registered", "type", n, "go_type", t.String())
	}
	return nil
}

// Registered reports whether the type of sample is known.
func (r *Registry) Registered(sample any) bool {
	t, err := TypeOf(sample)
	if err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[t]
	return ok
}

// NameOf returns the registered type name of sample.
func (r *Registry) NameOf(sample any) (string, error) {
	t, err := TypeOf(sample)
	if err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.names[t]
	if !ok {
		return "", fmt.Errorf("%w: %s", core.ErrUnknownType, t)
	}
	return n, nil
}

// Lookup returns the struct type registered under name.
func (r *Registry) Lookup(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DescriptorOf describes the type of obj, which must be a non-nil pointer to
// a registered struct.
func (r *Registry) DescriptorOf(obj any) (*Descriptor, error) {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T", core.ErrNotEntity, obj)
	}
	return r.Describe(v.Type().Elem())
}

// DescriptorByName describes the type registered under name.
func (r *Registry) DescriptorByName(name string) (*Descriptor, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownType, name)
	}
	return r.Describe(t)
}

// Describe returns the cached descriptor of t, computing it on first use.
func (r *Registry) Describe(t reflect.Type) (*Descriptor, error) {
	t, err := TypeOf(t)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	if d, ok := r.cache[t]; ok {
		r.mu.RUnlock()
		return d, nil
	}
	d, err := r.build(t)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if cached, ok := r.cache[t]; ok {
		d = cached
	} else {
		r.cache[t] = d
	}
	r.mu.Unlock()
	return d, nil
}

// build must run with r.mu held.
func (r *Registry) build(t reflect.Type) (*Descriptor, error) {
	name, ok := r.names[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownType, t)
	}

	d := &Descriptor{
		Name:    name,
		Type:    t,
		refKeys: make(map[string]int),
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Anonymous {
			continue
		}
		key, skip := jsonKey(f)
		if skip {
			continue
		}
		if key == core.KeyClass || key == core.KeyID {
			return nil, fmt.Errorf("field %s.%s uses reserved key %q", t, f.Name, key)
		}

		if f.Tag.Get(TagName) == "id" {
			if f.Type.Kind() == reflect.String {
				d.ID = &Field{Name: f.Name, Key: key, Index: i}
			} else if r.logger != nil {
				r.logger.Warn("ignoring non-string identifier field", "type", name, "field", f.Name, "kind", f.Type.Kind().String())
			}
		}

		kind, elem, isRef := r.refShape(f.Type)
		if !isRef {
			continue
		}
		d.refKeys[key] = len(d.Refs)
		d.Refs = append(d.Refs, Ref{
			Name:  f.Name,
			Key:   key,
			Index: i,
			Kind:  kind,
			Elem:  elem,
		})
	}

	return d, nil
}

func (r *Registry) refShape(ft reflect.Type) (RefKind, reflect.Type, bool) {
	kind := RefScalar
	switch ft.Kind() {
	case reflect.Array:
		kind, ft = RefArray, ft.Elem()
	case reflect.Slice:
		kind, ft = RefCollection, ft.Elem()
	}
	if ft.Kind() != reflect.Pointer || ft.Elem().Kind() != reflect.Struct {
		return 0, nil, false
	}
	if _, ok := r.names[ft.Elem()]; !ok {
		return 0, nil, false
	}
	return kind, ft.Elem(), true
}

func jsonKey(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, false
}
