package entity

import (
	"reflect"
)

// RefKind is the shape of a reference field.
type RefKind int

const (
	// RefScalar is a single *T field.
	RefScalar RefKind = iota
	// RefArray is a fixed-size [N]*T field.
	RefArray
	// RefCollection is a []*T field.
	RefCollection
)

func (k RefKind) String() string {
	switch k {
	case RefScalar:
		return "scalar"
	case RefArray:
		return "array"
	case RefCollection:
		return "collection"
	default:
		return "unknown"
	}
}

// Ref describes one field holding references to other entities.
type Ref struct {
	Name  string       // Go field name
	Key   string       // JSON key
	Index int          // field index within the struct
	Kind  RefKind
	Elem  reflect.Type // struct type of the referenced entity
}

// Field locates a plain struct field.
type Field struct {
	Name  string
	Key   string
	Index int
}

// Descriptor is the computed shape of a registered entity type.
type Descriptor struct {
	Name string
	Type reflect.Type // always a struct type
	Refs []Ref
	ID   *Field // nil when identifiers are generated

	refKeys map[string]int
}

// RefByKey returns the reference stored under a JSON key.
func (d *Descriptor) RefByKey(key string) (*Ref, bool) {
	i, ok := d.refKeys[key]
	if !ok {
		return nil, false
	}
	return &d.Refs[i], true
}

// Targets calls fn for every non-nil entity referenced by obj, a pointer to d.Type.
func (d *Descriptor) Targets(obj any, fn func(ref *Ref, target any)) {
	v := reflect.ValueOf(obj).Elem()
	for i := range d.Refs {
		ref := &d.Refs[i]
		fv := v.Field(ref.Index)
		switch ref.Kind {
		case RefScalar:
			if !fv.IsNil() {
				fn(ref, fv.Interface())
			}
		case RefArray, RefCollection:
			for j := 0; j < fv.Len(); j++ {
				if e := fv.Index(j); !e.IsNil() {
					fn(ref, e.Interface())
				}
			}
		}
	}
}

// Slots calls fn with a settable value for every reference slot of obj,
// including nil ones.
func (d *Descriptor) Slots(obj any, fn func(ref *Ref, slot reflect.Value)) {
	v := reflect.ValueOf(obj).Elem()
	for i := range d.Refs {
		ref := &d.Refs[i]
		fv := v.Field(ref.Index)
		if ref.Kind == RefScalar {
			fn(ref, fv)
			continue
		}
		for j := 0; j < fv.Len(); j++ {
			fn(ref, fv.Index(j))
		}
	}
}

// IDValue returns the value of the identifier field, if the type declares one.
func (d *Descriptor) IDValue(obj any) (string, bool) {
	if d.ID == nil {
		return "", false
	}
	return reflect.ValueOf(obj).Elem().Field(d.ID.Index).String(), true
}

// SetID writes id into the identifier field. It is a no-op without one.
func (d *Descriptor) SetID(obj any, id string) {
	if d.ID == nil {
		return
	}
	reflect.ValueOf(obj).Elem().Field(d.ID.Index).SetString(id)
}

// New allocates a zero entity of the described type.
func (d *Descriptor) New() any {
	return reflect.New(d.Type).Interface()
}
