// Package typed offers type-safe access to the objects of one entity type
// tracked by a pocket.
package typed

import (
	"context"
	"fmt"

	"github.com/aretw0/pocket/pkg/pocket"
)

// Repository is a typed view over the objects of type T in a pocket.
type Repository[T any] struct {
	pocket *pocket.Pocket
}

// NewRepository registers T with the pocket when needed and returns a typed
// view over it. An optional name overrides the registered type name.
func NewRepository[T any](p *pocket.Pocket, name ...string) (*Repository[T], error) {
	if !p.Registry().Registered(new(T)) {
		if err := p.Register(new(T), name...); err != nil {
			return nil, fmt.Errorf("failed to register %T: %w", *new(T), err)
		}
	}
	return &Repository[T]{pocket: p}, nil
}

// Add tracks obj and everything reachable from it.
func (r *Repository[T]) Add(obj *T) error {
	return r.pocket.Add(obj)
}

// AddTo tracks obj and writes it to filename.
func (r *Repository[T]) AddTo(obj *T, filename string) error {
	return r.pocket.AddTo(obj, filename)
}

// Remove stops tracking obj.
func (r *Repository[T]) Remove(obj *T) error {
	return r.pocket.Remove(obj)
}

// Find returns the object with the given id.
func (r *Repository[T]) Find(id string) (*T, error) {
	return Find[T](r.pocket, id)
}

// FindAll returns every tracked object of type T ordered by id.
func (r *Repository[T]) FindAll() ([]*T, error) {
	return FindAll[T](r.pocket)
}

// Store persists the whole pocket, not only objects of type T.
func (r *Repository[T]) Store(ctx context.Context) error {
	return r.pocket.Store(ctx)
}

// Find looks up an object of type T by id.
func Find[T any](p *pocket.Pocket, id string) (*T, error) {
	obj, err := p.Find(id, new(T))
	if err != nil {
		return nil, err
	}
	return cast[T](obj)
}

// FindAll returns every tracked object of type T ordered by id.
func FindAll[T any](p *pocket.Pocket) ([]*T, error) {
	objs, err := p.FindAll(new(T))
	if err != nil {
		return nil, err
	}
	result := make([]*T, 0, len(objs))
	for _, obj := range objs {
		v, err := cast[T](obj)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

func cast[T any](obj any) (*T, error) {
	v, ok := obj.(*T)
	if !ok {
		return nil, fmt.Errorf("unexpected object type %T, want %T", obj, new(T))
	}
	return v, nil
}
