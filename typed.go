package pocket

import (
	"github.com/aretw0/pocket/pkg/typed"
)

// Repository is a typed view over the objects of type T in a pocket.
type Repository[T any] = typed.Repository[T]

// NewRepository returns a typed view over p, registering T when needed.
func NewRepository[T any](p *Pocket, name ...string) (*Repository[T], error) {
	return typed.NewRepository[T](p, name...)
}

// Find looks up an object of type T by id.
func Find[T any](p *Pocket, id string) (*T, error) {
	return typed.Find[T](p, id)
}

// FindAll returns every tracked object of type T ordered by id.
func FindAll[T any](p *Pocket) ([]*T, error) {
	return typed.FindAll[T](p)
}
