package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSource struct {
	data  map[string][]byte
	reads int
}

func (m *mapSource) Read(_ context.Context, path string) ([]byte, error) {
	m.reads++
	b, ok := m.data[path]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return b, nil
}

func TestBlob(t *testing.T) {
	t.Run("key defaults to id", func(t *testing.T) {
		b := NewBlob("", []byte("x"))
		assert.NotEmpty(t, b.ID)
		assert.Equal(t, b.ID, b.Key())
	})

	t.Run("key normalizes separators", func(t *testing.T) {
		b := NewBlob(`images\2024\cat.png`, nil)
		assert.Equal(t, "images/2024/cat.png", b.Key())
	})

	t.Run("dirty only with bytes", func(t *testing.T) {
		b := NewBlob("a", nil)
		assert.False(t, b.Dirty())

		b.SetBytes([]byte{})
		assert.False(t, b.Dirty(), "empty payloads are never written")

		b.SetBytes([]byte("payload"))
		assert.True(t, b.Dirty())

		b.MarkClean()
		assert.False(t, b.Dirty())
	})

	t.Run("lazy load", func(t *testing.T) {
		src := &mapSource{data: map[string][]byte{"docs/a.txt": []byte("hello")}}
		b := &Blob{ID: "1", Path: "docs/a.txt"}
		b.Attach(src)
		assert.False(t, b.Loaded())

		data, err := b.Bytes()
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data)

		_, err = b.Bytes()
		require.NoError(t, err)
		assert.Equal(t, 1, src.reads)
		assert.False(t, b.Dirty())
	})

	t.Run("lazy load failure", func(t *testing.T) {
		b := &Blob{ID: "1", Path: "missing"}
		b.Attach(&mapSource{})
		_, err := b.Bytes()
		assert.True(t, errors.Is(err, ErrBlobNotFound))
	})

	t.Run("moved key", func(t *testing.T) {
		src := &mapSource{data: map[string][]byte{"old.txt": []byte("hello")}}
		b := &Blob{ID: "1", Path: "old.txt"}
		b.Attach(src)
		assert.False(t, b.Dirty())

		b.Path = "new.txt"
		assert.True(t, b.Moved())
		assert.True(t, b.Dirty(), "a moved payload has to be rewritten")

		data, err := b.Bytes()
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data, "reads still come from the old key")

		b.MarkClean()
		assert.False(t, b.Moved())
		assert.False(t, b.Dirty())
	})
}
