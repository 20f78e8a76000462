package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// BlobTypeName is the registered type name of Blob.
const BlobTypeName = "Blob"

// BlobSource reads a stored payload by its storage key.
type BlobSource interface {
	Read(ctx context.Context, path string) ([]byte, error)
}

// Blob is a managed entity carrying a binary payload.
// The payload is kept out of the JSON body and loaded lazily from the blob store.
//
// Changing Path (or ID when Path is empty) of a stored blob moves the payload
// on the next store; the old key is dropped by the next cleanup.
type Blob struct {
	ID   string `json:"id" pocket:"id"`
	Path string `json:"path,omitempty"`

	data   []byte
	dirty  bool
	source BlobSource
	// stored is the key the payload currently lives under in source.
	stored string
}

// NewBlob creates a blob with a generated identifier.
// An empty path makes the identifier the storage key.
func NewBlob(path string, data []byte) *Blob {
	b := &Blob{
		ID:   uuid.NewString(),
		Path: path,
	}
	if data != nil {
		b.SetBytes(data)
	}
	return b
}

// Key returns the slash-delimited key used inside blob containers.
func (b *Blob) Key() string {
	key := b.Path
	if key == "" {
		key = b.ID
	}
	return strings.ReplaceAll(key, "\\", "/")
}

// Bytes returns the payload, reading it from the attached store on first use.
func (b *Blob) Bytes() ([]byte, error) {
	if b.data != nil || b.source == nil {
		return b.data, nil
	}
	key := b.stored
	if key == "" {
		key = b.Key()
	}
	data, err := b.source.Read(context.Background(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to load blob %s: %w", key, err)
	}
	b.data = data
	return data, nil
}

// SetBytes replaces the payload and marks it for the next store.
func (b *Blob) SetBytes(data []byte) {
	b.data = data
	b.dirty = true
}

// Dirty reports whether the blob holds bytes that still have to be written,
// or has a stored payload whose key has changed since.
// Empty payloads are never written.
func (b *Blob) Dirty() bool {
	return (b.dirty && len(b.data) > 0) || b.Moved()
}

// Moved reports whether the key changed after the payload was stored.
func (b *Blob) Moved() bool {
	return b.stored != "" && b.stored != b.Key()
}

// MarkClean clears the dirty flag after a successful write under Key.
func (b *Blob) MarkClean() {
	b.dirty = false
	b.stored = b.Key()
}

// Attach sets the store used to load the payload lazily. A blob without
// pending bytes is taken to be stored under its current key.
func (b *Blob) Attach(src BlobSource) {
	b.source = src
	if b.stored == "" && !b.dirty {
		b.stored = b.Key()
	}
}

// Loaded reports whether the payload is held in memory.
func (b *Blob) Loaded() bool {
	return b.data != nil
}
