package core

import "context"

// Record is one encoded entity read back from the object store,
// together with the logical filename it came from.
type Record struct {
	Filename string
	Data     []byte
}

// Bundles groups encoded entities by logical filename, then by type name.
type Bundles map[string]map[string][][]byte

// ObjectStore persists encoded entity bundles and the type index.
type ObjectStore interface {
	// Exists reports whether the store already holds data (its index is present).
	Exists() bool

	// Types returns the type names listed in the index.
	Types(ctx context.Context) ([]string, error)

	// Read returns every member tagged with typeName across the files indexed for it.
	Read(ctx context.Context, typeName string) ([]Record, error)

	// Write replaces the stored bundles and rebuilds the index.
	// Files indexed before and absent now are deleted.
	Write(ctx context.Context, bundles Bundles) error

	// Source describes where the data lives (a directory, or "memory").
	Source() string

	Close() error
}

// BlobStore packs blob payloads into containers.
type BlobStore interface {
	BlobSource

	// Write stores the payload of each blob under its key and clears its dirty flag.
	Write(ctx context.Context, blobs []*Blob) error

	// Cleanup keeps only the payloads of live and drops everything else.
	Cleanup(ctx context.Context, live []*Blob) error

	// Delete removes every container.
	Delete(ctx context.Context) error

	Close() error
}

// ChangeTracker is implemented by object stores that notice external edits.
type ChangeTracker interface {
	ExternallyModified() bool
}

// Versioner records a snapshot of the store after a successful write.
type Versioner interface {
	Snapshot(msg string) error
}
