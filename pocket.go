package pocket

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/aretw0/pocket/internal/platform"
	"github.com/aretw0/pocket/pkg/core"
	"github.com/aretw0/pocket/pkg/entity"
	engine "github.com/aretw0/pocket/pkg/pocket"
)

// --- Types ---

// Pocket is the persistence context returned by Open.
type Pocket = engine.Pocket

// Blob is an entity carrying a binary payload.
type Blob = core.Blob

// Registry maps struct types to stored type names.
type Registry = entity.Registry

// ProxyToken names a referenced entity by type and id.
type ProxyToken = core.ProxyToken

// Errors.
var (
	ErrInvalidState = core.ErrInvalidState
	ErrClosed       = core.ErrClosed
	ErrNotEntity    = core.ErrNotEntity
	ErrUnknownType  = core.ErrUnknownType
	ErrDuplicateID  = core.ErrDuplicateID
	ErrNotFound     = core.ErrNotFound
	ErrBlobNotFound = core.ErrBlobNotFound
)

// NewBlob creates a blob; an empty path stores it under its id.
func NewBlob(path string, data []byte) *Blob {
	return core.NewBlob(path, data)
}

// NewRegistry creates a registry that can be shared with WithRegistry.
func NewRegistry(logger *slog.Logger) *Registry {
	return entity.NewRegistry(logger)
}

// --- Configuration ---

// Option configures a pocket.
type Option = platform.Option

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithRegistry shares an entity registry between pockets.
func WithRegistry(reg *Registry) Option {
	return platform.WithRegistry(reg)
}

// WithPretty turns indentation of stored JSON on or off.
func WithPretty(enabled bool) Option {
	return platform.WithPretty(enabled)
}

// WithSerializeNulls keeps null fields in stored JSON.
func WithSerializeNulls(enabled bool) Option {
	return platform.WithSerializeNulls(enabled)
}

// WithBackup archives previous bundles before every store.
func WithBackup(enabled bool) Option {
	return platform.WithBackup(enabled)
}

// WithMaxBackupSize caps the total size of backup archives, in bytes.
func WithMaxBackupSize(size int64) Option {
	return platform.WithMaxBackupSize(size)
}

// WithMaxContainerSize caps the size of one blob container, in bytes.
func WithMaxContainerSize(size int64) Option {
	return platform.WithMaxContainerSize(size)
}

// WithFilename sets the default filename of a type name.
func WithFilename(typeName, filename string) Option {
	return platform.WithFilename(typeName, filename)
}

// WithDecodeWorkers bounds concurrent decoding on load.
func WithDecodeWorkers(n int) Option {
	return platform.WithDecodeWorkers(n)
}

// WithFs stores everything on a custom filesystem.
func WithFs(fsys afero.Fs) Option {
	return platform.WithFs(fsys)
}

// WithWatch detects index rewrites made by other processes.
func WithWatch(enabled bool) Option {
	return platform.WithWatch(enabled)
}

// WithVersioning commits the directory to git after every store.
func WithVersioning(enabled bool) Option {
	return platform.WithVersioning(enabled)
}

// WithMetricsRegisterer exposes Prometheus metrics.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return platform.WithMetricsRegisterer(reg)
}

// WithForceTemp forces the use of a temporary directory.
func WithForceTemp(force bool) Option {
	return platform.WithForceTemp(force)
}

// WithDevSafety controls the sandbox used under `go run` and `go test`.
func WithDevSafety(enabled bool) Option {
	return platform.WithDevSafety(enabled)
}

// WithConfigFile reads settings from the given YAML file.
func WithConfigFile(path string) Option {
	return platform.WithConfigFile(path)
}

// --- Factory ---

// Open opens the pocket stored in the directory at path.
func Open(path string, opts ...Option) (*Pocket, error) {
	return platform.New(path, opts...)
}

// OpenMemory opens a pocket kept in memory only.
func OpenMemory(opts ...Option) (*Pocket, error) {
	return platform.NewMemory(opts...)
}

// --- Safety & Utils ---

// ResolvePath determines the directory a pocket will use, given the dev safety rules.
func ResolvePath(userPath string, forceTemp bool) string {
	return platform.ResolvePath(userPath, forceTemp)
}

// IsDevRun checks if the current process is running via `go run` or `go test`.
func IsDevRun() bool {
	return platform.IsDevRun()
}

// FindRoot looks upwards from startDir for a pocket directory.
func FindRoot(startDir string) (string, error) {
	return platform.FindRoot(startDir)
}
