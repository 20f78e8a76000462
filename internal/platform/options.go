package platform

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/aretw0/pocket/pkg/entity"
)

// options holds the configuration collected from Option values.
// Pointer fields stay nil unless set, so the config file can fill them in.
type options struct {
	logger   *slog.Logger
	registry *entity.Registry
	fs       afero.Fs
	metrics  prometheus.Registerer

	pretty           *bool
	serializeNulls   *bool
	backup           *bool
	maxBackupSize    *int64
	maxContainerSize *int64
	filenames        map[string]string
	decodeWorkers    int

	watch      bool
	versioning bool
	forceTemp  bool
	devSafety  *bool
	configFile string
}

// Option configures a pocket.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		filenames: make(map[string]string),
	}
}

func parseOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger used by the pocket and its stores.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegistry shares an entity registry instead of creating one per pocket.
func WithRegistry(reg *entity.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithPretty turns indentation of stored JSON on or off. Default: on.
func WithPretty(enabled bool) Option {
	return func(o *options) {
		o.pretty = &enabled
	}
}

// WithSerializeNulls keeps null fields in stored JSON. Default: off.
func WithSerializeNulls(enabled bool) Option {
	return func(o *options) {
		o.serializeNulls = &enabled
	}
}

// WithBackup archives the previous bundles before every store.
// Default: on for directories, off in memory.
func WithBackup(enabled bool) Option {
	return func(o *options) {
		o.backup = &enabled
	}
}

// WithMaxBackupSize caps the total size of the backup archives, in bytes.
func WithMaxBackupSize(size int64) Option {
	return func(o *options) {
		o.maxBackupSize = &size
	}
}

// WithMaxContainerSize caps the size of a single blob container, in bytes.
func WithMaxContainerSize(size int64) Option {
	return func(o *options) {
		o.maxContainerSize = &size
	}
}

// WithFilename sets the default filename of a registered type name.
func WithFilename(typeName, filename string) Option {
	return func(o *options) {
		o.filenames[typeName] = filename
	}
}

// WithDecodeWorkers bounds how many types are decoded concurrently on load.
func WithDecodeWorkers(n int) Option {
	return func(o *options) {
		o.decodeWorkers = n
	}
}

// WithFs stores everything on the given filesystem instead of the OS one.
// Watching and versioning need a real directory and are disabled.
func WithFs(fsys afero.Fs) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithWatch marks the pocket as stale when another process rewrites the index.
func WithWatch(enabled bool) Option {
	return func(o *options) {
		o.watch = enabled
	}
}

// WithVersioning commits the directory to git after every store.
func WithVersioning(enabled bool) Option {
	return func(o *options) {
		o.versioning = enabled
	}
}

// WithMetricsRegisterer exposes Prometheus metrics through reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.metrics = reg
	}
}

// WithForceTemp forces the use of a temporary directory (useful for testing).
func WithForceTemp(force bool) Option {
	return func(o *options) {
		o.forceTemp = force
	}
}

// WithDevSafety controls the sandbox used under `go run` and `go test`.
// By default (true) relative destinations are re-rooted into a temporary
// directory to prevent accidental data loss.
//
// CAUTION: Only disable this if you are sure your code is safe.
func WithDevSafety(enabled bool) Option {
	return func(o *options) {
		o.devSafety = &enabled
	}
}

// WithConfigFile reads settings from a YAML file instead of the pocket.yaml
// found in the destination directory.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configFile = path
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func int64Or(v *int64, def int64) int64 {
	if v == nil {
		return def
	}
	return *v
}
