package fs

import (
	"time"

	"github.com/aretw0/introspection"
)

// StoreState exposes internal state for observability.
type StoreState struct {
	Path               string     `json:"path"`
	Types              int        `json:"types"`
	Files              int        `json:"files"`
	Backup             bool       `json:"backup"`
	MaxBackupSize      int64      `json:"max_backup_size"`
	WatcherActive      bool       `json:"watcher_active"`
	ExternallyModified bool       `json:"externally_modified"`
	LastBackup         *time.Time `json:"last_backup,omitempty"`
}

// State implements introspection.Introspectable.
func (s *Store) State() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StoreState{
		Path:               s.Source(),
		Types:              len(s.index.Types),
		Files:              len(s.index.files()),
		Backup:             s.config.Backup,
		MaxBackupSize:      s.config.MaxBackupSize,
		WatcherActive:      s.watcherActive,
		ExternallyModified: s.modified.Load(),
		LastBackup:         s.lastBackup,
	}
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "object-store"
}

var _ introspection.Introspectable = (*Store)(nil)
var _ introspection.Component = (*Store)(nil)
