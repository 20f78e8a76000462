package platform

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	units "github.com/docker/go-units"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// ConfigFile is the settings file looked up in the destination directory.
const ConfigFile = "pocket.yaml"

// FileConfig mirrors the options that can be set from pocket.yaml.
type FileConfig struct {
	Pretty           *bool             `yaml:"pretty"`
	SerializeNulls   *bool             `yaml:"serialize_nulls"`
	Backup           *bool             `yaml:"backup"`
	MaxBackupSize    string            `yaml:"max_backup_size"`
	MaxContainerSize string            `yaml:"max_container_size"`
	Filenames        map[string]string `yaml:"filenames"`
}

// ParseConfig decodes a YAML settings document.
func ParseConfig(data []byte) (*FileConfig, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &fc, nil
}

// loadConfig reads the explicit config file from the OS, or pocket.yaml
// from fsys when present. It returns nil when there is nothing to read.
func loadConfig(o *options, fsys afero.Fs) (*FileConfig, error) {
	var (
		data []byte
		err  error
	)
	if o.configFile != "" {
		data, err = os.ReadFile(o.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", o.configFile, err)
		}
	} else {
		data, err = afero.ReadFile(fsys, ConfigFile)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", ConfigFile, err)
		}
	}
	return ParseConfig(data)
}

// apply fills in every option that was not set explicitly.
func (fc *FileConfig) apply(o *options) error {
	if o.pretty == nil {
		o.pretty = fc.Pretty
	}
	if o.serializeNulls == nil {
		o.serializeNulls = fc.SerializeNulls
	}
	if o.backup == nil {
		o.backup = fc.Backup
	}
	if o.maxBackupSize == nil && fc.MaxBackupSize != "" {
		size, err := units.FromHumanSize(fc.MaxBackupSize)
		if err != nil {
			return fmt.Errorf("invalid max_backup_size: %w", err)
		}
		o.maxBackupSize = &size
	}
	if o.maxContainerSize == nil && fc.MaxContainerSize != "" {
		size, err := units.FromHumanSize(fc.MaxContainerSize)
		if err != nil {
			return fmt.Errorf("invalid max_container_size: %w", err)
		}
		o.maxContainerSize = &size
	}
	for typeName, filename := range fc.Filenames {
		if _, set := o.filenames[typeName]; !set {
			o.filenames[typeName] = filename
		}
	}
	return nil
}
