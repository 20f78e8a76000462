package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
)

const (
	// IndexFile maps type names to the bundle files holding them.
	IndexFile = ".op_index"
	// JSONSuffix is appended to every logical filename.
	JSONSuffix = ".json"

	indexVersion = 1
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// index represents the persistent type index.
type index struct {
	Version int                 `json:"version"`
	Types   map[string][]string `json:"types"` // type name -> bundle files
}

func newIndex() *index {
	return &index{
		Version: indexVersion,
		Types:   make(map[string][]string),
	}
}

// add registers file under typeName, keeping the list sorted and unique.
func (i *index) add(typeName, file string) {
	files := i.Types[typeName]
	at := sort.SearchStrings(files, file)
	if at < len(files) && files[at] == file {
		return
	}
	files = append(files, "")
	copy(files[at+1:], files[at:])
	files[at] = file
	i.Types[typeName] = files
}

// files returns the set of every indexed file.
func (i *index) files() map[string]bool {
	set := make(map[string]bool)
	for _, files := range i.Types {
		for _, f := range files {
			set[f] = true
		}
	}
	return set
}

func (i *index) typeNames() []string {
	names := make([]string, 0, len(i.Types))
	for n := range i.Types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// readIndex loads the index. A missing file yields an empty index and nil raw bytes.
func readIndex(fsys afero.Fs) (*index, []byte, error) {
	data, err := afero.ReadFile(fsys, IndexFile)
	if errors.Is(err, fs.ErrNotExist) {
		return newIndex(), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read index: %w", err)
	}

	idx := newIndex()
	if err := jsonAPI.Unmarshal(data, idx); err != nil {
		return nil, nil, fmt.Errorf("failed to parse index: %w", err)
	}
	if idx.Types == nil {
		idx.Types = make(map[string][]string)
	}
	return idx, data, nil
}

// writeIndex persists the index atomically and returns the bytes written.
func writeIndex(fsys afero.Fs, idx *index) ([]byte, error) {
	data, err := jsonAPI.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal index: %w", err)
	}
	if err := writeFileAtomic(fsys, IndexFile, data, 0644); err != nil {
		return nil, err
	}
	return data, nil
}
