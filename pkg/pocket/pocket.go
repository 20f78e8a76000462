// Package pocket implements the persistence context: it tracks object graphs
// in memory, writes them as JSON bundles plus blob containers, and rebuilds
// the graphs (shared and cyclic references included) on load.
//
// A Pocket is meant to be driven by one goroutine at a time. LoadAsync is the
// only call that keeps working after it returns; IsLoading reports when it is
// done.
package pocket

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/aretw0/pocket/pkg/codec"
	"github.com/aretw0/pocket/pkg/core"
	"github.com/aretw0/pocket/pkg/entity"
)

// DefaultDecodeWorkers bounds how many types are decoded at once during Load.
const DefaultDecodeWorkers = 4

// Config holds the collaborators and settings of a Pocket.
type Config struct {
	Registry *entity.Registry
	Objects  core.ObjectStore
	Blobs    core.BlobStore
	Logger   *slog.Logger

	Pretty         bool
	SerializeNulls bool

	// Filenames maps type names to the default logical filename of the type.
	Filenames map[string]string

	// Versioner, when set, snapshots the store after every successful Store.
	Versioner core.Versioner
	Metrics   *Metrics

	DecodeWorkers int
}

// tracked is the bookkeeping of one managed entity.
type tracked struct {
	typeName string
	id       string
	desc     *entity.Descriptor
}

// Pocket is the persistence context.
type Pocket struct {
	config Config
	codec  *codec.Codec

	mu      sync.RWMutex
	state   core.State
	loading atomic.Bool
	loadErr error
	// changes made while a background load is still running
	dirtyWhileLoading bool

	objects   map[any]*tracked          // identity map, keyed by pointer
	byType    map[string]map[string]any // type -> id -> object
	filenames map[any]string            // per object filename overrides
	defaults  map[string]string         // per type default filenames
	// placeholders maps decoded stand-ins to the reference they stand for.
	// Entries left after injection are unresolved references.
	placeholders map[any]core.ProxyToken
}

// New creates a Pocket over the given stores.
func New(cfg Config) (*Pocket, error) {
	if cfg.Objects == nil {
		return nil, errors.New("pocket requires an object store")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("pocket requires a blob store")
	}
	if cfg.Registry == nil {
		cfg.Registry = entity.NewRegistry(cfg.Logger)
	}
	if cfg.DecodeWorkers <= 0 {
		cfg.DecodeWorkers = DefaultDecodeWorkers
	}

	p := &Pocket{
		config: cfg,
		codec: codec.New(cfg.Registry, codec.Options{
			Pretty:         cfg.Pretty,
			SerializeNulls: cfg.SerializeNulls,
		}),
		state:    core.StateUnloaded,
		defaults: make(map[string]string, len(cfg.Filenames)),
	}
	for typeName, filename := range cfg.Filenames {
		p.defaults[typeName] = filename
	}
	p.reset()
	return p, nil
}

// Registry returns the entity registry used by the pocket.
func (p *Pocket) Registry() *entity.Registry {
	return p.config.Registry
}

// Register makes a struct type known to the pocket. Fields pointing to
// registered types are stored as references; everything else is stored by value.
func (p *Pocket) Register(sample any, name ...string) error {
	return p.config.Registry.Register(sample, name...)
}

// SetDefaultFilename makes filename the default destination for every object
// of the sample's type that has no filename of its own.
func (p *Pocket) SetDefaultFilename(sample any, filename string) error {
	typeName, err := p.config.Registry.NameOf(sample)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if filename == "" {
		delete(p.defaults, typeName)
		return nil
	}
	p.defaults[typeName] = filename
	return nil
}

// Exists reports whether the destination already holds stored data.
func (p *Pocket) Exists() bool {
	return p.config.Objects.Exists()
}

// IsLoading reports whether a load is still running.
func (p *Pocket) IsLoading() bool {
	return p.loading.Load()
}

// LoadErr returns the error of the last background load, if any.
func (p *Pocket) LoadErr() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loadErr
}

// Status returns the current lifecycle state.
func (p *Pocket) Status() core.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// IDOf returns the identifier assigned to a tracked object.
func (p *Pocket) IDOf(obj any) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.objects[obj]
	if !ok {
		return "", false
	}
	return t.id, true
}

// Unresolved returns the references that could not be matched to a loaded
// object. The fields holding them keep a placeholder carrying only the id.
func (p *Pocket) Unresolved() []core.ProxyToken {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tokens := make([]core.ProxyToken, 0, len(p.placeholders))
	for _, tok := range p.placeholders {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].Type != tokens[j].Type {
			return tokens[i].Type < tokens[j].Type
		}
		return tokens[i].ID < tokens[j].ID
	})
	return tokens
}

// Close releases both stores. Further calls fail with core.ErrClosed.
func (p *Pocket) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == core.StateClosed {
		return nil
	}
	p.state = core.StateClosed
	return errors.Join(p.config.Objects.Close(), p.config.Blobs.Close())
}

// guard rejects operations that could clobber data this pocket has not seen.
// Must be called with p.mu held.
func (p *Pocket) guard(op string) error {
	if p.state == core.StateClosed {
		return fmt.Errorf("%s: %w", op, core.ErrClosed)
	}
	if p.state == core.StateUnloaded && p.config.Objects.Exists() {
		return &core.StateError{Op: op, State: p.state, Reason: "stored data has not been loaded"}
	}
	if ct, ok := p.config.Objects.(core.ChangeTracker); ok && ct.ExternallyModified() {
		return &core.StateError{Op: op, State: p.state, Reason: "stored data changed outside this process"}
	}
	return nil
}

// markDirty records a change to the tracked set. Must be called with p.mu held.
func (p *Pocket) markDirty() {
	switch p.state {
	case core.StateLoading:
		p.dirtyWhileLoading = true
	case core.StateClosed:
	default:
		p.state = core.StateDirty
	}
}

// reset drops every tracked object. Must be called with p.mu held.
func (p *Pocket) reset() {
	p.objects = make(map[any]*tracked)
	p.byType = make(map[string]map[string]any)
	p.filenames = make(map[any]string)
	p.placeholders = make(map[any]core.ProxyToken)
	p.dirtyWhileLoading = false
}

// track adds obj to the identity map. An empty identifier field takes the
// assigned id, so blob keys and custom ids match what is tracked.
// Must be called with p.mu held.
func (p *Pocket) track(obj any, d *entity.Descriptor, id string) {
	if current, ok := d.IDValue(obj); ok && current == "" {
		d.SetID(obj, id)
	}
	p.objects[obj] = &tracked{typeName: d.Name, id: id, desc: d}
	ids := p.byType[d.Name]
	if ids == nil {
		ids = make(map[string]any)
		p.byType[d.Name] = ids
	}
	ids[id] = obj
	if b, ok := obj.(*core.Blob); ok {
		b.Attach(p.config.Blobs)
	}
}

// untrack removes obj from the identity map. Must be called with p.mu held.
func (p *Pocket) untrack(obj any) {
	t, ok := p.objects[obj]
	if !ok {
		return
	}
	delete(p.objects, obj)
	delete(p.filenames, obj)
	if ids := p.byType[t.typeName]; ids[t.id] == obj {
		delete(ids, t.id)
		if len(ids) == 0 {
			delete(p.byType, t.typeName)
		}
	}
}

// identify returns the identifier obj should carry now: the custom
// identifier field when set, otherwise the id it already has, otherwise a
// new one.
func identify(obj any, d *entity.Descriptor, current string) string {
	if custom, ok := d.IDValue(obj); ok && custom != "" {
		return custom
	}
	if current != "" {
		return current
	}
	return uuid.NewString()
}

// filenameOf returns the logical filename obj is written to.
// Must be called with p.mu held.
func (p *Pocket) filenameOf(obj any, typeName string) string {
	if f, ok := p.filenames[obj]; ok {
		return f
	}
	return p.defaultFilename(typeName)
}

func (p *Pocket) defaultFilename(typeName string) string {
	if f, ok := p.defaults[typeName]; ok {
		return f
	}
	return typeName
}
