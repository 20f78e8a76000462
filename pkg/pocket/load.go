package pocket

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/lifecycle"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/pocket/pkg/core"
)

// decodedObject is one entity read back from the object store.
type decodedObject struct {
	obj      any
	id       string
	filename string
}

// decodedType holds everything decoded for one type name.
type decodedType struct {
	typeName     string
	objects      []decodedObject
	placeholders map[any]core.ProxyToken
}

// Load discards every tracked object and reads the whole store back.
// Objects obtained before the call are no longer tracked afterwards.
func (p *Pocket) Load(ctx context.Context) error {
	start := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.beginLoad("load"); err != nil {
		return err
	}
	defer p.loading.Store(false)

	types, err := p.config.Objects.Types(ctx)
	if err != nil {
		return p.failLoad(persistenceError("load", p.config.Objects.Source(), err))
	}
	decoded, err := p.decode(ctx, types)
	if err != nil {
		return p.failLoad(err)
	}
	p.inject(p.merge(decoded))

	p.finishLoad()
	p.config.Metrics.recordLoad(start)
	p.config.Metrics.updateTracked(len(p.objects))

	if p.config.Logger != nil {
		p.config.Logger.Info("pocket loaded",
			"source", p.config.Objects.Source(),
			"types", len(types),
			"objects", len(p.objects),
			"unresolved", len(p.placeholders),
			"duration", time.Since(start))
	}
	return nil
}

// LoadAsync loads the preload types before returning and reads the remaining
// types in the background. References from preloaded objects into types that
// are not loaded yet stay unresolved until the background phase finishes.
// Poll IsLoading to know when it has; LoadErr reports its failure.
//
// The background phase is not bound to ctx.
func (p *Pocket) LoadAsync(ctx context.Context, preload ...any) error {
	start := time.Now()

	wanted := make(map[string]bool, len(preload))
	for _, sample := range preload {
		typeName, err := p.config.Registry.NameOf(sample)
		if err != nil {
			return fmt.Errorf("load: %w", err)
		}
		wanted[typeName] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.beginLoad("load"); err != nil {
		return err
	}

	types, err := p.config.Objects.Types(ctx)
	if err != nil {
		p.loading.Store(false)
		return p.failLoad(persistenceError("load", p.config.Objects.Source(), err))
	}
	var first, rest []string
	for _, typeName := range types {
		if wanted[typeName] {
			first = append(first, typeName)
		} else {
			rest = append(rest, typeName)
		}
	}

	decoded, err := p.decode(ctx, first)
	if err != nil {
		p.loading.Store(false)
		return p.failLoad(err)
	}
	p.inject(p.merge(decoded))

	if p.config.Logger != nil {
		p.config.Logger.Debug("preloaded types", "types", first, "objects", len(p.objects), "remaining", len(rest))
	}

	lifecycle.Go(context.WithoutCancel(ctx), func(ctx context.Context) error {
		defer p.loading.Store(false)
		return p.loadRemaining(ctx, rest, start)
	}, lifecycle.WithErrorHandler(func(err error) {
		p.loading.Store(false)
		if p.config.Logger != nil {
			p.config.Logger.Error("background load panic", "error", err)
		}
	}))
	return nil
}

func (p *Pocket) loadRemaining(ctx context.Context, types []string, start time.Time) error {
	// Decoding only reads the stores; the maps are touched under the lock.
	decoded, err := p.decode(ctx, types)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == core.StateClosed {
		return nil
	}
	if err != nil {
		p.failLoad(err)
		if p.config.Logger != nil {
			p.config.Logger.Error("background load failed", "error", err)
		}
		return err
	}

	p.merge(decoded)
	all := make([]any, 0, len(p.objects))
	for obj := range p.objects {
		all = append(all, obj)
	}
	p.inject(all)

	p.finishLoad()
	p.config.Metrics.recordLoad(start)
	p.config.Metrics.updateTracked(len(p.objects))

	if p.config.Logger != nil {
		p.config.Logger.Info("pocket loaded",
			"source", p.config.Objects.Source(),
			"objects", len(p.objects),
			"unresolved", len(p.placeholders),
			"duration", time.Since(start))
	}
	return nil
}

// beginLoad resets tracking and enters the loading state.
// Must be called with p.mu held.
func (p *Pocket) beginLoad(op string) error {
	if p.state == core.StateClosed {
		return fmt.Errorf("%s: %w", op, core.ErrClosed)
	}
	if !p.loading.CompareAndSwap(false, true) {
		return &core.StateError{Op: op, State: p.state, Reason: "a load is still running"}
	}
	p.reset()
	p.loadErr = nil
	p.state = core.StateLoading
	return nil
}

// finishLoad leaves the loading state. Must be called with p.mu held.
func (p *Pocket) finishLoad() {
	if p.dirtyWhileLoading {
		p.state = core.StateDirty
	} else {
		p.state = core.StateReady
	}
	p.dirtyWhileLoading = false
}

// failLoad records err and leaves the pocket unloaded, so the guard keeps
// protecting the stored data. Must be called with p.mu held.
func (p *Pocket) failLoad(err error) error {
	p.loadErr = err
	p.state = core.StateUnloaded
	p.config.Metrics.recordFailure("load")
	return err
}

// decode reads and decodes the given types concurrently. It touches no
// tracking state and may run without p.mu.
func (p *Pocket) decode(ctx context.Context, types []string) ([]*decodedType, error) {
	results := make([]*decodedType, len(types))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.DecodeWorkers)
	for i, typeName := range types {
		g.Go(func() error {
			dt, err := p.decodeType(ctx, typeName)
			if err != nil {
				return err
			}
			results[i] = dt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pocket) decodeType(ctx context.Context, typeName string) (*decodedType, error) {
	start := time.Now()
	if _, ok := p.config.Registry.Lookup(typeName); !ok {
		return nil, &core.PersistenceError{
			Op:   "load",
			Path: typeName,
			Err:  fmt.Errorf("%w: %s is stored but not registered", core.ErrUnknownType, typeName),
		}
	}

	records, err := p.config.Objects.Read(ctx, typeName)
	if err != nil {
		return nil, persistenceError("load", typeName, err)
	}

	dt := &decodedType{
		typeName:     typeName,
		objects:      make([]decodedObject, 0, len(records)),
		placeholders: make(map[any]core.ProxyToken),
	}
	for _, rec := range records {
		var decodedID string
		obj, err := p.codec.Decode(rec.Data, typeName,
			func(_ any, id string) { decodedID = id },
			func(ph any, tok core.ProxyToken) { dt.placeholders[ph] = tok },
		)
		if err != nil {
			return nil, &core.PersistenceError{Op: "decode", Path: rec.Filename, Err: err}
		}
		dt.objects = append(dt.objects, decodedObject{obj: obj, id: decodedID, filename: rec.Filename})
	}

	if p.config.Logger != nil {
		p.config.Logger.Debug("type decoded", "type", typeName, "objects", len(records), "duration", time.Since(start))
	}
	return dt, nil
}

// merge tracks the decoded objects and returns them.
// Must be called with p.mu held.
func (p *Pocket) merge(decoded []*decodedType) []any {
	var objs []any
	for _, dt := range decoded {
		d, err := p.config.Registry.DescriptorByName(dt.typeName)
		if err != nil {
			// Checked in decodeType.
			continue
		}
		for _, o := range dt.objects {
			if prev, ok := p.byType[dt.typeName][o.id]; ok {
				if p.config.Logger != nil {
					p.config.Logger.Warn("duplicate identifier on load, keeping the last one",
						"type", dt.typeName, "id", o.id)
				}
				p.untrack(prev)
			}
			p.track(o.obj, d, o.id)
			if o.filename != p.defaultFilename(dt.typeName) {
				p.filenames[o.obj] = o.filename
			}
			objs = append(objs, o.obj)
		}
		for ph, tok := range dt.placeholders {
			p.placeholders[ph] = tok
		}
	}
	return objs
}
