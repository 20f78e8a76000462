package pocket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aretw0/pocket/pkg/core"
	"github.com/aretw0/pocket/pkg/entity"
)

// Store writes every tracked object to the object store and every blob with
// pending bytes to the blob store.
//
// The object graph is walked again first, so entities attached after Add are
// picked up, and identifiers are recomputed so edits to identifier fields are
// honoured. Each object is written in full exactly once; every other place it
// is referenced from holds a proxy token.
func (p *Pocket) Store(ctx context.Context) error {
	start := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.guard("store"); err != nil {
		return err
	}
	if p.loading.Load() {
		return &core.StateError{Op: "store", State: p.state, Reason: "a load is still running"}
	}

	err := p.storeLocked(ctx, start)
	if err != nil {
		p.config.Metrics.recordFailure("store")
	}
	return err
}

func (p *Pocket) storeLocked(ctx context.Context, start time.Time) (err error) {
	// The graph may have grown since the objects were added.
	roots := make([]any, 0, len(p.objects))
	known := make(map[any]bool, len(p.objects))
	for obj := range p.objects {
		roots = append(roots, obj)
		known[obj] = true
	}
	// Objects discovered by a failed store are not kept.
	defer func() {
		if err == nil {
			return
		}
		for obj := range p.objects {
			if !known[obj] {
				p.untrack(obj)
			}
		}
	}()

	for _, obj := range roots {
		d, err := p.config.Registry.DescriptorOf(obj)
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}
		t := p.objects[obj]
		t.desc = d
		var derr error
		d.Targets(obj, func(_ *entity.Ref, target any) {
			if derr != nil {
				return
			}
			if _, ok := p.objects[target]; ok {
				return
			}
			if _, ok := p.placeholders[target]; ok {
				return
			}
			td, err := p.config.Registry.DescriptorOf(target)
			if err != nil {
				derr = err
				return
			}
			_, derr = p.discover(target, td)
		})
		if derr != nil {
			return fmt.Errorf("store: %w", derr)
		}
	}

	byType, err := p.reidentify()
	if err != nil {
		return err
	}
	p.byType = byType

	bundles, count, err := p.encodeAll(ctx)
	if err != nil {
		return err
	}

	var dirty []*core.Blob
	var blobBytes int64
	for obj := range p.objects {
		b, ok := obj.(*core.Blob)
		if !ok || !b.Dirty() {
			continue
		}
		// A moved blob reads its payload from the old key.
		data, err := b.Bytes()
		if errors.Is(err, core.ErrBlobNotFound) {
			// Nothing was ever stored under the old key.
			b.MarkClean()
			continue
		}
		if err != nil {
			return persistenceError("store blobs", b.Key(), err)
		}
		dirty = append(dirty, b)
		blobBytes += int64(len(data))
	}
	sort.Slice(dirty, func(i, j int) bool { return dirty[i].Key() < dirty[j].Key() })

	if err := p.config.Objects.Write(ctx, bundles); err != nil {
		return persistenceError("store", p.config.Objects.Source(), err)
	}
	if len(dirty) > 0 {
		if err := p.config.Blobs.Write(ctx, dirty); err != nil {
			return persistenceError("store blobs", p.config.Objects.Source(), err)
		}
	}

	p.state = core.StateReady
	p.config.Metrics.recordStore(start, len(dirty), blobBytes)
	p.config.Metrics.updateTracked(len(p.objects))

	if p.config.Logger != nil {
		p.config.Logger.Info("pocket stored",
			"source", p.config.Objects.Source(),
			"objects", count,
			"files", len(bundles),
			"blobs", len(dirty),
			"duration", time.Since(start))
	}

	if p.config.Versioner != nil {
		msg := fmt.Sprintf("pocket: store %d objects, %d blobs", count, len(dirty))
		if err := p.config.Versioner.Snapshot(msg); err != nil && p.config.Logger != nil {
			p.config.Logger.Warn("versioning snapshot failed", "error", err)
		}
	}
	return nil
}

// reidentify recomputes the identifier of every tracked object and returns
// the resulting type/id map. Nothing is changed when two objects of one type
// end up with the same identifier. Must be called with p.mu held.
func (p *Pocket) reidentify() (map[string]map[string]any, error) {
	ids := make(map[any]string, len(p.objects))
	byType := make(map[string]map[string]any)
	var dups []error
	for obj, t := range p.objects {
		id := identify(obj, t.desc, t.id)
		ids[obj] = id
		m := byType[t.typeName]
		if m == nil {
			m = make(map[string]any)
			byType[t.typeName] = m
		}
		if _, taken := m[id]; taken {
			dups = append(dups, fmt.Errorf("%w: %s %q", core.ErrDuplicateID, t.typeName, id))
			continue
		}
		m[id] = obj
	}
	if len(dups) > 0 {
		return nil, errors.Join(dups...)
	}
	for obj, id := range ids {
		p.objects[obj].id = id
	}
	return byType, nil
}

// encodeAll renders every tracked object as a root member, grouped by
// destination file and type. Must be called with p.mu held.
func (p *Pocket) encodeAll(ctx context.Context) (core.Bundles, int, error) {
	resolve := func(target any) (core.ProxyToken, error) {
		if t, ok := p.objects[target]; ok {
			return core.ProxyToken{Type: t.typeName, ID: t.id}, nil
		}
		if tok, ok := p.placeholders[target]; ok {
			return tok, nil
		}
		return core.ProxyToken{}, fmt.Errorf("reference to untracked %T", target)
	}

	typeNames := make([]string, 0, len(p.byType))
	for typeName := range p.byType {
		typeNames = append(typeNames, typeName)
	}
	sort.Strings(typeNames)

	bundles := make(core.Bundles)
	count := 0
	for _, typeName := range typeNames {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		objs := p.byType[typeName]
		ids := make([]string, 0, len(objs))
		for id := range objs {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			obj := objs[id]
			data, err := p.codec.Encode(obj, id, true, resolve)
			if err != nil {
				return nil, 0, &core.PersistenceError{Op: "encode", Path: typeName + "/" + id, Err: err}
			}
			filename := p.filenameOf(obj, typeName)
			if bundles[filename] == nil {
				bundles[filename] = make(map[string][][]byte)
			}
			bundles[filename][typeName] = append(bundles[filename][typeName], data)
			count++
		}
	}
	return bundles, count, nil
}

// persistenceError wraps err unless it already carries a path.
func persistenceError(op, path string, err error) error {
	var pe *core.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &core.PersistenceError{Op: op, Path: path, Err: err}
}
