package pocket

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aretw0/pocket/pkg/core"
	"github.com/aretw0/pocket/pkg/entity"
)

// Add tracks obj and every entity reachable from it.
// The type of obj is registered on first use; referenced types must be
// registered beforehand to be stored as references.
func (p *Pocket) Add(obj any) error {
	return p.add("add", obj, "")
}

// AddTo tracks obj like Add and writes it to filename instead of its type's
// default file.
func (p *Pocket) AddTo(obj any, filename string) error {
	return p.add("add", obj, filename)
}

func (p *Pocket) add(op string, obj any, filename string) error {
	d, err := p.describeRoot(obj)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.guard(op); err != nil {
		return err
	}
	added, err := p.discover(obj, d)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if filename != "" {
		p.filenames[obj] = filename
	}
	p.markDirty()
	p.config.Metrics.updateTracked(len(p.objects))

	if p.config.Logger != nil && added > 0 {
		p.config.Logger.Debug("objects tracked", "type", d.Name, "added", added, "tracked", len(p.objects))
	}
	return nil
}

// describeRoot registers the type of obj when needed and describes it.
func (p *Pocket) describeRoot(obj any) (*entity.Descriptor, error) {
	d, err := p.config.Registry.DescriptorOf(obj)
	if errors.Is(err, core.ErrUnknownType) {
		if err := p.config.Registry.Register(obj); err != nil {
			return nil, err
		}
		d, err = p.config.Registry.DescriptorOf(obj)
	}
	return d, err
}

// discover tracks root and everything reachable from it that is not tracked
// yet, returning how many objects were added. Must be called with p.mu held.
func (p *Pocket) discover(root any, d *entity.Descriptor) (int, error) {
	if _, ok := p.objects[root]; ok {
		return 0, nil
	}

	type item struct {
		obj  any
		desc *entity.Descriptor
	}
	added := 0
	stack := []item{{root, d}}
	p.track(root, d, identify(root, d, ""))

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		added++

		var err error
		it.desc.Targets(it.obj, func(_ *entity.Ref, target any) {
			if err != nil {
				return
			}
			if _, ok := p.objects[target]; ok {
				return
			}
			// Unresolved placeholders stay references; they are never entities.
			if _, ok := p.placeholders[target]; ok {
				return
			}
			td, derr := p.config.Registry.DescriptorOf(target)
			if derr != nil {
				err = derr
				return
			}
			p.track(target, td, identify(target, td, ""))
			stack = append(stack, item{target, td})
		})
		if err != nil {
			return added, err
		}
	}
	return added, nil
}

// Remove stops tracking obj, so the next Store leaves it out. Blobs referenced
// directly by obj are removed with it; other referenced objects stay tracked.
// Unknown objects and nil are ignored.
func (p *Pocket) Remove(obj any) error {
	if obj == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == core.StateClosed {
		return fmt.Errorf("remove: %w", core.ErrClosed)
	}
	t, ok := p.objects[obj]
	if !ok {
		return nil
	}

	removed := 1
	p.untrack(obj)
	if _, isBlob := obj.(*core.Blob); !isBlob {
		t.desc.Targets(obj, func(_ *entity.Ref, target any) {
			if b, ok := target.(*core.Blob); ok {
				if _, tracked := p.objects[b]; tracked {
					p.untrack(b)
					removed++
				}
			}
		})
	}
	p.markDirty()
	p.config.Metrics.updateTracked(len(p.objects))

	if p.config.Logger != nil {
		p.config.Logger.Debug("objects untracked", "type", t.typeName, "id", t.id, "removed", removed)
	}
	return nil
}

// Find returns the tracked object of sample's type with the given id.
func (p *Pocket) Find(id string, sample any) (any, error) {
	typeName, err := p.config.Registry.NameOf(sample)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.guard("find"); err != nil {
		return nil, err
	}
	obj, ok := p.byType[typeName][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", core.ErrNotFound, typeName, id)
	}
	return obj, nil
}

// FindAll returns the tracked objects of sample's type ordered by id.
// The slice is a copy; changing it does not affect tracking.
func (p *Pocket) FindAll(sample any) ([]any, error) {
	typeName, err := p.config.Registry.NameOf(sample)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.guard("find all"); err != nil {
		return nil, err
	}
	ids := p.byType[typeName]
	keys := make([]string, 0, len(ids))
	for id := range ids {
		keys = append(keys, id)
	}
	sort.Strings(keys)

	objs := make([]any, len(keys))
	for i, id := range keys {
		objs[i] = ids[id]
	}
	return objs, nil
}
