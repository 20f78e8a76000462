package pocket

import (
	"reflect"

	"github.com/aretw0/pocket/pkg/entity"
)

// inject replaces the placeholders held by objs with the tracked objects
// they stand for. Placeholders whose target is not tracked are left in place
// and stay listed by Unresolved. Must be called with p.mu held.
func (p *Pocket) inject(objs []any) {
	resolved := 0
	for _, obj := range objs {
		t, ok := p.objects[obj]
		if !ok {
			continue
		}
		t.desc.Slots(obj, func(_ *entity.Ref, slot reflect.Value) {
			if slot.IsNil() {
				return
			}
			ph := slot.Interface()
			tok, ok := p.placeholders[ph]
			if !ok {
				return
			}
			target, ok := p.byType[tok.Type][tok.ID]
			if !ok {
				return
			}
			tv := reflect.ValueOf(target)
			if !tv.Type().AssignableTo(slot.Type()) {
				return
			}
			slot.Set(tv)
			delete(p.placeholders, ph)
			resolved++
		})
	}

	if p.config.Logger != nil && len(p.placeholders) > 0 {
		p.config.Logger.Debug("references left unresolved", "resolved", resolved, "unresolved", len(p.placeholders))
	}
}
