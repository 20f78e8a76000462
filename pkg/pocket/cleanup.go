package pocket

import (
	"context"
	"time"

	"github.com/aretw0/pocket/pkg/core"
)

// Cleanup drops every stored blob payload that no tracked blob refers to.
// Pending changes must be stored first. With no blobs tracked at all the
// blob store is deleted.
func (p *Pocket) Cleanup(ctx context.Context) error {
	start := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.guard("cleanup"); err != nil {
		return err
	}
	switch {
	case p.state == core.StateDirty:
		return &core.StateError{Op: "cleanup", State: p.state, Reason: "changes have not been stored"}
	case p.loading.Load():
		return &core.StateError{Op: "cleanup", State: p.state, Reason: "a load is still running"}
	}

	var live []*core.Blob
	for obj := range p.objects {
		if b, ok := obj.(*core.Blob); ok {
			if b.Moved() {
				return &core.StateError{Op: "cleanup", State: p.state, Reason: "blob " + b.Key() + " moved and has not been stored"}
			}
			live = append(live, b)
		}
	}

	var err error
	if len(live) == 0 {
		err = p.config.Blobs.Delete(ctx)
	} else {
		err = p.config.Blobs.Cleanup(ctx, live)
	}
	if err != nil {
		p.config.Metrics.recordFailure("cleanup")
		return persistenceError("cleanup", p.config.Objects.Source(), err)
	}
	p.config.Metrics.recordCleanup(start)

	if p.config.Logger != nil {
		p.config.Logger.Info("blobs cleaned up", "live", len(live), "duration", time.Since(start))
	}
	return nil
}
