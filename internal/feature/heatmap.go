package feature

import (
	"fmt"
	"sync"

	"github.com/DoyleJ11/livesync/internal/reconcile"
	"github.com/DoyleJ11/livesync/pkg/types"
)

type HeatmapSnapshot struct {
	Status  Status
	Heatmap reconcile.Heatmap
}

// Heatmap keeps the latest normalized zone activity. A malformed push is
// dropped whole; an older push than the one shown is ignored.
type Heatmap struct {
	base

	mu      sync.RWMutex
	current reconcile.Heatmap
}

func NewHeatmap(ch Channel, opts Options) *Heatmap {
	h := &Heatmap{}
	h.init("heatmap", ch, opts)
	h.on(types.EvtHeatmapUpdated, h.onUpdate)
	return h
}

func (h *Heatmap) Snapshot() HeatmapSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HeatmapSnapshot{Status: statusOf(h.ch), Heatmap: h.current}
}

func (h *Heatmap) Close() { h.close() }

func (h *Heatmap) onUpdate(env types.Envelope) {
	up, ok := decode[types.HeatmapUpdate](&h.base, env)
	if !ok {
		return
	}
	next, err := reconcile.NormalizeHeatmap(up)
	if err != nil {
		h.drop(env, err)
		return
	}
	if next.Scope != h.ch.Scope() {
		h.drop(env, fmt.Errorf("heatmap for scope %q", next.Scope))
		return
	}

	h.mu.Lock()
	if !h.current.UpdatedAt.IsZero() && next.UpdatedAt.Before(h.current.UpdatedAt) {
		h.mu.Unlock()
		h.metrics.BroadcastDropped(env.Type, "stale")
		return
	}
	h.current = next
	h.mu.Unlock()
	h.changed()
}
