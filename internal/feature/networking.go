package feature

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/DoyleJ11/livesync/internal/batch"
	"github.com/DoyleJ11/livesync/internal/reconcile"
	"github.com/DoyleJ11/livesync/pkg/types"
	"go.uber.org/zap"
)

var ErrUnknownSuggestion = errors.New("unknown suggestion")

type NetworkingSnapshot struct {
	Status      Status
	Suggestions []types.Suggestion
	// Pending lists suggestions marked viewed locally and not yet confirmed.
	Pending []string
}

// Networking queues AI match suggestions. Bursts are coalesced so a flood
// of pushes lands as one state change.
type Networking struct {
	base
	batcher *batch.Batcher[types.Suggestion]

	mu           sync.RWMutex
	suggestions  []types.Suggestion
	pending      map[string]bool
	onSuggestion []func(types.Suggestion)
}

func NewNetworking(ch Channel, opts Options) *Networking {
	n := &Networking{pending: make(map[string]bool)}
	n.init("networking", ch, opts)
	n.batcher = batch.New(n.opts.BatchQuiet, n.flush)
	n.on(types.EvtSuggestion, n.onPush)
	return n
}

// OnSuggestion registers fn to run once per suggestion after its batch is
// applied, in arrival order.
func (n *Networking) OnSuggestion(fn func(types.Suggestion)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onSuggestion = append(n.onSuggestion, fn)
}

func (n *Networking) Snapshot() NetworkingSnapshot {
	n.mu.RLock()
	defer n.mu.RUnlock()
	pending := make([]string, 0, len(n.pending))
	for id := range n.pending {
		pending = append(pending, id)
	}
	slices.Sort(pending)
	return NetworkingSnapshot{
		Status:      statusOf(n.ch),
		Suggestions: slices.Clone(n.suggestions),
		Pending:     pending,
	}
}

// MarkViewed flags a suggestion as viewed right away and confirms it with
// the server. A rejected confirmation rolls back only the viewed flag.
func (n *Networking) MarkViewed(ctx context.Context, id string) error {
	if n.isClosed() {
		return ErrFeatureClosed
	}

	n.mu.Lock()
	i := slices.IndexFunc(n.suggestions, func(s types.Suggestion) bool { return s.ID == id })
	if i < 0 {
		n.mu.Unlock()
		return ErrUnknownSuggestion
	}
	if n.suggestions[i].Viewed && !n.pending[id] {
		n.mu.Unlock()
		return nil
	}
	n.setViewed(id, true)
	n.pending[id] = true
	n.mu.Unlock()
	n.changed()

	_, err := n.ch.Call(ctx, types.EvtSuggestionView, types.ViewSuggestion{SuggestionID: id, UserID: n.opts.UserID}, n.opts.CallTimeout)

	n.mu.Lock()
	wasPending := n.pending[id]
	delete(n.pending, id)
	if err != nil && wasPending {
		n.setViewed(id, false)
	}
	n.mu.Unlock()

	if err != nil {
		n.log.Debug("view not confirmed, rolled back", zap.String("suggestion_id", id), zap.Error(err))
	}
	n.changed()
	return err
}

func (n *Networking) Close() {
	if !n.close() {
		return
	}
	n.batcher.Stop()
	n.mu.Lock()
	n.onSuggestion = nil
	n.mu.Unlock()
}

func (n *Networking) onPush(env types.Envelope) {
	s, ok := decode[types.Suggestion](&n.base, env)
	if !ok {
		return
	}
	if err := reconcile.ValidateSuggestion(s); err != nil {
		n.drop(env, err)
		return
	}
	n.batcher.Add(s)
}

// flush gets the batch newest first.
func (n *Networking) flush(items []types.Suggestion) {
	n.mu.Lock()
	if n.isClosed() {
		n.mu.Unlock()
		return
	}
	for i := range items {
		if n.pending[items[i].ID] {
			items[i].Viewed = true
		}
	}
	n.suggestions = reconcile.UpsertAll(n.suggestions, items, reconcile.SuggestionID, n.opts.ListLimit)
	callbacks := slices.Clone(n.onSuggestion)
	n.mu.Unlock()

	n.metrics.BatchFlushed(n.name)
	n.changed()
	for i := len(items) - 1; i >= 0; i-- {
		for _, fn := range callbacks {
			if n.isClosed() {
				return
			}
			fn(items[i])
		}
	}
}

func (n *Networking) setViewed(id string, viewed bool) {
	for i := range n.suggestions {
		if n.suggestions[i].ID == id {
			n.suggestions[i].Viewed = viewed
			return
		}
	}
}
