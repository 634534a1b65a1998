package feature

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/DoyleJ11/livesync/internal/mutation"
	"github.com/DoyleJ11/livesync/internal/reconcile"
	"github.com/DoyleJ11/livesync/pkg/types"
)

type LeadsSnapshot struct {
	Status Status
	Leads  []types.Lead
}

// Leads follows lead captures at a sponsor booth.
type Leads struct {
	base
	guard *mutation.Guard

	mu    sync.RWMutex
	leads []types.Lead
}

func NewLeads(ch Channel, opts Options) *Leads {
	l := &Leads{}
	l.init("leads", ch, opts)
	l.guard = mutation.NewGuard(ch,
		mutation.WithTimeout(l.opts.MutationTimeout),
		mutation.WithLogger(l.log),
	)
	l.on(types.EvtLeadCaptured, l.onCaptured)
	return l
}

func (l *Leads) Snapshot() LeadsSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LeadsSnapshot{Status: statusOf(l.ch), Leads: slices.Clone(l.leads)}
}

// CaptureLead records attendeeID as a lead. Retries must reuse key.
func (l *Leads) CaptureLead(ctx context.Context, key string, lead types.Lead) (types.Lead, error) {
	if l.isClosed() {
		return types.Lead{}, ErrFeatureClosed
	}
	if lead.AttendeeID == "" {
		return types.Lead{}, fmt.Errorf("%w: attendee id is required", reconcile.ErrInvalid)
	}
	if lead.SponsorID == "" {
		lead.SponsorID = l.opts.UserID
	}

	reply, err := l.guard.Do(ctx, mutation.Mutation{Event: types.EvtLeadCapture, Payload: lead, Key: key})
	if err != nil {
		return types.Lead{}, err
	}
	got, err := replyData[types.Lead](reply)
	if err != nil {
		return types.Lead{}, fmt.Errorf("%s reply: %w", types.EvtLeadCapture, err)
	}
	if reconcile.ValidateLead(got) == nil {
		l.apply(got)
	}
	return got, nil
}

func (l *Leads) Close() { l.close() }

func (l *Leads) onCaptured(env types.Envelope) {
	lead, ok := decode[types.Lead](&l.base, env)
	if !ok {
		return
	}
	if err := reconcile.ValidateLead(lead); err != nil {
		l.drop(env, err)
		return
	}
	l.apply(lead)
}

func (l *Leads) apply(lead types.Lead) {
	l.mu.Lock()
	l.leads = reconcile.Upsert(l.leads, lead, reconcile.LeadID, l.opts.ListLimit)
	l.mu.Unlock()
	l.changed()
}
