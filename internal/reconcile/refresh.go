package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"voicedash/internal/backend"
	"voicedash/internal/calls"
	"voicedash/internal/campaigns"
)

// Refresh re-fetches a resource from the REST boundary and replaces its
// view model wholesale. The refresh result supersedes every event applied
// before the refresh was issued; events landing while the fetch is in
// flight may be overwritten, which is accepted (the stream has no sequence
// token to order against) and healed by the next poll.
//
// On fetch failure the stale view model is retained and the resource is
// marked degraded; there is no placeholder/sample-data substitution.
func (r *Reconciler) Refresh(ctx context.Context, res Resource) error {
	if r.fetcher == nil {
		return errors.New("reconcile: fetcher not configured")
	}

	now := r.clock()
	switch res.Kind {
	case ResourceActiveSet:
		list, err := r.fetcher.ActiveCalls(ctx)
		if err != nil {
			return r.refreshFailed(res, now, err)
		}
		r.mu.Lock()
		r.active = make(map[string]*calls.CallRecord, len(list))
		for i := range list {
			c := list[i]
			if c.Status.IsTerminal() {
				continue
			}
			r.stampWorkspace(&c)
			r.active[c.CallID] = &c
		}
		r.refreshOKLocked(res, now)
		r.mu.Unlock()
		return nil

	case ResourceCall:
		rec, err := r.fetcher.Call(ctx, res.ID)
		if err != nil {
			return r.refreshFailed(res, now, err)
		}
		msgs, terr := r.fetcher.Transcript(ctx, res.ID)

		r.mu.Lock()
		if rec.Status.IsTerminal() {
			delete(r.active, res.ID)
		} else {
			c := rec
			r.stampWorkspace(&c)
			r.active[res.ID] = &c
		}
		// Transcript fetch fails independently of call metadata (§ error
		// propagation): keep the stale transcript on error.
		if terr == nil {
			t := r.transcripts[res.ID]
			if t == nil {
				t = newTranscript()
				r.transcripts[res.ID] = t
			}
			t.replace(msgs)
		} else if !errors.Is(terr, backend.ErrNotFound) {
			r.log.Warn("transcript refresh failed", "call_id", res.ID, "err", terr)
		}
		r.refreshOKLocked(res, now)
		r.mu.Unlock()
		return nil

	case ResourceCampaign:
		p, err := r.fetcher.Campaign(ctx, res.ID)
		if err != nil {
			return r.refreshFailed(res, now, err)
		}
		r.mu.Lock()
		cp := p
		r.progress[res.ID] = &cp
		r.refreshOKLocked(res, now)
		r.mu.Unlock()
		return nil
	}
	return fmt.Errorf("reconcile: unknown resource kind %q", res.Kind)
}

func (r *Reconciler) refreshOKLocked(res Resource, now time.Time) {
	st := r.states[res]
	if st == nil {
		return
	}
	st.lastRefreshAt = now
	st.degraded = false
	st.lastErr = ""
	st.notFound = false
}

func (r *Reconciler) refreshFailed(res Resource, now time.Time, err error) error {
	r.mu.Lock()
	st := r.states[res]
	if st != nil {
		st.lastRefreshAt = now
		if errors.Is(err, backend.ErrNotFound) {
			// Absent is an explicit empty state, not a failure.
			st.notFound = true
			st.degraded = false
			st.lastErr = ""
		} else {
			st.degraded = true
			st.lastErr = err.Error()
		}
	}
	notFound := errors.Is(err, backend.ErrNotFound)
	if notFound {
		switch res.Kind {
		case ResourceCall:
			delete(r.active, res.ID)
			delete(r.transcripts, res.ID)
		case ResourceCampaign:
			delete(r.progress, res.ID)
		}
	}
	r.mu.Unlock()

	if notFound {
		return fmt.Errorf("refresh %s %s: %w", res.Kind, res.ID, err)
	}
	r.log.Warn("refresh failed, keeping stale view", "kind", res.Kind, "resource_id", res.ID, "err", err)
	return fmt.Errorf("refresh %s %s: %w", res.Kind, res.ID, err)
}

/* ===================== CONNECTION COUPLING ===================== */

// SetConnected freezes or unfreezes event application. While disconnected
// the view models are kept (not cleared) and inbound events are dropped.
func (r *Reconciler) SetConnected(connected bool) {
	r.mu.Lock()
	r.frozen = !connected
	r.mu.Unlock()
}

// Frozen reports whether events are currently being dropped.
func (r *Reconciler) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// Resync refreshes every subscribed resource. It is triggered after a
// reconnect to recover events missed while frozen, and by the poll loop as
// periodic self-heal. Failures are per-resource; one failing resource does
// not stop the others.
func (r *Reconciler) Resync(ctx context.Context) error {
	r.mu.Lock()
	resources := make([]Resource, 0, len(r.states))
	for res, st := range r.states {
		if st.refs > 0 {
			resources = append(resources, res)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, res := range resources {
		if err := r.Refresh(ctx, res); err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// Run polls subscribed resources at the fixed self-heal interval until ctx
// is canceled. The caller owns the goroutine; cancellation is the teardown
// path, so no timers outlive the reconciler.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.Frozen() {
				continue
			}
			if err := r.Resync(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("self-heal resync incomplete", "err", err)
			}
		}
	}
}

/* ===================== SNAPSHOTS ===================== */

func (r *Reconciler) metaLocked(res Resource, now time.Time) Meta {
	m := Meta{}
	if st := r.states[res]; st != nil {
		m.Subscribed = st.refs > 0
		m.LastEventAt = st.lastEventAt
		m.LastRefreshAt = st.lastRefreshAt
		m.Degraded = st.degraded
		m.LastError = st.lastErr
		m.NotFound = st.notFound
		if !st.lastEventAt.IsZero() {
			m.Idle = now.Sub(st.lastEventAt) >= r.cfg.InactivityThreshold
		}
	}
	return m
}

// InactivityState reports whether a resource has gone idle (no event
// within the threshold). Idle does not imply disconnection.
func (r *Reconciler) InactivityState(res Resource) (idle bool, since time.Duration) {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.states[res]
	if st == nil || st.lastEventAt.IsZero() {
		return false, 0
	}
	since = now.Sub(st.lastEventAt)
	return since >= r.cfg.InactivityThreshold, since
}

// ActiveCalls returns the reconciled active-call set sorted by start time,
// newest first.
func (r *Reconciler) ActiveCalls() ([]calls.CallRecord, Meta) {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.CallRecord, 0, len(r.active))
	for _, c := range r.active {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].CallID < out[j].CallID
	})
	return out, r.metaLocked(ActiveSet(), now)
}

// RecentCalls returns the in-memory ring of recently ended calls, newest
// first.
func (r *Reconciler) RecentCalls() []calls.CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.CallRecord, 0, len(r.recent))
	for i := len(r.recent) - 1; i >= 0; i-- {
		out = append(out, r.recent[i])
	}
	return out
}

// Call returns the reconciled record for one call. ok is false when the
// call is neither active nor in the recent ring.
func (r *Reconciler) Call(id string) (rec calls.CallRecord, meta Meta, ok bool) {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	meta = r.metaLocked(CallResource(id), now)
	if c := r.active[id]; c != nil {
		return *c, meta, true
	}
	for i := len(r.recent) - 1; i >= 0; i-- {
		if r.recent[i].CallID == id {
			return r.recent[i], meta, true
		}
	}
	return calls.CallRecord{}, meta, false
}

// Transcript returns the reconciled transcript plus the roles currently
// showing a typing indicator.
func (r *Reconciler) Transcript(id string) ([]calls.TranscriptMessage, []calls.MessageRole, Meta) {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	meta := r.metaLocked(CallResource(id), now)
	t := r.transcripts[id]
	if t == nil {
		return nil, nil, meta
	}
	return t.snapshot(), t.typingRoles(now, typingTTL), meta
}

// Campaign returns the reconciled campaign progress.
func (r *Reconciler) Campaign(id string) (campaigns.Progress, Meta, bool) {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	meta := r.metaLocked(CampaignResource(id), now)
	if p := r.progress[id]; p != nil {
		return *p, meta, true
	}
	return campaigns.Progress{}, meta, false
}

const typingTTL = 5 * time.Second
