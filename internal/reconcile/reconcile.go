// Package reconcile turns the push event stream plus periodic REST refresh
// into consistent, de-duplicated view models for calls, transcripts and
// campaigns. It is the single place where duplicate suppression, streaming
// partial-message merging, terminal-status locking and staleness tracking
// happen; everything downstream renders snapshots and holds no state of
// its own.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voicedash/internal/audit"
	"voicedash/internal/calls"
	"voicedash/internal/campaigns"
	"voicedash/internal/events"
)

// StreamSubscriber is the outbound half of the event source: the reconciler
// signals interest in resources, the source delivers events via Apply.
type StreamSubscriber interface {
	SubscribeCall(id string) error
	UnsubscribeCall(id string) error
	SubscribeCampaign(id string) error
	UnsubscribeCampaign(id string) error
}

// Fetcher is the REST boundary used for full refreshes and self-heal
// polling. Implementations return backend.ErrNotFound for absent resources.
type Fetcher interface {
	ActiveCalls(ctx context.Context) ([]calls.CallRecord, error)
	Call(ctx context.Context, id string) (calls.CallRecord, error)
	Transcript(ctx context.Context, id string) ([]calls.TranscriptMessage, error)
	Campaign(ctx context.Context, id string) (campaigns.Progress, error)
}

// AnomalyRecorder receives rejected events. Recording is best-effort.
type AnomalyRecorder interface {
	RecordAnomaly(ctx context.Context, kind audit.Kind, resourceID, detail string)
}

// RecentSink receives calls as they reach a terminal status so the recent
// list survives process restarts. Persistence failures are logged, never
// propagated.
type RecentSink interface {
	SaveCall(ctx context.Context, c calls.CallRecord) error
}

type ResourceKind string

const (
	// ResourceActiveSet is the process-wide active-calls view. The stream
	// broadcasts it; there is no per-id server subscription.
	ResourceActiveSet ResourceKind = "active_set"
	ResourceCall      ResourceKind = "call"
	ResourceCampaign  ResourceKind = "campaign"
)

type Resource struct {
	Kind ResourceKind
	ID   string
}

func ActiveSet() Resource { return Resource{Kind: ResourceActiveSet} }

func CallResource(id string) Resource { return Resource{Kind: ResourceCall, ID: id} }

func CampaignResource(id string) Resource { return Resource{Kind: ResourceCampaign, ID: id} }

// Config tunes reconciliation behavior. Poll intervals are fixed, not
// exponential: the self-heal path corrects drift, it does not chase errors.
type Config struct {
	// WorkspaceID is the workspace this gateway serves. Stream events and
	// provider callbacks identify calls only by sid, so records are
	// stamped with it before they reach the recent sink; persisted rows
	// must match the workspace filter the HTTP layer queries with.
	WorkspaceID string

	// OnRetire is invoked when a call reaches a terminal status, after it
	// entered the recent ring. It runs with the reconciler locked, so
	// implementations must not call back into the Reconciler.
	OnRetire func(calls.CallRecord)

	// PollInterval is the self-heal refresh cadence for subscribed
	// resources. Typical values are 5-60s depending on deployment.
	PollInterval time.Duration

	// InactivityThreshold marks a subscription idle when no event arrived
	// within the window. Idle is a UI hint, not a disconnection.
	InactivityThreshold time.Duration

	// DuplicateWindow is the timestamp tolerance when deciding that two
	// identical messages are the same utterance.
	DuplicateWindow time.Duration

	// RecentLimit caps the in-memory recent-calls ring.
	RecentLimit int
}

func (c Config) withDefaults() Config {
	out := c
	if out.PollInterval <= 0 {
		out.PollInterval = 30 * time.Second
	}
	if out.InactivityThreshold <= 0 {
		out.InactivityThreshold = 45 * time.Second
	}
	if out.DuplicateWindow <= 0 {
		out.DuplicateWindow = 2 * time.Second
	}
	if out.RecentLimit <= 0 {
		out.RecentLimit = 200
	}
	return out
}

// Meta is the per-resource staleness/health surface exposed alongside every
// snapshot. Degraded means the last refresh failed and the view may be
// stale; it is never silently replaced with placeholder data.
type Meta struct {
	Subscribed    bool      `json:"subscribed"`
	LastEventAt   time.Time `json:"last_event_at,omitempty"`
	LastRefreshAt time.Time `json:"last_refresh_at,omitempty"`
	Idle          bool      `json:"idle"`
	Degraded      bool      `json:"degraded"`
	LastError     string    `json:"last_error,omitempty"`
	NotFound      bool      `json:"not_found,omitempty"`
}

type resourceState struct {
	refs          int
	lastEventAt   time.Time
	lastRefreshAt time.Time
	degraded      bool
	lastErr       string
	notFound      bool
}

// Reconciler holds the reconciled view models. All methods are safe for
// concurrent use. Events for frozen (disconnected) periods are dropped and
// recovered by the resync refresh on reconnect.
type Reconciler struct {
	cfg      Config
	stream   StreamSubscriber
	fetcher  Fetcher
	anomalies AnomalyRecorder
	recents  RecentSink
	log      *slog.Logger
	clock    func() time.Time

	mu          sync.Mutex
	frozen      bool
	active      map[string]*calls.CallRecord
	transcripts map[string]*transcript
	progress    map[string]*campaigns.Progress
	recent      []calls.CallRecord
	states      map[Resource]*resourceState
}

func New(cfg Config, stream StreamSubscriber, fetcher Fetcher, anomalies AnomalyRecorder, recents RecentSink, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		cfg:        cfg.withDefaults(),
		stream:     stream,
		fetcher:    fetcher,
		anomalies:  anomalies,
		recents:    recents,
		log:        log,
		clock:      time.Now,
		active:      map[string]*calls.CallRecord{},
		transcripts: map[string]*transcript{},
		progress:    map[string]*campaigns.Progress{},
		states:      map[Resource]*resourceState{},
	}
}

/* ===================== SUBSCRIPTIONS ===================== */

// Subscribe registers interest in a resource. The server-side subscription
// is reference counted: the subscribe signal goes out on 0->1 only, so two
// views watching the same call share one stream subscription. Subscribing
// twice from the same owner is therefore harmless but must be paired with
// the same number of Unsubscribe calls.
func (r *Reconciler) Subscribe(res Resource) error {
	r.mu.Lock()
	st := r.states[res]
	if st == nil {
		st = &resourceState{}
		r.states[res] = st
	}
	st.refs++
	first := st.refs == 1
	r.mu.Unlock()

	if !first || r.stream == nil {
		return nil
	}

	var err error
	switch res.Kind {
	case ResourceCall:
		err = r.stream.SubscribeCall(res.ID)
	case ResourceCampaign:
		err = r.stream.SubscribeCampaign(res.ID)
	case ResourceActiveSet:
		// broadcast; nothing to signal
	}
	if err != nil {
		r.mu.Lock()
		st.refs--
		if st.refs <= 0 {
			delete(r.states, res)
		}
		r.mu.Unlock()
		return fmt.Errorf("subscribe %s %s: %w", res.Kind, res.ID, err)
	}
	return nil
}

// Unsubscribe releases interest. On the last release the server-side
// subscription is torn down and all local state for the resource is
// dropped, leaving zero residual state.
func (r *Reconciler) Unsubscribe(res Resource) error {
	r.mu.Lock()
	st := r.states[res]
	if st == nil {
		r.mu.Unlock()
		return nil
	}
	st.refs--
	last := st.refs <= 0
	if last {
		delete(r.states, res)
		switch res.Kind {
		case ResourceCall:
			delete(r.transcripts, res.ID)
		case ResourceCampaign:
			delete(r.progress, res.ID)
		}
	}
	r.mu.Unlock()

	if !last || r.stream == nil {
		return nil
	}
	switch res.Kind {
	case ResourceCall:
		return r.stream.UnsubscribeCall(res.ID)
	case ResourceCampaign:
		return r.stream.UnsubscribeCampaign(res.ID)
	}
	return nil
}

// Subscribed reports whether the resource currently has any subscribers.
func (r *Reconciler) Subscribed(res Resource) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.states[res]
	return st != nil && st.refs > 0
}

/* ===================== EVENT APPLICATION ===================== */

// Apply merges one normalized event into the view models. It is idempotent:
// applying the same event twice leaves the same state as applying it once.
// Events arriving while the stream is marked disconnected are dropped; the
// resync refresh on reconnect recovers anything missed.
func (r *Reconciler) Apply(ctx context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		r.log.Debug("event dropped while frozen", "kind", ev.Kind, "resource_id", ev.ResourceID())
		return
	}

	now := ev.ReceivedAt
	if now.IsZero() {
		now = r.clock()
	}

	switch ev.Kind {
	case events.KindCallUpdate:
		if ev.Call != nil {
			r.applyCallLocked(ctx, *ev.Call, now)
			r.touchLocked(CallResource(ev.Call.CallID), now)
			r.touchLocked(ActiveSet(), now)
		}
	case events.KindActiveCalls:
		for _, cu := range ev.Calls {
			r.applyCallLocked(ctx, cu, now)
		}
		r.touchLocked(ActiveSet(), now)
	case events.KindCampaignUpdate:
		if ev.Campaign != nil {
			r.applyCampaignLocked(ctx, *ev.Campaign, now)
			r.touchLocked(CampaignResource(ev.Campaign.CampaignID), now)
		}
	case events.KindTranscriptMessage, events.KindTypingIndicator, events.KindFullTranscript:
		if ev.Transcript != nil {
			r.applyTranscriptLocked(ev.Kind, *ev.Transcript, now)
			r.touchLocked(CallResource(ev.Transcript.CallID), now)
		}
	case events.KindHeartbeat:
		// connection health lives in connmon, not here
	}
}

func (r *Reconciler) touchLocked(res Resource, now time.Time) {
	if st := r.states[res]; st != nil {
		st.lastEventAt = now
	}
}

// applyCallLocked merges a call update, creating the record when the id is
// unknown (out-of-order tolerance). Terminal records never change again;
// status never moves backwards.
func (r *Reconciler) applyCallLocked(ctx context.Context, cu events.CallUpdate, now time.Time) {
	cur := r.active[cu.CallID]
	if cur == nil {
		// The call may already have retired to the recent ring; a stray
		// event must not resurrect it into the active view.
		for i := len(r.recent) - 1; i >= 0; i-- {
			if r.recent[i].CallID == cu.CallID {
				r.recordAnomalyLocked(ctx, audit.KindTerminalLock, cu.CallID,
					fmt.Sprintf("event status %q after terminal %q", cu.Status, r.recent[i].Status))
				return
			}
		}
		if cu.Status != "" && !cu.Status.IsValid() {
			r.recordAnomalyLocked(ctx, audit.KindMalformed, cu.CallID, fmt.Sprintf("unknown status %q", cu.Status))
			return
		}
		rec := callRecordFromUpdate(cu, now)
		r.stampWorkspace(&rec)
		if rec.Status.IsTerminal() {
			r.retireLocked(ctx, rec)
			return
		}
		r.active[cu.CallID] = &rec
		return
	}

	if cur.Status.IsTerminal() {
		r.recordAnomalyLocked(ctx, audit.KindTerminalLock, cu.CallID,
			fmt.Sprintf("event status %q after terminal %q", cu.Status, cur.Status))
		return
	}

	if cu.Status != "" {
		switch {
		case !cu.Status.IsValid():
			r.recordAnomalyLocked(ctx, audit.KindMalformed, cu.CallID, fmt.Sprintf("unknown status %q", cu.Status))
			return
		case calls.StatusRank(cu.Status) < calls.StatusRank(cur.Status):
			r.recordAnomalyLocked(ctx, audit.KindStaleStatus, cu.CallID,
				fmt.Sprintf("status %q behind %q", cu.Status, cur.Status))
			return
		default:
			cur.Status = cu.Status
		}
	}
	mergeCallFields(cur, cu)
	cur.UpdatedAt = now

	if cur.Status.IsTerminal() {
		rec := *cur
		delete(r.active, cu.CallID)
		r.retireLocked(ctx, rec)
	}
}

// retireLocked moves a terminal call into the recent ring and persists it.
func (r *Reconciler) retireLocked(ctx context.Context, rec calls.CallRecord) {
	r.stampWorkspace(&rec)
	r.recent = append(r.recent, rec)
	if len(r.recent) > r.cfg.RecentLimit {
		r.recent = r.recent[len(r.recent)-r.cfg.RecentLimit:]
	}
	if r.recents != nil {
		if err := r.recents.SaveCall(ctx, rec); err != nil {
			r.log.Warn("recent call persist failed", "call_id", rec.CallID, "err", err)
		}
	}
	if r.cfg.OnRetire != nil {
		r.cfg.OnRetire(rec)
	}
}

// stampWorkspace fills the workspace on records that arrived without one.
func (r *Reconciler) stampWorkspace(rec *calls.CallRecord) {
	if rec.WorkspaceID == "" {
		rec.WorkspaceID = r.cfg.WorkspaceID
	}
}

func (r *Reconciler) applyCampaignLocked(ctx context.Context, cu events.CampaignUpdate, now time.Time) {
	p := r.progress[cu.CampaignID]
	if p == nil {
		p = &campaigns.Progress{CampaignID: cu.CampaignID, Status: campaigns.StatusInProgress}
		r.progress[cu.CampaignID] = p
	}

	if p.Frozen() {
		r.recordAnomalyLocked(ctx, audit.KindFrozenCampaign, cu.CampaignID,
			fmt.Sprintf("%s after completion", cu.Type))
		return
	}

	switch cu.Type {
	case events.CampaignStatusUpdate:
		if cu.Status != "" {
			p.Status = cu.Status
		}
	case events.CampaignProgressUpdate:
		if p.MergeCounts(cu.Counts) {
			r.recordAnomalyLocked(ctx, audit.KindStaleCounters, cu.CampaignID, "counter regression ignored")
		}
		if cu.Status != "" {
			p.Status = cu.Status
		}
	case events.CampaignCallUpdate:
		if cu.Call != nil {
			r.applyCallLocked(ctx, *cu.Call, now)
		}
	}
	p.UpdatedAt = now
}

func (r *Reconciler) applyTranscriptLocked(kind events.Kind, tu events.TranscriptUpdate, now time.Time) {
	t := r.transcripts[tu.CallID]
	if t == nil {
		t = newTranscript()
		r.transcripts[tu.CallID] = t
	}
	switch kind {
	case events.KindTranscriptMessage:
		msg := calls.TranscriptMessage{
			Role:      tu.Role,
			Text:      tu.Text,
			Timestamp: tu.Timestamp,
			Speaker:   tu.Speaker,
			Partial:   tu.Partial,
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		t.applyMessage(msg, r.cfg.DuplicateWindow)
	case events.KindTypingIndicator:
		t.setTyping(tu.Role, now)
	case events.KindFullTranscript:
		t.replace(tu.Messages)
	}
}

func (r *Reconciler) recordAnomalyLocked(ctx context.Context, kind audit.Kind, resourceID, detail string) {
	r.log.Debug("event rejected", "kind", kind, "resource_id", resourceID, "detail", detail)
	if r.anomalies != nil {
		r.anomalies.RecordAnomaly(ctx, kind, resourceID, detail)
	}
}

func callRecordFromUpdate(cu events.CallUpdate, now time.Time) calls.CallRecord {
	rec := calls.CallRecord{
		CallID:     cu.CallID,
		CampaignID: cu.CampaignID,
		From:       cu.From,
		To:         cu.To,
		Status:     cu.Status,
		UpdatedAt:  now,
	}
	if rec.Status == "" {
		rec.Status = calls.CallStatusInitiated
	}
	mergeCallFields(&rec, cu)
	return rec
}

// mergeCallFields copies the sparse fields of an update onto a record.
// Zero values mean "absent", not "reset".
func mergeCallFields(dst *calls.CallRecord, cu events.CallUpdate) {
	if cu.From != "" {
		dst.From = cu.From
	}
	if cu.To != "" {
		dst.To = cu.To
	}
	if cu.CampaignID != "" {
		dst.CampaignID = cu.CampaignID
	}
	if !cu.StartTime.IsZero() {
		dst.StartTime = cu.StartTime
	}
	if cu.DurationSeconds > 0 {
		dst.DurationSeconds = cu.DurationSeconds
	}
	if cu.AnsweredBy != "" {
		dst.AnsweredBy = cu.AnsweredBy
	}
	if cu.RecordingCount > dst.RecordingCount {
		dst.RecordingCount = cu.RecordingCount
	}
}
