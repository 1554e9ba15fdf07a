// Package workflow owns the in-memory state of one open case view. The
// Controller is the single source of truth for that case: it merges
// repository reads with live hub events, enforces the status state machine
// and role-gated mutation rules, and exposes one consistent snapshot to the
// presentation layer.
//
// The browser's single-threaded event loop becomes a mutex here. Repository
// calls run outside the lock so readers stay responsive while a write is in
// flight; per-operation in-flight flags let the presentation layer disable
// duplicate submits.
package workflow

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/pkg/caseflow"
	"github.com/clinicdesk/clinicdesk/pkg/session"
)

// ErrNotLoaded is returned by mutations invoked before a successful Load.
var ErrNotLoaded = errors.New("no case loaded")

// LoadState is the lifecycle of the loaded case.
type LoadState int

const (
	Unloaded LoadState = iota
	Loading
	Loaded
	LoadFailed
)

func (s LoadState) String() string {
	switch s {
	case Loading:
		return "Loading"
	case Loaded:
		return "Loaded"
	case LoadFailed:
		return "LoadFailed"
	}
	return "Unloaded"
}

// Repository is the slice of the case API client the controller consumes.
type Repository interface {
	Get(ctx context.Context, caseID string) (*caseflow.CaseDetail, error)
	PostVitals(ctx context.Context, caseID string, vitals caseflow.Vitals) error
	PostReport(ctx context.Context, caseID string, report caseflow.Report) error
	PatchStatus(ctx context.Context, caseID string, status caseflow.Status) error
}

// Channel is the slice of the real-time client the controller consumes.
// Room joins are additive and survive inside the channel across reconnects.
type Channel interface {
	JoinPatientCase(caseID string) error
	OnVitalsUpdated(h func(caseID string, vitals caseflow.Vitals)) func()
	OnReportUpdated(h func(caseID string, report caseflow.Report)) func()
	OnCaseStatusChanged(h func(caseID string, status caseflow.Status)) func()
}

// InFlight reports which operations currently have a request outstanding.
type InFlight struct {
	Vitals bool
	Report bool
	Status bool
}

// Snapshot is the presentation layer's read-only view of the controller.
// Case is a deep copy; mutating it never affects controller state.
type Snapshot struct {
	State    LoadState
	CaseID   string
	Case     *caseflow.CaseDetail
	LoadErr  error
	InFlight InFlight
}

// Controller coordinates one case's workflow. Safe for concurrent use.
type Controller struct {
	repo Repository
	ch   Channel
	sess *session.Session
	log  zerolog.Logger

	mu       sync.Mutex
	state    LoadState
	caseID   string
	detail   *caseflow.CaseDetail
	loadErr  error
	gen      int
	inflight InFlight
	unsubs   []func()
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the logger for dropped remote events.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// New wires a controller to its repository, real-time channel and session.
func New(repo Repository, ch Channel, sess *session.Session, opts ...Option) *Controller {
	c := &Controller{
		repo: repo,
		ch:   ch,
		sess: sess,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load fetches the case and replaces local state wholesale. A Load for a
// new id supersedes any in-flight Load: the superseded result is discarded
// when it resolves, and the superseded call returns nil without touching
// state. On success the controller subscribes to the case's hub events and
// joins its room.
func (c *Controller) Load(ctx context.Context, caseID string) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.state = Loading
	c.caseID = caseID
	c.detail = nil
	c.loadErr = nil
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	detail, err := c.repo.Get(ctx, caseID)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.state = LoadFailed
		c.loadErr = err
		c.mu.Unlock()
		return err
	}
	c.state = Loaded
	c.detail = detail
	c.subscribeLocked()
	c.mu.Unlock()

	if err := c.ch.JoinPatientCase(caseID); err != nil {
		// Live updates degrade; the loaded snapshot stays usable.
		c.log.Warn().Str("caseId", caseID).Err(err).Msg("case room join failed")
	}
	return nil
}

// subscribeLocked registers the three remote-event handlers. Each filters on
// the loaded case id; events for other cases are ignored.
func (c *Controller) subscribeLocked() {
	c.unsubs = append(c.unsubs,
		c.ch.OnVitalsUpdated(c.onRemoteVitals),
		c.ch.OnReportUpdated(c.onRemoteReport),
		c.ch.OnCaseStatusChanged(c.onRemoteStatus),
	)
}

// Refresh re-fetches the loaded case on demand. The reconnect staleness
// window is not corrected automatically; this is the explicit escape hatch.
// A concurrent Load or Unload supersedes the refresh.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.caseID == "" {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	gen := c.gen
	caseID := c.caseID
	c.mu.Unlock()

	detail, err := c.repo.Get(ctx, caseID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	if err != nil {
		return err
	}
	c.state = Loaded
	c.detail = detail
	c.loadErr = nil
	return nil
}

// SubmitVitals validates and sends a partial vitals update, then applies the
// literal submitted values locally without waiting for the echoed event.
// Requires the EditVitals capability and a non-terminal case. Validation
// failures never reach the repository.
func (c *Controller) SubmitVitals(ctx context.Context, vitals caseflow.Vitals) error {
	c.mu.Lock()
	if c.state != Loaded {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	if !c.sess.Can(caseflow.CapEditVitals) {
		c.mu.Unlock()
		return caseflow.ErrUnauthorized
	}
	if c.detail.Status.Terminal() {
		c.mu.Unlock()
		return caseflow.ErrCaseFinished
	}
	if err := vitals.Validate(); err != nil {
		c.mu.Unlock()
		return err
	}
	gen := c.gen
	caseID := c.caseID
	c.inflight.Vitals = true
	c.mu.Unlock()

	err := c.repo.PostVitals(ctx, caseID, vitals)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight.Vitals = false
	if err != nil {
		return err
	}
	if gen != c.gen || c.state != Loaded {
		return nil
	}
	if c.detail.LatestVitals == nil {
		c.detail.LatestVitals = &caseflow.Vitals{}
	}
	c.detail.LatestVitals.Apply(vitals)
	return nil
}

// SubmitReport validates and sends the diagnosis/therapy report, then
// applies it locally. Requires the EditReport capability; both fields must
// be non-empty after trimming.
func (c *Controller) SubmitReport(ctx context.Context, diagnosis, therapy string) error {
	report := caseflow.Report{Diagnosis: diagnosis, Therapy: therapy}

	c.mu.Lock()
	if c.state != Loaded {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	if !c.sess.Can(caseflow.CapEditReport) {
		c.mu.Unlock()
		return caseflow.ErrUnauthorized
	}
	if c.detail.Status.Terminal() {
		c.mu.Unlock()
		return caseflow.ErrCaseFinished
	}
	if err := report.Validate(); err != nil {
		c.mu.Unlock()
		return err
	}
	report = report.Trimmed()
	gen := c.gen
	caseID := c.caseID
	c.inflight.Report = true
	c.mu.Unlock()

	err := c.repo.PostReport(ctx, caseID, report)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight.Report = false
	if err != nil {
		return err
	}
	if gen != c.gen || c.state != Loaded {
		return nil
	}
	c.detail.MedicalReport = &report
	return nil
}

// AdvanceStatus requests the single allowed next status. Any other target
// fails locally with a TransitionError before a network call. Requires the
// EditReport capability (doctor or super-admin drives the workflow).
func (c *Controller) AdvanceStatus(ctx context.Context, target caseflow.Status) error {
	c.mu.Lock()
	if c.state != Loaded {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	if !c.sess.Can(caseflow.CapEditReport) {
		c.mu.Unlock()
		return caseflow.ErrUnauthorized
	}
	current := c.detail.Status
	if !current.CanAdvanceTo(target) {
		c.mu.Unlock()
		return &caseflow.TransitionError{From: current, To: target}
	}
	gen := c.gen
	caseID := c.caseID
	c.inflight.Status = true
	c.mu.Unlock()

	err := c.repo.PatchStatus(ctx, caseID, target)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight.Status = false
	if err != nil {
		return err
	}
	if gen != c.gen || c.state != Loaded {
		return nil
	}
	c.detail.Status = target
	return nil
}

// Remote merge policy: the incoming value overwrites the whole field group.
// Only one role owns each group under normal operation, so last-write-wins
// at group granularity is safe; same-role races are accepted as
// last-write-wins. An echo of a local submission carries the same payload
// and is therefore a no-op.

func (c *Controller) onRemoteVitals(caseID string, vitals caseflow.Vitals) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Loaded || caseID != c.caseID {
		return
	}
	v := vitals
	c.detail.LatestVitals = &v
}

func (c *Controller) onRemoteReport(caseID string, report caseflow.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Loaded || caseID != c.caseID {
		return
	}
	r := report
	c.detail.MedicalReport = &r
}

func (c *Controller) onRemoteStatus(caseID string, status caseflow.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Loaded || caseID != c.caseID {
		return
	}
	c.detail.Status = status
}

// Snapshot returns a copy of the current state for rendering. The embedded
// case detail is deep-copied.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:    c.state,
		CaseID:   c.caseID,
		LoadErr:  c.loadErr,
		InFlight: c.inflight,
	}
	if c.detail != nil {
		d := *c.detail
		if c.detail.LatestVitals != nil {
			v := *c.detail.LatestVitals
			d.LatestVitals = &v
		}
		if c.detail.MedicalReport != nil {
			r := *c.detail.MedicalReport
			d.MedicalReport = &r
		}
		snap.Case = &d
	}
	return snap
}

// Unload releases the case on navigate-away: all event subscriptions are
// removed and any in-flight result is discarded when it resolves. The
// controller can be reused with a new Load.
func (c *Controller) Unload() {
	c.mu.Lock()
	c.gen++
	c.state = Unloaded
	c.caseID = ""
	c.detail = nil
	c.loadErr = nil
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}
