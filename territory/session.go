package territory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// FixHandler receives fixes pushed by a LocationProvider.
type FixHandler func(RawFix)

// Subscription is a live fix stream. After Unsubscribe returns the provider
// must not invoke the handler again.
type Subscription interface {
	Unsubscribe()
}

// LocationProvider is the push-based source of fixes for one player.
type LocationProvider interface {
	// Subscribe starts delivering fixes to handler, one at a time.
	Subscribe(handler FixHandler) (Subscription, error)
	// CurrentFix returns the most recent fix, ErrNoFix when there is none
	// yet or ErrPermissionDenied when the user refused location access.
	CurrentFix(ctx context.Context) (RawFix, error)
}

// SessionState is the recording state machine.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateRecording SessionState = "recording"
	// StateClosable is recording in dominio mode with the trace back near its start.
	StateClosable SessionState = "closable"
	// StateFinished is reported once, in the event emitted by a successful finalize.
	StateFinished SessionState = "finished"
)

// GPSStatus reflects the last attempt to get a starting fix.
type GPSStatus string

const (
	StatusSearching GPSStatus = "searching"
	StatusReady     GPSStatus = "ready"
	StatusBlocked   GPSStatus = "blocked"
)

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	OwnerID        string       `json:"ownerId"`
	Mode           CaptureMode  `json:"mode,omitempty"`
	State          SessionState `json:"state"`
	Status         GPSStatus    `json:"status"`
	Points         int          `json:"points"`
	DistanceMeters float64      `json:"distanceMeters"`
	ElapsedSeconds int64        `json:"elapsedSeconds"`
	CanFinalize    bool         `json:"canFinalize"`
	Start          *GeoPoint    `json:"start,omitempty"`
	Last           *GeoPoint    `json:"last,omitempty"`
	Trace          Trace        `json:"trace,omitempty"`
}

// SessionEvent is emitted on state transitions.
type SessionEvent struct {
	State    SessionState
	Snapshot Snapshot
}

// SessionOptions configures a TrackingSession.
type SessionOptions struct {
	Thresholds   Thresholds
	TickInterval time.Duration
	// Smooth runs the trace through PathSmoother before the claim is computed.
	Smooth bool
	// OnEvent is called from the session goroutine. It must not block or
	// call back into the session.
	OnEvent func(SessionEvent)
}

// TrackingSession records one player's walk and turns it into a claim.
//
// Fixes and timer ticks are handled by a single goroutine per recording, so
// the trace, distance and closure flag are only ever touched from one place.
// Control calls (Start, Stop, Finalize, Snapshot) are safe for concurrent use.
type TrackingSession struct {
	ownerID  string
	provider LocationProvider
	opts     SessionOptions

	ctl    sync.Mutex // serializes Start/Stop/Finalize
	mu     sync.Mutex // guards rec and status
	rec    *recording
	status GPSStatus
}

// NewTrackingSession creates an idle session for ownerID.
func NewTrackingSession(ownerID string, provider LocationProvider, opts SessionOptions) *TrackingSession {
	opts.Thresholds = opts.Thresholds.WithDefaults()
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	return &TrackingSession{
		ownerID:  ownerID,
		provider: provider,
		opts:     opts,
		status:   StatusSearching,
	}
}

// OwnerID returns the player the session records for.
func (s *TrackingSession) OwnerID() string {
	return s.ownerID
}

// Start begins a recording in the given mode. It needs an accurate current
// fix to use as the origin; without one the session stays idle and reports
// StatusSearching (or StatusBlocked when permission was denied).
func (s *TrackingSession) Start(ctx context.Context, mode CaptureMode) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	if s.current() != nil {
		return ErrAlreadyRecording
	}

	fix, err := s.provider.CurrentFix(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			s.setStatus(StatusBlocked)
			return err
		}
		s.setStatus(StatusSearching)
		if errors.Is(err, ErrNoFix) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrNoFix, err)
	}

	rec := newRecording(s.ownerID, mode, s.opts)
	if res := rec.filter.Add(fix); res != FixAccepted {
		s.setStatus(StatusSearching)
		return fmt.Errorf("%w: current fix %s", ErrNoFix, res)
	}

	go rec.run(s.opts.TickInterval)

	sub, err := s.provider.Subscribe(rec.push)
	if err != nil {
		rec.shutdown()
		s.setStatus(StatusSearching)
		return fmt.Errorf("subscribing to location updates: %w", err)
	}
	rec.sub = sub

	s.mu.Lock()
	s.rec = rec
	s.status = StatusReady
	s.mu.Unlock()

	log.Printf("[SESSION] %s started %s recording at %.6f, %.6f", s.ownerID, mode, fix.Lat, fix.Lng)
	_ = rec.do(ctx, func(r *recording) { r.emit(StateRecording, StatusReady) })
	return nil
}

// Stop discards the current recording. The location subscription and timer
// are released before Stop returns; no fix reaches the discarded trace after that.
func (s *TrackingSession) Stop() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	rec := s.current()
	if rec == nil {
		return ErrNotRecording
	}
	rec.shutdown()

	s.mu.Lock()
	s.rec = nil
	s.mu.Unlock()

	log.Printf("[SESSION] %s stopped recording, trace discarded", s.ownerID)
	rec.emit(StateIdle, s.Status())
	return nil
}

// Finalize ends the recording and computes the claim from a fixed snapshot of
// the trace. When the trace is not yet eligible the recording continues and
// ErrNotClosable or ErrTooShort is returned. On success the session is idle again.
func (s *TrackingSession) Finalize(ctx context.Context) (ConquestDraft, error) {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	rec := s.current()
	if rec == nil {
		return ConquestDraft{}, ErrNotRecording
	}

	var (
		draft ConquestDraft
		ferr  error
	)
	if err := rec.do(ctx, func(r *recording) {
		draft, ferr = r.finalize()
	}); err != nil {
		return ConquestDraft{}, err
	}
	if ferr != nil {
		return ConquestDraft{}, ferr
	}

	rec.shutdown()
	s.mu.Lock()
	s.rec = nil
	s.mu.Unlock()

	log.Printf("[SESSION] %s finalized %s claim: %d m², %.0f m walked",
		s.ownerID, draft.Mode, draft.Area, draft.Distance*1000)
	rec.emit(StateFinished, s.Status())
	return draft, nil
}

// Snapshot returns the current view of the session.
func (s *TrackingSession) Snapshot(ctx context.Context) Snapshot {
	rec := s.current()
	if rec == nil {
		return Snapshot{OwnerID: s.ownerID, State: StateIdle, Status: s.Status()}
	}
	var snap Snapshot
	if err := rec.do(ctx, func(r *recording) { snap = r.snapshot(true) }); err != nil {
		return Snapshot{OwnerID: s.ownerID, State: StateIdle, Status: s.Status()}
	}
	snap.Status = s.Status()
	return snap
}

// Status returns the GPS status from the last start attempt.
func (s *TrackingSession) Status() GPSStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Recording reports whether a recording is in progress.
func (s *TrackingSession) Recording() bool {
	return s.current() != nil
}

func (s *TrackingSession) current() *recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

func (s *TrackingSession) setStatus(st GPSStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

type command struct {
	fn   func(*recording)
	done chan struct{}
}

// recording is the state owned by the session goroutine.
type recording struct {
	ownerID string
	mode    CaptureMode
	opts    SessionOptions

	filter   *PathFilter
	closure  ClosureDetector
	area     AreaComputer
	smoother PathSmoother

	elapsed  time.Duration
	closable bool

	sub   Subscription
	fixes chan RawFix
	cmds  chan command
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newRecording(ownerID string, mode CaptureMode, opts SessionOptions) *recording {
	return &recording{
		ownerID:  ownerID,
		mode:     mode,
		opts:     opts,
		filter:   NewPathFilter(opts.Thresholds),
		closure:  NewClosureDetector(opts.Thresholds),
		area:     NewAreaComputer(opts.Thresholds),
		smoother: NewPathSmoother(opts.Thresholds),
		fixes:    make(chan RawFix),
		cmds:     make(chan command),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *recording) run(tick time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case fix := <-r.fixes:
			r.handleFix(fix)
		case <-ticker.C:
			r.elapsed += tick
		case c := <-r.cmds:
			c.fn(r)
			close(c.done)
		}
	}
}

// push is the FixHandler handed to the provider. It blocks until the
// session goroutine takes the fix or the recording ends.
func (r *recording) push(fix RawFix) {
	select {
	case r.fixes <- fix:
	case <-r.quit:
	}
}

func (r *recording) do(ctx context.Context, fn func(*recording)) error {
	c := command{fn: fn, done: make(chan struct{})}
	select {
	case r.cmds <- c:
	case <-r.done:
		return ErrNotRecording
	case <-ctx.Done():
		return ctx.Err()
	}
	<-c.done
	return nil
}

// shutdown stops the goroutine, unsubscribes and waits for the goroutine to
// exit. quit is closed first so a handler blocked in push returns at once.
func (r *recording) shutdown() {
	r.once.Do(func() {
		close(r.quit)
		if r.sub != nil {
			r.sub.Unsubscribe()
		}
	})
	<-r.done
}

func (r *recording) handleFix(fix RawFix) {
	if r.filter.Add(fix) != FixAccepted {
		return
	}
	if r.mode != ModeDominio {
		return
	}
	start, _ := r.filter.Start()
	last, _ := r.filter.Last()
	closable := r.closure.Closable(start, last, r.filter.DistanceMeters())
	if closable != r.closable {
		r.closable = closable
		if closable {
			r.emit(StateClosable, StatusReady)
		} else {
			r.emit(StateRecording, StatusReady)
		}
	}
}

func (r *recording) canFinalize() error {
	return CheckFinalize(r.mode, r.closable, r.filter.DistanceMeters(), r.opts.Thresholds)
}

// CheckFinalize applies the finalize rules: every claim needs the generic
// minimum distance, a dominio claim must be closable and a livre claim must
// reach the livre unlock distance.
func CheckFinalize(mode CaptureMode, closable bool, distanceMeters float64, th Thresholds) error {
	th = th.WithDefaults()
	if distanceMeters < th.FinalizeMinMeters {
		return ErrTooShort
	}
	switch mode {
	case ModeDominio:
		if !closable {
			return ErrNotClosable
		}
	case ModeLivre:
		if distanceMeters < th.LivreUnlockMeters {
			return ErrTooShort
		}
	}
	return nil
}

// finalize runs on the session goroutine, so the trace cannot change under it.
func (r *recording) finalize() (ConquestDraft, error) {
	if err := r.canFinalize(); err != nil {
		return ConquestDraft{}, err
	}

	trace := r.filter.Trace()
	shape := trace
	if r.opts.Smooth {
		shape = r.smoother.Optimize(trace)
	}

	claim := r.area.Compute(StrategyFor(r.mode), shape)
	if claim.Area <= 0 || len(claim.Path) == 0 {
		return ConquestDraft{}, fmt.Errorf("%w: claim has no area", ErrInvalidPolygon)
	}

	secs := int64(r.elapsed / time.Second)
	return ConquestDraft{
		OwnerID:  r.ownerID,
		Mode:     r.mode,
		Path:     claim.Path,
		Trace:    trace,
		Area:     claim.Area,
		Distance: r.filter.DistanceMeters() / 1000,
		Duration: &secs,
	}, nil
}

func (r *recording) snapshot(withTrace bool) Snapshot {
	state := StateRecording
	if r.closable {
		state = StateClosable
	}
	snap := Snapshot{
		OwnerID:        r.ownerID,
		Mode:           r.mode,
		State:          state,
		Status:         StatusReady,
		Points:         r.filter.Len(),
		DistanceMeters: r.filter.DistanceMeters(),
		ElapsedSeconds: int64(r.elapsed / time.Second),
		CanFinalize:    r.canFinalize() == nil,
	}
	if start, ok := r.filter.Start(); ok {
		last, _ := r.filter.Last()
		snap.Start, snap.Last = &start, &last
	}
	if withTrace {
		snap.Trace = r.filter.Trace()
	}
	return snap
}

func (r *recording) emit(state SessionState, status GPSStatus) {
	if r.opts.OnEvent == nil {
		return
	}
	snap := r.snapshot(false)
	snap.State = state
	snap.Status = status
	r.opts.OnEvent(SessionEvent{State: state, Snapshot: snap})
}
