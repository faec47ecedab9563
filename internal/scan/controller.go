package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tandem-aerosol/tandemscan/internal/bypass"
	"github.com/tandem-aerosol/tandemscan/internal/instrument"
)

// ErrSessionBusy reports a start request while a session is already active.
var ErrSessionBusy = errors.New("scan: session busy")

// ErrNotFaulted reports a reset request outside the Faulted phase.
var ErrNotFaulted = errors.New("scan: controller is not faulted")

// Phase is the controller's position in the scan life cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseReady
	PhaseRunning
	PhaseCompleting
	PhaseAborting
	PhaseFaulted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseReady:
		return "ready"
	case PhaseRunning:
		return "running"
	case PhaseCompleting:
		return "completing"
	case PhaseAborting:
		return "aborting"
	case PhaseFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Point is one completed scan step, emitted in strict plan order.
type Point struct {
	Index         int       `json:"index"`
	Classifier1   float64   `json:"classifier1"`
	Classifier2   float64   `json:"classifier2"`
	Concentration float64   `json:"concentration"`
	Bypass        bool      `json:"bypass"`
	Timestamp     time.Time `json:"timestamp"`
}

// Recorder receives completed points. Implementations must not retain the
// point past the call. A Record error is logged as a warning and does not
// fault the scan.
type Recorder interface {
	Record(p Point) error
}

// Deps bundles the instruments and sinks a session drives. Bypass and
// Recorder are optional.
type Deps struct {
	Classifier1 instrument.Classifier
	Classifier2 instrument.Classifier
	Counter     instrument.Counter
	Bypass      *bypass.Controller
	Recorder    Recorder

	Plan       Plan
	CounterCfg CounterConfig
}

const (
	// defaultReadyTimeout bounds readiness polling after a setpoint
	// acknowledges.
	defaultReadyTimeout = 60 * time.Second
	defaultReadyPoll    = time.Second
)

// Controller runs one tandem scan session at a time.
type Controller struct {
	log *slog.Logger

	// ReadyTimeout and ReadyPoll govern classifier readiness polling.
	ReadyTimeout time.Duration
	ReadyPoll    time.Duration

	mu      sync.Mutex
	phase   Phase
	session *Session
}

// Session is the run-time state for one scan. LastIndex and Err are valid
// once Done is closed or the phase reaches Faulted.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time

	deps Deps
	done chan struct{}

	mu        sync.Mutex
	abort     bool
	lastIndex int // highest emitted index, -1 before the first point
	err       error
}

// Done is closed when the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// LastIndex returns the highest plan index whose point was emitted, or -1.
func (s *Session) LastIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIndex
}

// Err returns the fault that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abort
}

// New builds an idle controller.
func New(log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		log:          log,
		phase:        PhaseIdle,
		ReadyTimeout: defaultReadyTimeout,
		ReadyPoll:    defaultReadyPoll,
	}
}

// Phase returns the controller's current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Session returns the active or faulted session, if any.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Start validates deps, acquires the session slot, and runs the scan in the
// background. It fails with ErrSessionBusy if a session is active and with
// ErrPlanMismatch on an empty plan. The returned session's Done channel
// closes when the scan completes, aborts, or faults.
func (c *Controller) Start(ctx context.Context, deps Deps) (*Session, error) {
	if deps.Plan.Len() == 0 {
		return nil, fmt.Errorf("%w: empty plan", ErrPlanMismatch)
	}
	if err := deps.CounterCfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Classifier1 == nil || deps.Classifier2 == nil || deps.Counter == nil {
		return nil, errors.New("scan: both classifiers and a counter are required")
	}

	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: controller is %s", ErrSessionBusy, c.phase)
	}
	s := &Session{
		ID:        uuid.New(),
		StartedAt: time.Now(),
		deps:      deps,
		done:      make(chan struct{}),
		lastIndex: -1,
	}
	c.phase = PhaseConnecting
	c.session = s
	c.mu.Unlock()

	c.log.Info("scan session starting",
		"session", s.ID, "steps", deps.Plan.Len(), "settle", deps.Plan.SettleDelay)

	go c.run(ctx, s)
	return s, nil
}

// Abort requests cancellation of the active session. The request is
// observed at the next step boundary; in-flight instrument calls complete
// or time out first.
func (c *Controller) Abort() {
	c.mu.Lock()
	s := c.session
	active := c.phase == PhaseConnecting || c.phase == PhaseReady || c.phase == PhaseRunning
	c.mu.Unlock()
	if s == nil || !active {
		return
	}
	s.mu.Lock()
	s.abort = true
	s.mu.Unlock()
	c.log.Info("scan abort requested", "session", s.ID)
}

// Reset clears a faulted controller back to idle.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseFaulted {
		return fmt.Errorf("%w: controller is %s", ErrNotFaulted, c.phase)
	}
	c.phase = PhaseIdle
	c.session = nil
	return nil
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Controller) run(ctx context.Context, s *Session) {
	defer close(s.done)

	if err := c.connectAll(ctx, s); err != nil {
		c.fault(s, err)
		c.teardown(ctx, s, false)
		return
	}

	if s.aborted() {
		c.finishAbort(ctx, s, false)
		return
	}
	c.setPhase(PhaseReady)
	c.setPhase(PhaseRunning)

	for i, pair := range s.deps.Plan.Pairs {
		if s.aborted() {
			c.finishAbort(ctx, s, false)
			return
		}

		// Designated entries sample through the bypass line. The valve is
		// engaged for exactly the duration of the step, so a fault inside
		// runStep must still release it on teardown.
		bypassed := pair.Bypass && s.deps.Bypass != nil
		if bypassed {
			if err := s.deps.Bypass.SetBypass(ctx, true); err != nil {
				c.fault(s, fmt.Errorf("step %d: engage bypass: %w", i, err))
				c.teardown(ctx, s, true)
				return
			}
		}

		point, err := c.runStep(ctx, s, i, pair)
		if err != nil {
			c.fault(s, fmt.Errorf("step %d: %w", i, err))
			c.teardown(ctx, s, bypassed)
			return
		}
		c.emit(s, point)

		if bypassed {
			if err := s.deps.Bypass.SetBypass(ctx, false); err != nil {
				c.fault(s, fmt.Errorf("step %d: release bypass: %w", i, err))
				c.teardown(ctx, s, false)
				return
			}
		}
	}

	c.setPhase(PhaseCompleting)
	c.teardown(ctx, s, false)
	c.log.Info("scan session complete", "session", s.ID, "points", s.LastIndex()+1)
	c.mu.Lock()
	c.phase = PhaseIdle
	c.session = nil
	c.mu.Unlock()
}

// connectAll opens all instruments concurrently, then runs classifier
// preparation. The first failure wins.
func (c *Controller) connectAll(ctx context.Context, s *Session) error {
	type task struct {
		name string
		fn   func(context.Context) error
	}
	tasks := []task{
		{string(instrument.RoleClassifier1), s.deps.Classifier1.Connect},
		{string(instrument.RoleClassifier2), s.deps.Classifier2.Connect},
		{string(instrument.RoleCounter), s.deps.Counter.Connect},
	}
	if s.deps.Bypass != nil {
		tasks = append(tasks, task{"bypass", func(context.Context) error {
			return s.deps.Bypass.Connect()
		}})
	}

	errs := make(chan error, len(tasks))
	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			if err := t.fn(ctx); err != nil {
				errs <- fmt.Errorf("%s: %w", t.name, err)
			}
		}(t)
	}
	wg.Wait()
	close(errs)
	if err := <-errs; err != nil {
		return err
	}

	prep := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := s.deps.Classifier1.Prepare(ctx); err != nil {
			prep <- fmt.Errorf("%s: prepare: %w", instrument.RoleClassifier1, err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.deps.Classifier2.Prepare(ctx); err != nil {
			prep <- fmt.Errorf("%s: prepare: %w", instrument.RoleClassifier2, err)
		}
	}()
	wg.Wait()
	close(prep)
	return <-prep
}

// runStep drives one plan entry: both setpoints concurrently, readiness,
// settle, then the averaged counter read. The counter never samples while a
// setpoint change is in flight.
func (c *Controller) runStep(ctx context.Context, s *Session, i int, pair SetpointPair) (Point, error) {
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := s.deps.Classifier1.SetSetpoint(ctx, pair.Classifier1); err != nil {
			errs <- fmt.Errorf("%s: %w", instrument.RoleClassifier1, err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.deps.Classifier2.SetSetpoint(ctx, pair.Classifier2); err != nil {
			errs <- fmt.Errorf("%s: %w", instrument.RoleClassifier2, err)
		}
	}()
	wg.Wait()
	close(errs)
	if err := <-errs; err != nil {
		return Point{}, err
	}

	if err := c.awaitReady(ctx, s); err != nil {
		return Point{}, err
	}
	if err := sleepCtx(ctx, s.deps.Plan.SettleDelay); err != nil {
		return Point{}, err
	}

	conc, err := s.deps.Counter.ReadAveraged(ctx, s.deps.CounterCfg.Window)
	if err != nil {
		return Point{}, fmt.Errorf("counter: %w", err)
	}

	return Point{
		Index:         i,
		Classifier1:   pair.Classifier1,
		Classifier2:   pair.Classifier2,
		Concentration: conc,
		Bypass:        pair.Bypass,
		Timestamp:     time.Now(),
	}, nil
}

// awaitReady polls both classifiers until each reports ready or the ready
// timeout elapses.
func (c *Controller) awaitReady(ctx context.Context, s *Session) error {
	deadline := time.Now().Add(c.ReadyTimeout)
	for _, cl := range []struct {
		name string
		inst instrument.Classifier
	}{
		{string(instrument.RoleClassifier1), s.deps.Classifier1},
		{string(instrument.RoleClassifier2), s.deps.Classifier2},
	} {
		for {
			ready, err := cl.inst.Ready(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", cl.name, err)
			}
			if ready {
				break
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("%s: not ready within %s", cl.name, c.ReadyTimeout)
			}
			if err := sleepCtx(ctx, c.ReadyPoll); err != nil {
				return err
			}
		}
	}
	return nil
}

// emit hands a completed point to the recorder and advances the session's
// index. Recorder failures are warnings, never faults.
func (c *Controller) emit(s *Session, p Point) {
	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.Record(p); err != nil {
			c.log.Warn("recorder failed",
				"session", s.ID, "index", p.Index, "error", err)
		}
	}
	s.mu.Lock()
	s.lastIndex = p.Index
	s.mu.Unlock()
}

func (c *Controller) fault(s *Session, err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	c.setPhase(PhaseFaulted)
	c.log.Error("scan session faulted",
		"session", s.ID, "last_index", s.LastIndex(), "error", err)
}

func (c *Controller) finishAbort(ctx context.Context, s *Session, bypassEngaged bool) {
	c.setPhase(PhaseAborting)
	c.teardown(ctx, s, bypassEngaged)
	c.log.Info("scan session aborted", "session", s.ID, "last_index", s.LastIndex())
	c.mu.Lock()
	c.phase = PhaseIdle
	c.session = nil
	c.mu.Unlock()
}

// teardown releases the bypass if engaged, stops the classifiers, and
// closes every connection. All of it is best-effort.
func (c *Controller) teardown(ctx context.Context, s *Session, bypassEngaged bool) {
	if bypassEngaged && s.deps.Bypass != nil {
		if err := s.deps.Bypass.SetBypass(ctx, false); err != nil {
			c.log.Warn("bypass release failed", "session", s.ID, "error", err)
		}
	}
	for _, cl := range []instrument.Classifier{s.deps.Classifier1, s.deps.Classifier2} {
		if cl.State() == instrument.Connected {
			if err := cl.Stop(ctx); err != nil {
				c.log.Warn("classifier stop failed", "session", s.ID, "error", err)
			}
		}
		if err := cl.Close(); err != nil {
			c.log.Warn("classifier close failed", "session", s.ID, "error", err)
		}
	}
	if err := s.deps.Counter.Close(); err != nil {
		c.log.Warn("counter close failed", "session", s.ID, "error", err)
	}
	if s.deps.Bypass != nil {
		if err := s.deps.Bypass.Close(); err != nil {
			c.log.Warn("bypass close failed", "session", s.ID, "error", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
