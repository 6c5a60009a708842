package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/fieldops/fieldlink/internal/config"
	"github.com/fieldops/fieldlink/internal/protocol"
)

const (
	writeTimeout  = 10 * time.Second
	writeChanSize = 256
)

// Conn is one open transport. ReadFrame is called from a single goroutine
// and WriteFrame from a single other goroutine; Close may run concurrently
// with both and must unblock them.
type Conn interface {
	ReadFrame(ctx context.Context) (protocol.Frame, error)
	WriteFrame(ctx context.Context, f protocol.Frame) error
	Close() error
}

// Dialer opens a transport authenticated as id. Errors should wrap one of
// the package's sentinel errors so they can be classified.
type Dialer interface {
	Dial(ctx context.Context, id Identity) (Conn, error)
}

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// WithRand replaces the jitter source; r must return values in [0, 1).
func WithRand(r func() float64) Option {
	return func(s *Supervisor) { s.backoff.rand = r }
}

// SendOption customises a single Send.
type SendOption func(*sendOptions)

type sendOptions struct {
	queueIfOffline bool
}

// WithoutQueue drops the event instead of queueing it when not connected.
func WithoutQueue() SendOption {
	return func(o *sendOptions) { o.queueIfOffline = false }
}

type outbound struct {
	frame   protocol.Frame
	counted bool
}

// Supervisor keeps a single authenticated push channel alive for the life
// of a session. Construct one per session and pass it to whatever needs it.
//
// Every stimulus (API call, timer, transport event, sensor signal) is
// serialised on mu. gen is bumped by every teardown; callbacks carry the
// gen they were created under and do nothing once it is stale.
type Supervisor struct {
	cfg     config.Supervisor
	dialer  Dialer
	clock   clock.Clock
	log     *zap.Logger
	backoff Backoff

	mu            sync.Mutex
	state         State
	identity      *Identity
	gen           uint64
	conn          Conn
	writeCh       chan outbound
	writeDone     chan struct{}
	inFlight      bool
	attemptCancel context.CancelFunc
	attempt       int
	retryTimer    *clock.Timer
	retrySeq      uint64
	nextDelay     time.Duration
	queue         *Queue
	prober        *Prober
	metrics       Metrics
	foreground    bool
	online        bool
	pending       []LifecycleEvent

	dispatchMu sync.Mutex
	handlers   *registry
}

// New creates a Supervisor in StateDisconnected. Nothing happens until
// Connect is called.
func New(cfg config.Supervisor, dialer Dialer, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:        cfg,
		dialer:     dialer,
		clock:      clock.New(),
		log:        zap.NewNop(),
		backoff:    NewBackoff(cfg.Backoff),
		state:      StateDisconnected,
		queue:      NewQueue(cfg.QueueCapacity),
		foreground: true,
		online:     true,
		handlers:   newRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.prober = NewProber(s.clock, cfg.HeartbeatInterval, cfg.LatencyInterval, s.sendControl, s.recordSample)
	return s
}

// Connect binds id and starts connecting. It never blocks; progress is
// reported through OnLifecycle.
func (s *Supervisor) Connect(id Identity) {
	s.do(func() {
		if id.Token == "" {
			s.noticeLocked(ErrNoCredential)
			return
		}
		if s.identity != nil && s.identity.SubjectID == id.SubjectID {
			switch s.state {
			case StateConnected:
				return
			case StateConnecting, StateReconnecting:
				// keep the attempt, use the fresher credential next time
				s.identity.Token = id.Token
				s.identity.Role = id.Role
				return
			}
		}
		if s.identity != nil && s.identity.SubjectID != id.SubjectID {
			s.log.Info("identity changed, tearing down transport",
				zap.String("from", s.identity.SubjectID),
				zap.String("to", id.SubjectID),
			)
			s.teardownLocked()
			s.queue.Clear()
		}

		bound := id
		s.identity = &bound
		s.attempt = 0
		s.transitionLocked(StateConnecting, nil)
		s.startAttemptLocked()
	})
}

// Send transmits the event now if connected. Otherwise it is queued, unless
// WithoutQueue was given, in which case it is dropped.
func (s *Supervisor) Send(event string, payload interface{}, opts ...SendOption) {
	o := sendOptions{queueIfOffline: true}
	for _, opt := range opts {
		opt(&o)
	}

	s.do(func() {
		if s.state == StateConnected {
			s.writeLocked(event, payload)
			return
		}
		if !o.queueIfOffline {
			s.log.Debug("not connected, dropping event", zap.String("event", event))
			return
		}
		if s.queue.Enqueue(QueuedMessage{Event: event, Payload: payload, EnqueuedAt: s.clock.Now()}) {
			s.log.Debug("outbound queue full, dropped oldest", zap.Int("capacity", s.queue.Cap()))
		}
	})
}

// Disconnect stops everything: timers, retries, the transport and the
// queue. No state transition happens after it returns until the next Connect.
func (s *Supervisor) Disconnect() {
	s.do(func() {
		s.teardownLocked()
		s.queue.Clear()
		s.identity = nil
		s.attempt = 0
		s.nextDelay = 0
		s.transitionLocked(StateClosed, nil)
	})
}

// On subscribes h to inbound events of the given kind.
func (s *Supervisor) On(kind protocol.EventKind, h Handler) HandlerID {
	return s.handlers.add(kind, h)
}

// Off removes a subscription made with On.
func (s *Supervisor) Off(kind protocol.EventKind, id HandlerID) {
	s.handlers.remove(kind, id)
}

// OnLifecycle subscribes fn to state transitions and surfaced errors.
// Notices are delivered in the order they happened.
func (s *Supervisor) OnLifecycle(fn func(LifecycleEvent)) HandlerID {
	return s.handlers.addLifecycle(fn)
}

// OffLifecycle removes a subscription made with OnLifecycle.
func (s *Supervisor) OffLifecycle(id HandlerID) {
	s.handlers.removeLifecycle(id)
}

// SetForeground reacts to the session moving to or from the foreground.
// Backgrounding pauses the prober but keeps the transport open.
func (s *Supervisor) SetForeground(fg bool) {
	s.do(func() {
		if s.foreground == fg {
			return
		}
		s.foreground = fg
		if !fg {
			s.log.Debug("backgrounded, pausing heartbeat")
			s.prober.Stop()
			return
		}
		if s.state == StateConnected {
			s.log.Debug("foregrounded, resuming heartbeat")
			s.prober.Start()
			return
		}
		s.resumeLocked("foreground", s.cfg.ResumeDelay)
	})
}

// SetOnline reacts to OS-level connectivity changes.
func (s *Supervisor) SetOnline(online bool) {
	s.do(func() {
		if s.online == online {
			return
		}
		s.online = online
		if !online {
			s.log.Info("network offline")
			s.metrics.Quality = QualityDisconnected
			return
		}
		if s.state != StateConnected {
			s.resumeLocked("online", 0)
		}
	})
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the state is StateConnected.
func (s *Supervisor) IsConnected() bool {
	return s.State() == StateConnected
}

// Metrics returns a snapshot of the counters.
func (s *Supervisor) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// QueueLen returns how many outbound events are waiting for a connection.
func (s *Supervisor) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// do runs fn under the lock and then delivers any notices it produced.
func (s *Supervisor) do(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
	s.flushNotices()
}

func (s *Supervisor) startAttemptLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout)
	s.attemptCancel = cancel
	s.inFlight = true
	gen := s.gen
	id := *s.identity
	go s.runAttempt(ctx, cancel, gen, id)
}

func (s *Supervisor) runAttempt(ctx context.Context, cancel context.CancelFunc, gen uint64, id Identity) {
	defer cancel()

	s.log.Debug("dialing", zap.String("subject", id.SubjectID))
	conn, err := s.dialer.Dial(ctx, id)
	if err == nil {
		if err = s.handshake(ctx, conn, id); err != nil {
			_ = conn.Close()
			conn = nil
		}
	}

	s.do(func() {
		if gen != s.gen {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		s.inFlight = false
		s.attemptCancel = nil
		if err != nil {
			s.failLocked(err)
			return
		}
		s.openLocked(conn)
	})
}

// handshake waits for the server's greeting, then re-announces the identity
// and waits for the join to be acknowledged.
func (s *Supervisor) handshake(ctx context.Context, conn Conn, id Identity) error {
	f, err := conn.ReadFrame(ctx)
	if err != nil {
		return err
	}
	switch f.Type {
	case protocol.TypeConnected:
	case protocol.TypeError:
		return serverError(protocol.DecodeError(f))
	default:
		return fmt.Errorf("%w: unexpected first frame %q", ErrTransport, f.Type)
	}

	join, err := protocol.NewFrame(protocol.TypeJoin, protocol.JoinPayload{SubjectID: id.SubjectID, Role: id.Role})
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(ctx, join); err != nil {
		return err
	}

	for {
		f, err := conn.ReadFrame(ctx)
		if err != nil {
			return err
		}
		switch f.Type {
		case protocol.TypeJoined:
			return nil
		case protocol.TypeError:
			return serverError(protocol.DecodeError(f))
		default:
			s.log.Debug("ignoring frame before join ack", zap.String("type", f.Type))
		}
	}
}

func (s *Supervisor) openLocked(conn Conn) {
	s.conn = conn
	s.attempt = 0
	s.nextDelay = 0

	// room for a full queue drain plus live traffic
	ch := make(chan outbound, writeChanSize+s.queue.Cap())
	done := make(chan struct{})
	s.writeCh = ch
	s.writeDone = done
	gen := s.gen
	go s.writeLoop(gen, conn, ch, done)
	go s.readLoop(gen, conn)

	s.transitionLocked(StateConnected, nil)
	s.log.Info("connected", zap.Stringer("identity", *s.identity))
	if s.foreground {
		s.prober.Start()
	}
	for _, m := range s.queue.Drain() {
		s.writeLocked(m.Event, m.Payload)
	}
}

// failLocked classifies a failed attempt or a lost transport and decides
// what happens next.
func (s *Supervisor) failLocked(err error) {
	switch {
	case errors.Is(err, ErrSessionClosed):
		s.log.Info("session closed by server, not retrying", zap.Error(err))
		s.identity = nil
		s.transitionLocked(StateDisconnected, err)
	case errors.Is(err, ErrAuthRejected):
		s.metrics.ErrorCount++
		s.log.Error("credential rejected, not retrying", zap.Error(err))
		s.identity = nil
		s.transitionLocked(StateDisconnected, err)
	case errors.Is(err, ErrRateLimited):
		s.metrics.ErrorCount++
		if n := s.queue.Len(); n > 0 {
			s.log.Warn("rate limited, shedding outbound queue", zap.Int("dropped", n))
		}
		s.queue.Clear()
		s.scheduleRetryLocked(err, true)
	default:
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		s.metrics.ErrorCount++
		s.scheduleRetryLocked(err, false)
	}
}

func (s *Supervisor) scheduleRetryLocked(cause error, atCap bool) {
	if max := s.cfg.Backoff.MaxAttempts; max > 0 && s.attempt >= max {
		s.log.Error("giving up", zap.Int("attempts", s.attempt), zap.Error(cause))
		s.transitionLocked(StateDisconnected, fmt.Errorf("%w: %w", ErrMaxAttemptsExceeded, cause))
		return
	}

	delay := s.backoff.NextDelay(s.attempt)
	if atCap {
		delay = s.backoff.Cap
	}
	s.attempt++
	s.metrics.ReconnectAttempts++
	s.transitionLocked(StateReconnecting, cause)
	s.armRetryLocked(delay)
	s.log.Warn("reconnect scheduled",
		zap.Int("attempt", s.attempt),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
}

// armRetryLocked replaces any pending retry timer.
func (s *Supervisor) armRetryLocked(delay time.Duration) {
	s.cancelRetryLocked()
	s.nextDelay = delay
	gen, seq := s.gen, s.retrySeq
	s.retryTimer = s.clock.AfterFunc(delay, func() { s.retryFired(gen, seq) })
}

func (s *Supervisor) cancelRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.retrySeq++
}

func (s *Supervisor) retryFired(gen, seq uint64) {
	s.do(func() {
		if gen != s.gen || seq != s.retrySeq {
			return
		}
		s.retryTimer = nil
		if s.state != StateReconnecting || s.inFlight || s.identity == nil {
			return
		}
		s.startAttemptLocked()
	})
}

// resumeLocked short-circuits the backoff when the environment signals the
// network is usable again. It only acts while an identity is retained.
func (s *Supervisor) resumeLocked(reason string, delay time.Duration) {
	if s.identity == nil || s.inFlight {
		return
	}
	switch s.state {
	case StateReconnecting:
	case StateDisconnected:
		s.attempt = 0
		s.transitionLocked(StateReconnecting, nil)
	default:
		return
	}

	s.log.Info("resuming connection early", zap.String("reason", reason), zap.Duration("delay", delay))
	if delay <= 0 {
		s.cancelRetryLocked()
		s.startAttemptLocked()
		return
	}
	s.armRetryLocked(delay)
}

// teardownLocked releases the transport: prober first, then the retry
// timer, then the listeners (by bumping gen and stopping the writer), and
// finally the transport itself.
func (s *Supervisor) teardownLocked() {
	s.prober.Stop()
	s.cancelRetryLocked()
	if s.attemptCancel != nil {
		s.attemptCancel()
		s.attemptCancel = nil
	}
	s.inFlight = false

	s.gen++
	if s.writeDone != nil {
		close(s.writeDone)
		s.writeDone = nil
		s.writeCh = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Supervisor) transitionLocked(to State, err error) {
	prev := s.state
	if prev == to && err == nil {
		return
	}
	s.state = to
	if to != StateConnected {
		s.metrics.Quality = QualityDisconnected
	}
	if prev != to {
		s.log.Info("connection state changed", zap.Stringer("from", prev), zap.Stringer("to", to))
	}
	s.pending = append(s.pending, LifecycleEvent{Prev: prev, State: to, Err: err})
}

func (s *Supervisor) noticeLocked(err error) {
	s.pending = append(s.pending, LifecycleEvent{Prev: s.state, State: s.state, Err: err})
}

// flushNotices delivers pending lifecycle events outside the state lock.
// Only one goroutine delivers at a time; a re-entrant call from inside a
// handler leaves its notices for the active deliverer.
func (s *Supervisor) flushNotices() {
	for {
		if !s.dispatchMu.TryLock() {
			return
		}
		for {
			s.mu.Lock()
			batch := s.pending
			s.pending = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, ev := range batch {
				s.handlers.dispatchLifecycle(ev)
			}
		}
		s.dispatchMu.Unlock()

		s.mu.Lock()
		more := len(s.pending) > 0
		s.mu.Unlock()
		if !more {
			return
		}
	}
}

func (s *Supervisor) writeLocked(event string, payload interface{}) {
	f, err := protocol.NewFrame(event, payload)
	if err != nil {
		s.metrics.ErrorCount++
		s.noticeLocked(err)
		return
	}
	s.enqueueWriteLocked(outbound{frame: f, counted: true})
}

func (s *Supervisor) enqueueWriteLocked(out outbound) bool {
	select {
	case s.writeCh <- out:
		return true
	default:
		s.metrics.ErrorCount++
		s.noticeLocked(ErrWriteBufferFull)
		return false
	}
}

// sendControl is the prober's frame sink.
func (s *Supervisor) sendControl(f protocol.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.writeCh == nil {
		return false
	}
	select {
	case s.writeCh <- outbound{frame: f}:
		return true
	default:
		return false
	}
}

// recordSample is the prober's sample sink.
func (s *Supervisor) recordSample(sm Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return
	}
	if sm.Quality != QualityDisconnected {
		s.metrics.LatencyMs = sm.RTT.Milliseconds()
	}
	s.metrics.Quality = sm.Quality
}

// writeLoop is the single goroutine that writes to a transport.
func (s *Supervisor) writeLoop(gen uint64, conn Conn, ch <-chan outbound, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case out := <-ch:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := conn.WriteFrame(ctx, out.frame)
			cancel()
			if err != nil {
				s.transportLost(gen, err)
				return
			}
			if out.counted {
				s.mu.Lock()
				s.metrics.TotalMessagesSent++
				s.mu.Unlock()
			}
		}
	}
}

// readLoop is the single goroutine that reads from a transport, so inbound
// events reach subscribers in arrival order.
func (s *Supervisor) readLoop(gen uint64, conn Conn) {
	for {
		f, err := conn.ReadFrame(context.Background())
		if err != nil {
			s.transportLost(gen, err)
			return
		}
		if !s.current(gen) {
			return
		}
		s.handleFrame(gen, f)
	}
}

func (s *Supervisor) handleFrame(gen uint64, f protocol.Frame) {
	switch f.Type {
	case protocol.TypePong:
	case protocol.TypeLatencyPong:
		id := f.ID
		if id == "" {
			var p protocol.LatencyPayload
			_ = json.Unmarshal(f.Payload, &p)
			id = p.ID
		}
		s.prober.Pong(id)
	case protocol.TypePing:
		s.do(func() {
			if gen == s.gen && s.writeCh != nil {
				s.enqueueWriteLocked(outbound{frame: protocol.Frame{Type: protocol.TypePong}})
			}
		})
	case protocol.TypeError:
		err := serverError(protocol.DecodeError(f))
		s.do(func() {
			if gen != s.gen {
				return
			}
			s.metrics.ErrorCount++
			s.log.Warn("server reported error", zap.Error(err))
			s.noticeLocked(err)
		})
	default:
		if protocol.IsControl(f.Type) {
			s.log.Debug("ignoring control frame", zap.String("type", f.Type))
			return
		}
		s.handlers.dispatch(protocol.DecodeEvent(f))
	}
}

func (s *Supervisor) transportLost(gen uint64, err error) {
	s.do(func() {
		if gen != s.gen {
			return
		}
		s.log.Warn("transport lost", zap.Error(err))
		s.teardownLocked()
		s.failLocked(err)
	})
}

func (s *Supervisor) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

func serverError(p protocol.ErrorPayload) error {
	switch p.Code {
	case protocol.CodeUnauthorized, protocol.CodeForbidden:
		return fmt.Errorf("%w: %s", ErrAuthRejected, p.Message)
	case protocol.CodeRateLimited:
		return fmt.Errorf("%w: %s", ErrRateLimited, p.Message)
	case protocol.CodeSessionRevoked:
		return fmt.Errorf("%w: %s", ErrSessionClosed, p.Message)
	default:
		return fmt.Errorf("%w: server error %q: %s", ErrTransport, p.Code, p.Message)
	}
}
