package client

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldops/fieldlink/internal/config"
	"github.com/fieldops/fieldlink/internal/protocol"
)

// fakeConn is an in-memory transport. It answers join with joined and,
// when autoPong is set, latency_ping with latency_pong.
type fakeConn struct {
	inbox    chan protocol.Frame
	drops    chan error
	closed   chan struct{}
	once     sync.Once
	autoPong bool

	mu     sync.Mutex
	writes []protocol.Frame
}

func newFakeConn(autoPong bool) *fakeConn {
	return &fakeConn{
		inbox:    make(chan protocol.Frame, 64),
		drops:    make(chan error, 1),
		closed:   make(chan struct{}),
		autoPong: autoPong,
	}
}

func (c *fakeConn) ReadFrame(ctx context.Context) (protocol.Frame, error) {
	select {
	case <-c.closed:
		return protocol.Frame{}, fmt.Errorf("%w: closed", ErrTransport)
	default:
	}
	select {
	case f := <-c.inbox:
		return f, nil
	case err := <-c.drops:
		return protocol.Frame{}, err
	case <-c.closed:
		return protocol.Frame{}, fmt.Errorf("%w: closed", ErrTransport)
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	}
}

func (c *fakeConn) WriteFrame(_ context.Context, f protocol.Frame) error {
	if c.isClosed() {
		return fmt.Errorf("%w: closed", ErrTransport)
	}
	c.mu.Lock()
	c.writes = append(c.writes, f)
	c.mu.Unlock()

	switch f.Type {
	case protocol.TypeJoin:
		c.push(protocol.Frame{Type: protocol.TypeJoined})
	case protocol.TypeLatencyPing:
		if c.autoPong {
			c.push(protocol.Frame{Type: protocol.TypeLatencyPong, ID: f.ID})
		}
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(f protocol.Frame) { c.inbox <- f }

func (c *fakeConn) drop(err error) { c.drops <- err }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// written returns the frames of the given type, or every domain frame when
// frameType is empty.
func (c *fakeConn) written(frameType string) []protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Frame
	for _, f := range c.writes {
		if frameType == "" && !protocol.IsControl(f.Type) || f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

// fakeDialer hands out fakeConns. errs is consumed one entry per dial
// (nil entries succeed); once it is empty failAll applies.
type fakeDialer struct {
	mu       sync.Mutex
	errs     []error
	failAll  error
	autoPong bool
	greeting *protocol.Frame
	conns    []*fakeConn
	ids      []Identity
}

func (d *fakeDialer) Dial(_ context.Context, id Identity) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)

	var err error
	if len(d.errs) > 0 {
		err, d.errs = d.errs[0], d.errs[1:]
	} else {
		err = d.failAll
	}
	if err != nil {
		return nil, err
	}

	c := newFakeConn(d.autoPong)
	if d.greeting != nil {
		c.push(*d.greeting)
	} else {
		c.push(protocol.Frame{Type: protocol.TypeConnected})
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) lastIdentity() Identity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ids[len(d.ids)-1]
}

type recorder struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (r *recorder) record(ev LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// states returns the sequence of states entered.
func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, ev := range r.events {
		if ev.Prev != ev.State {
			out = append(out, ev.State)
		}
	}
	return out
}

func (r *recorder) lastState() (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return 0, false
	}
	return r.events[len(r.events)-1].State, true
}

// retriesSinceConnected counts scheduled retries reported after the most
// recent successful connection.
func (r *recorder) retriesSinceConnected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		switch {
		case ev.State == StateConnected:
			n = 0
		case ev.State == StateReconnecting && ev.Err != nil:
			n++
		}
	}
	return n
}

func (r *recorder) lastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Err != nil {
			return r.events[i].Err
		}
	}
	return nil
}

type harness struct {
	t   *testing.T
	clk *clock.Mock
	d   *fakeDialer
	s   *Supervisor
	rec *recorder
}

var alice = Identity{SubjectID: "tech-1", Role: "technician", Token: "tok-a"}

func newHarness(t *testing.T, mutate func(*config.Supervisor, *fakeDialer)) *harness {
	t.Helper()
	cfg := config.DefaultSupervisor()
	cfg.HandshakeTimeout = 5 * time.Second
	d := &fakeDialer{}
	if mutate != nil {
		mutate(&cfg, d)
	}

	clk := clock.NewMock()
	s := New(cfg, d,
		WithClock(clk),
		WithLogger(zap.NewNop()),
		WithRand(func() float64 { return 0.5 }),
	)
	rec := &recorder{}
	s.OnLifecycle(rec.record)
	t.Cleanup(s.Disconnect)

	return &harness{t: t, clk: clk, d: d, s: s, rec: rec}
}

func (h *harness) waitState(want State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		last, ok := h.rec.lastState()
		return ok && last == want && h.s.State() == want
	}, time.Second, time.Millisecond, "never reached %s", want)
}

// waitRetryArmed waits until the n-th retry since the last success has been
// scheduled, so advancing the clock will fire it.
func (h *harness) waitRetryArmed(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		if h.rec.retriesSinceConnected() != n {
			return false
		}
		h.s.mu.Lock()
		defer h.s.mu.Unlock()
		return h.s.attempt == n && h.s.state == StateReconnecting && h.s.retryTimer != nil
	}, time.Second, time.Millisecond, "retry %d never armed", n)
}

func (h *harness) nextDelay() time.Duration {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.nextDelay
}
