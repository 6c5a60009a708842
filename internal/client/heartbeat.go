package client

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/fieldops/fieldlink/internal/protocol"
)

// Sample is one latency observation. A missed probe yields a sample with
// Quality QualityDisconnected and zero RTT.
type Sample struct {
	RTT     time.Duration
	Quality Quality
}

// Prober runs two independent timers while started: a keep-alive ping that
// stops idle-timeout disconnects, and a latency probe whose round trip is
// classified for the UI. Each kind has at most one pending timer.
type Prober struct {
	clock          clock.Clock
	heartbeatEvery time.Duration
	latencyEvery   time.Duration
	send           func(protocol.Frame) bool
	report         func(Sample)

	mu          sync.Mutex
	running     bool
	epoch       uint64
	heartbeat   *clock.Timer
	latency     *clock.Timer
	outstanding string
	sentAt      time.Time
}

// NewProber wires a prober to a frame sink and a sample sink. Neither
// callback is invoked with the prober's lock held.
func NewProber(clk clock.Clock, heartbeatEvery, latencyEvery time.Duration, send func(protocol.Frame) bool, report func(Sample)) *Prober {
	return &Prober{
		clock:          clk,
		heartbeatEvery: heartbeatEvery,
		latencyEvery:   latencyEvery,
		send:           send,
		report:         report,
	}
}

// Start arms both timers, replacing any that are pending. The first latency
// probe goes out right away so quality is known shortly after (re)connecting
// or returning to the foreground.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.running = true
	epoch := p.epoch
	p.heartbeat = p.clock.AfterFunc(p.heartbeatEvery, func() { p.heartbeatTick(epoch) })
	p.latency = p.clock.AfterFunc(0, func() { p.latencyTick(epoch) })
}

// Stop cancels both timers and forgets any outstanding probe. Ticks already
// in flight are discarded.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Running reports whether the timers are armed.
func (p *Prober) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Prober) stopLocked() {
	p.epoch++
	p.running = false
	if p.heartbeat != nil {
		p.heartbeat.Stop()
		p.heartbeat = nil
	}
	if p.latency != nil {
		p.latency.Stop()
		p.latency = nil
	}
	p.outstanding = ""
}

func (p *Prober) heartbeatTick(epoch uint64) {
	p.mu.Lock()
	if !p.running || epoch != p.epoch {
		p.mu.Unlock()
		return
	}
	p.heartbeat = p.clock.AfterFunc(p.heartbeatEvery, func() { p.heartbeatTick(epoch) })
	p.mu.Unlock()

	p.send(protocol.Frame{Type: protocol.TypePing})
}

func (p *Prober) latencyTick(epoch uint64) {
	p.mu.Lock()
	if !p.running || epoch != p.epoch {
		p.mu.Unlock()
		return
	}
	missed := p.outstanding != ""
	id := uuid.NewString()
	p.outstanding = id
	p.sentAt = p.clock.Now()
	p.latency = p.clock.AfterFunc(p.latencyEvery, func() { p.latencyTick(epoch) })
	p.mu.Unlock()

	if missed {
		p.report(Sample{Quality: QualityDisconnected})
	}
	f, _ := protocol.NewFrame(protocol.TypeLatencyPing, protocol.LatencyPayload{ID: id})
	f.ID = id
	if !p.send(f) {
		p.report(Sample{Quality: QualityDisconnected})
	}
}

// Pong completes the outstanding probe if id matches it.
func (p *Prober) Pong(id string) {
	p.mu.Lock()
	if !p.running || id == "" || id != p.outstanding {
		p.mu.Unlock()
		return
	}
	rtt := p.clock.Since(p.sentAt)
	p.outstanding = ""
	p.mu.Unlock()

	p.report(Sample{RTT: rtt, Quality: Classify(rtt)})
}
