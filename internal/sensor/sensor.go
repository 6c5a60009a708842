// Package sensor watches the process's environment and tells the supervisor
// when the session is foregrounded or backgrounded and when the network
// comes and goes.
package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/fieldops/fieldlink/internal/config"
)

// Listener receives edge-triggered environment signals.
// *client.Supervisor implements it.
type Listener interface {
	SetForeground(fg bool)
	SetOnline(online bool)
}

// Sensor polls a foreground probe and a network probe and reports changes.
// Both signals start out assumed true, matching the supervisor.
type Sensor struct {
	listener     Listener
	clock        clock.Clock
	log          *zap.Logger
	interval     time.Duration
	probeTimeout time.Duration
	foreground   func() bool
	online       func(ctx context.Context) bool

	mu      sync.Mutex
	lastFg  bool
	lastNet bool
}

// Option customises a Sensor.
type Option func(*Sensor)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Sensor) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sensor) { s.log = l }
}

// WithForegroundProbe replaces the terminal foreground check.
func WithForegroundProbe(fn func() bool) Option {
	return func(s *Sensor) { s.foreground = fn }
}

// WithNetworkProbe replaces the reachability check. A nil probe means the
// network is always considered up.
func WithNetworkProbe(fn func(ctx context.Context) bool) Option {
	return func(s *Sensor) { s.online = fn }
}

// New builds a Sensor reporting to l.
func New(l Listener, cfg config.Sensor, opts ...Option) *Sensor {
	s := &Sensor{
		listener:     l,
		clock:        clock.New(),
		log:          zap.NewNop(),
		interval:     cfg.PollInterval,
		probeTimeout: cfg.ProbeTimeout,
		foreground:   IsForeground,
		lastFg:       true,
		lastNet:      true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Poll samples both probes once and notifies the listener of any change.
func (s *Sensor) Poll(ctx context.Context) {
	fg := s.foreground()
	online := true
	if s.online != nil {
		pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
		online = s.online(pctx)
		cancel()
	}

	s.mu.Lock()
	fgChanged := fg != s.lastFg
	netChanged := online != s.lastNet
	s.lastFg, s.lastNet = fg, online
	s.mu.Unlock()

	if fgChanged {
		s.log.Debug("foreground changed", zap.Bool("foreground", fg))
		s.listener.SetForeground(fg)
	}
	if netChanged {
		s.log.Info("network reachability changed", zap.Bool("online", online))
		s.listener.SetOnline(online)
	}
}

// Run polls immediately and then every poll interval until ctx ends.
func (s *Sensor) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}
