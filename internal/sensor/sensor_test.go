package sensor

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fieldlink/internal/config"
)

type fakeListener struct {
	mu     sync.Mutex
	fg     []bool
	online []bool
}

func (l *fakeListener) SetForeground(fg bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fg = append(l.fg, fg)
}

func (l *fakeListener) SetOnline(online bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.online = append(l.online, online)
}

func (l *fakeListener) calls() ([]bool, []bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.fg...), append([]bool(nil), l.online...)
}

var testCfg = config.Sensor{PollInterval: 2 * time.Second, ProbeTimeout: time.Second}

func TestPoll_EdgeTriggered(t *testing.T) {
	var fg, online atomic.Bool
	fg.Store(true)
	online.Store(true)

	l := &fakeListener{}
	s := New(l, testCfg,
		WithForegroundProbe(fg.Load),
		WithNetworkProbe(func(context.Context) bool { return online.Load() }),
	)
	ctx := context.Background()

	s.Poll(ctx)
	gotFg, gotNet := l.calls()
	assert.Empty(t, gotFg)
	assert.Empty(t, gotNet)

	fg.Store(false)
	s.Poll(ctx)
	s.Poll(ctx)
	online.Store(false)
	s.Poll(ctx)
	fg.Store(true)
	online.Store(true)
	s.Poll(ctx)

	gotFg, gotNet = l.calls()
	assert.Equal(t, []bool{false, true}, gotFg)
	assert.Equal(t, []bool{false, true}, gotNet)
}

func TestPoll_NilNetworkProbeIsOnline(t *testing.T) {
	l := &fakeListener{}
	s := New(l, testCfg, WithForegroundProbe(func() bool { return true }))

	s.Poll(context.Background())

	_, gotNet := l.calls()
	assert.Empty(t, gotNet)
}

func TestRun_PollsOnTicker(t *testing.T) {
	var online atomic.Bool
	clk := clock.NewMock()
	l := &fakeListener{}
	s := New(l, testCfg,
		WithClock(clk),
		WithForegroundProbe(func() bool { return true }),
		WithNetworkProbe(func(context.Context) bool { return online.Load() }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// the immediate poll reports the network down
	require.Eventually(t, func() bool {
		_, gotNet := l.calls()
		return len(gotNet) == 1
	}, time.Second, time.Millisecond)

	online.Store(true)
	clk.Add(2 * time.Second)
	require.Eventually(t, func() bool {
		_, gotNet := l.calls()
		return len(gotNet) == 2
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, gotNet := l.calls()
	assert.Equal(t, []bool{false, true}, gotNet)
}

func TestNetworkProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	up, err := NetworkProbe("ws://" + ln.Addr().String() + "/ws")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, up(ctx))

	require.NoError(t, ln.Close())
	assert.False(t, up(ctx))
}

func TestNetworkProbe_BadURL(t *testing.T) {
	_, err := NetworkProbe("ws:///no-host")
	assert.Error(t, err)
}
