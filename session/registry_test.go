package session

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slighter12/rojo-bridge-go/rojo"
	"github.com/slighter12/rojo-bridge-go/rojo/rojotest"
)

type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return http.DefaultTransport.RoundTrip(req)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) of(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newServer(t *testing.T) (*rojotest.Server, string, int) {
	t.Helper()
	srv := rojotest.New()
	t.Cleanup(srv.Close)
	host, port := srv.HostPort()
	return srv, host, port
}

func newRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := NewRegistry(append([]Option{WithProbeTimeout(time.Second)}, opts...)...)
	t.Cleanup(r.Close)
	return r
}

func validationCode(t *testing.T, err error) string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	return verr.Code
}

func TestConnectRejectsBadPortsWithoutNetwork(t *testing.T) {
	transport := &countingTransport{}
	r := newRegistry(t, WithHTTPClient(&http.Client{Transport: transport}))

	for _, port := range []int{0, 70000, -1} {
		_, err := r.Connect(context.Background(), "game", "localhost", port)
		assert.Equal(t, CodeInvalidPort, validationCode(t, err))
	}
	_, err := r.Connect(context.Background(), "  ", "localhost", 34872)
	assert.Equal(t, CodeNameRequired, validationCode(t, err))

	assert.Zero(t, transport.calls.Load())
	assert.Empty(t, r.Sessions())
}

func TestConnectRejectsDuplicates(t *testing.T) {
	srvA, host, portA := newServer(t)
	_, _, portB := newServer(t)
	r := newRegistry(t)

	s, err := r.Connect(context.Background(), "game", host, portA)
	require.NoError(t, err)
	assert.Equal(t, "session-1", s.Info().SessionID)
	probes := srvA.Probes()

	_, err = r.Connect(context.Background(), "other", host, portA)
	assert.Equal(t, CodePortInUse, validationCode(t, err))
	assert.Equal(t, probes, srvA.Probes(), "port conflicts are rejected before probing")

	_, err = r.Connect(context.Background(), "game", host, portB)
	assert.Equal(t, CodeNameInUse, validationCode(t, err))

	_, err = r.Connect(context.Background(), "second", host, portB)
	require.NoError(t, err)
	assert.Len(t, r.Sessions(), 2)
}

func TestConnectProbeFailure(t *testing.T) {
	srv, host, port := newServer(t)
	srv.SetDown(true)
	r := newRegistry(t)

	_, err := r.Connect(context.Background(), "game", host, port)
	assert.ErrorIs(t, err, ErrProbeFailed)
	assert.Empty(t, r.Sessions())
}

func TestConnectProbeTimeout(t *testing.T) {
	srv, host, port := newServer(t)
	srv.SetProbeDelay(2 * time.Second)
	r := newRegistry(t, WithProbeTimeout(DefaultProbeTimeout))

	start := time.Now()
	_, err := r.Connect(context.Background(), "game", host, port)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, ErrProbeFailed)
	assert.ErrorIs(t, err, rojo.ErrUnreachable)
	assert.Empty(t, r.Sessions())
}

func TestConnectDefaultsHost(t *testing.T) {
	_, _, port := newServer(t)
	r := newRegistry(t)

	s, err := r.Connect(context.Background(), "game", "", port)
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, s.Host)
}

func TestDisconnect(t *testing.T) {
	_, host, port := newServer(t)
	r := newRegistry(t)
	var log eventLog
	r.Subscribe(log.add)

	_, err := r.Connect(context.Background(), "game", host, port)
	require.NoError(t, err)
	require.Len(t, log.of(EventConnected), 1)

	s, _ := r.Get("game")
	require.NoError(t, r.Disconnect("game"))
	assert.Empty(t, r.Sessions())
	assert.False(t, s.Client.Connected())

	assert.ErrorIs(t, r.Disconnect("game"), ErrSessionNotFound)
	disconnects := log.of(EventDisconnected)
	require.Len(t, disconnects, 1)
	assert.Equal(t, "game", disconnects[0].Session)
	assert.Empty(t, disconnects[0].Message)
}

func TestRename(t *testing.T) {
	_, host, portA := newServer(t)
	_, _, portB := newServer(t)
	r := newRegistry(t)
	var log eventLog
	r.Subscribe(log.add)

	_, err := r.Connect(context.Background(), "a", host, portA)
	require.NoError(t, err)
	_, err = r.Connect(context.Background(), "b", host, portB)
	require.NoError(t, err)

	_, err = r.Rename("a", "b")
	assert.Equal(t, CodeNameInUse, validationCode(t, err))
	_, err = r.Rename("a", "")
	assert.Equal(t, CodeNameRequired, validationCode(t, err))
	_, err = r.Rename("missing", "c")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	s, err := r.Rename("a", "c")
	require.NoError(t, err)
	assert.Equal(t, "c", s.Name)
	_, ok := r.Get("a")
	assert.False(t, ok)

	renames := log.of(EventRenamed)
	require.Len(t, renames, 1)
	assert.Equal(t, "a", renames[0].PreviousName)
	assert.Equal(t, "c", renames[0].Session)
}

func TestUpdatesAreForwarded(t *testing.T) {
	srv, host, port := newServer(t)
	r := newRegistry(t)
	var log eventLog
	r.Subscribe(log.add)

	_, err := r.Connect(context.Background(), "game", host, port)
	require.NoError(t, err)
	srv.PushCursor(3)

	require.Eventually(t, func() bool { return len(log.of(EventUpdated)) == 1 }, 2*time.Second, 10*time.Millisecond)
	ev := log.of(EventUpdated)[0]
	assert.Equal(t, "game", ev.Session)
	assert.Equal(t, int64(3), ev.Cursor)
	assert.NoError(t, ev.Err)
}

func TestLivenessEvictsExactlyOnce(t *testing.T) {
	srv, host, port := newServer(t)
	mock := clock.NewMock()
	r := newRegistry(t, WithClock(mock), WithInterval(time.Second))
	var log eventLog
	r.Subscribe(log.add)

	_, err := r.Connect(context.Background(), "game", host, port)
	require.NoError(t, err)
	r.Start(context.Background())

	srv.SetDown(true)
	for range 3 {
		mock.Add(time.Second)
		require.Eventually(t, func() bool { return len(log.of(EventDisconnected)) >= 1 }, 2*time.Second, 10*time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	disconnects := log.of(EventDisconnected)
	require.Len(t, disconnects, 1)
	assert.Equal(t, "Disconnected from project game on port "+strconv.Itoa(port), disconnects[0].Message)
	assert.Error(t, disconnects[0].Err)
	assert.Empty(t, r.Sessions())
}

func TestLivenessEvictsOnProbeTimeout(t *testing.T) {
	srv, host, port := newServer(t)
	r := newRegistry(t, WithProbeTimeout(DefaultProbeTimeout))
	var log eventLog
	r.Subscribe(log.add)

	_, err := r.Connect(context.Background(), "game", host, port)
	require.NoError(t, err)

	srv.SetProbeDelay(2 * time.Second)
	start := time.Now()
	r.Sweep(context.Background())
	assert.Less(t, time.Since(start), time.Second)

	assert.Empty(t, r.Sessions())
	disconnects := log.of(EventDisconnected)
	require.Len(t, disconnects, 1)
	assert.ErrorIs(t, disconnects[0].Err, rojo.ErrUnreachable)
}

func TestLivenessKeepsHealthySessions(t *testing.T) {
	srv, host, port := newServer(t)
	mock := clock.NewMock()
	r := newRegistry(t, WithClock(mock))

	_, err := r.Connect(context.Background(), "game", host, port)
	require.NoError(t, err)
	before := srv.Probes()
	r.Start(context.Background())
	r.Start(context.Background())

	mock.Add(DefaultLivenessInterval)
	require.Eventually(t, func() bool { return srv.Probes() == before+1 }, 2*time.Second, 10*time.Millisecond)
	mock.Add(DefaultLivenessInterval)
	require.Eventually(t, func() bool { return srv.Probes() == before+2 }, 2*time.Second, 10*time.Millisecond)

	assert.Len(t, r.Sessions(), 1)
}

func TestSweepWithCancelledContextEvictsNothing(t *testing.T) {
	srv, host, port := newServer(t)
	r := newRegistry(t)
	_, err := r.Connect(context.Background(), "game", host, port)
	require.NoError(t, err)
	srv.SetDown(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Sweep(ctx)
	assert.Len(t, r.Sessions(), 1)

	r.Sweep(context.Background())
	assert.Empty(t, r.Sessions())
}

func TestCloseDisconnectsAll(t *testing.T) {
	_, host, portA := newServer(t)
	_, _, portB := newServer(t)
	r := NewRegistry()

	_, err := r.Connect(context.Background(), "a", host, portA)
	require.NoError(t, err)
	_, err = r.Connect(context.Background(), "b", host, portB)
	require.NoError(t, err)

	r.Close()
	assert.Empty(t, r.Sessions())
}
