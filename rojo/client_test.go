package rojo_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slighter12/rojo-bridge-go/reflection"
	"github.com/slighter12/rojo-bridge-go/rojo"
	"github.com/slighter12/rojo-bridge-go/rojo/rojotest"
)

type updateLog struct {
	mu      sync.Mutex
	updates []rojo.Update
}

func (l *updateLog) add(u rojo.Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
}

func (l *updateLog) snapshot() []rojo.Update {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]rojo.Update(nil), l.updates...)
}

func newClient(t *testing.T, srv *rojotest.Server) *rojo.Client {
	t.Helper()
	host, port := srv.HostPort()
	info, err := rojo.Probe(context.Background(), srv.Client(), host, port)
	require.NoError(t, err)
	c := rojo.NewClient(host, port, info, rojo.WithHTTPClient(srv.Client()))
	t.Cleanup(c.Close)
	return c
}

func TestProbe(t *testing.T) {
	srv := rojotest.New()
	defer srv.Close()
	host, port := srv.HostPort()

	info, err := rojo.Probe(context.Background(), nil, host, port)
	require.NoError(t, err)
	assert.Equal(t, srv.Info(), info)

	srv.SetDown(true)
	_, err = rojo.Probe(context.Background(), nil, host, port)
	assert.ErrorIs(t, err, rojo.ErrBadStatus)

	var reqErr *rojo.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 503, reqErr.Status)
	assert.Equal(t, "probe", reqErr.Op)
}

func TestProbeUnreachable(t *testing.T) {
	srv := rojotest.New()
	host, port := srv.HostPort()
	srv.Close()

	_, err := rojo.Probe(context.Background(), nil, host, port)
	assert.ErrorIs(t, err, rojo.ErrUnreachable)
}

func TestProbeTimeout(t *testing.T) {
	srv := rojotest.New()
	defer srv.Close()
	srv.SetProbeDelay(2 * time.Second)
	host, port := srv.HostPort()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := rojo.Probe(ctx, nil, host, port)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, rojo.ErrUnreachable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetInstance(t *testing.T) {
	srv := rojotest.New()
	defer srv.Close()
	srv.AddInstance("ws", "root", "Workspace", "Workspace", map[string]any{
		"Gravity": map[string]any{"Type": "Float32", "Value": 196.2},
		"Odd":     map[string]any{"Type": "Quaternion", "Value": []int{0, 0, 0, 1}},
	})
	c := newClient(t, srv)

	root, err := c.GetInstance(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, "DataModel", root.ClassName)
	assert.Equal(t, []string{"ws"}, root.Children)

	ws, err := c.GetInstance(context.Background(), "ws")
	require.NoError(t, err)
	assert.Equal(t, "root", ws.Parent)
	assert.Equal(t, reflection.Number(196.2), ws.Properties["Gravity"].Value)
	assert.Equal(t, []string{"Odd"}, ws.Unsupported)
	assert.NotContains(t, ws.Properties, "Odd")
}

func TestGetInstanceDistinguishesMissingListFromMissingID(t *testing.T) {
	srv := rojotest.New()
	defer srv.Close()
	c := newClient(t, srv)

	_, err := c.GetInstance(context.Background(), "nope")
	assert.ErrorIs(t, err, rojo.ErrInstanceNotFound)
	assert.NotErrorIs(t, err, rojo.ErrNoInstanceList)

	srv.OmitInstances(true)
	_, err = c.GetInstance(context.Background(), "root")
	assert.ErrorIs(t, err, rojo.ErrNoInstanceList)
	assert.NotErrorIs(t, err, rojo.ErrUnreachable)
	assert.True(t, c.Connected(), "a protocol violation is not a disconnect")
}

func TestReadFailureMarksDisconnected(t *testing.T) {
	srv := rojotest.New()
	defer srv.Close()
	c := newClient(t, srv)
	require.True(t, c.Connected())

	srv.SetDown(true)
	_, err := c.Read(context.Background(), "root")
	require.ErrorIs(t, err, rojo.ErrBadStatus)
	assert.False(t, c.Connected())
}

func TestWriteAndOpen(t *testing.T) {
	srv := rojotest.New()
	defer srv.Close()
	c := newClient(t, srv)

	resp, err := c.Write(context.Background(), map[string]any{"updated": []any{}})
	require.NoError(t, err)
	assert.Equal(t, "session-1", resp.SessionID)
	assert.Len(t, srv.Writes(), 1)

	_, err = c.Open(context.Background(), "root", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Opens("root"))
}

func TestListenFollowsServerCursor(t *testing.T) {
	srv := rojotest.New()
	defer srv.Close()
	c := newClient(t, srv)

	var log updateLog
	c.OnUpdate(log.add)

	for _, cursor := range []int64{5, 5, 7, 3} {
		srv.PushCursor(cursor)
	}

	require.Eventually(t, func() bool { return len(srv.SubscribeCursors()) == 5 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{0, 5, 5, 7, 3}, srv.SubscribeCursors())
	assert.Equal(t, int64(3), c.Cursor())

	updates := log.snapshot()
	require.Len(t, updates, 4)
	for i, want := range []int64{5, 5, 7, 3} {
		assert.Equal(t, want, updates[i].Cursor)
		assert.NoError(t, updates[i].Err)
	}
}

func TestListenKeepsCursorWhenReplyHasNone(t *testing.T) {
	srv := rojotest.New()
	defer srv.Close()
	c := newClient(t, srv)

	var log updateLog
	c.OnUpdate(log.add)

	srv.PushCursor(4)
	srv.PushEmpty()

	require.Eventually(t, func() bool { return len(srv.SubscribeCursors()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{0, 4, 4}, srv.SubscribeCursors())
	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
	assert.NoError(t, log.snapshot()[1].Err)
}

func TestListenStopsOnFailureAndRestarts(t *testing.T) {
	srv := rojotest.New()
	defer srv.Close()
	c := newClient(t, srv)

	var log updateLog
	c.OnUpdate(log.add)

	srv.PushCursor(2)
	srv.PushFailure()

	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	updates := log.snapshot()
	assert.NoError(t, updates[0].Err)
	assert.ErrorIs(t, updates[1].Err, rojo.ErrBadStatus)
	assert.Equal(t, int64(2), updates[1].Cursor)
	assert.False(t, c.Connected())

	// No further poll is issued after a failure.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []int64{0, 2}, srv.SubscribeCursors())

	require.Eventually(t, func() bool { return c.Listen(c.Cursor()) }, time.Second, 10*time.Millisecond)
	assert.True(t, c.Connected())
	require.Eventually(t, func() bool { return len(srv.SubscribeCursors()) == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), srv.SubscribeCursors()[2])
	assert.False(t, c.Listen(0), "a second loop is never started")
}

func TestListenResumesAfterReadFailure(t *testing.T) {
	srv := rojotest.New()
	defer srv.Close()
	c := newClient(t, srv)

	var log updateLog
	c.OnUpdate(log.add)
	require.Eventually(t, func() bool { return len(srv.SubscribeCursors()) == 1 }, time.Second, 10*time.Millisecond)

	srv.SetDown(true)
	_, err := c.Read(context.Background(), "root")
	require.Error(t, err)
	require.False(t, c.Connected())
	srv.SetDown(false)

	// The poll parked before the failure must not keep the loop alive.
	assert.True(t, c.Listen(c.Cursor()))
	assert.True(t, c.Connected())
	require.Eventually(t, func() bool { return len(srv.SubscribeCursors()) == 2 }, time.Second, 10*time.Millisecond)
	// Let the server notice the abandoned poll before queuing a reply.
	time.Sleep(50 * time.Millisecond)

	srv.PushCursor(4)
	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, rojo.Update{Cursor: 4}, log.snapshot()[0])
}

func TestCloseStopsPollWithoutUpdate(t *testing.T) {
	srv := rojotest.New()
	defer srv.Close()
	c := newClient(t, srv)

	var log updateLog
	unsubscribe := c.OnUpdate(log.add)
	defer unsubscribe()

	require.Eventually(t, func() bool { return len(srv.SubscribeCursors()) == 1 }, time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	assert.False(t, c.Connected())
	assert.Empty(t, log.snapshot())
}

func TestOnUpdateUnsubscribe(t *testing.T) {
	srv := rojotest.New()
	defer srv.Close()
	c := newClient(t, srv)

	var first, second updateLog
	unsubscribe := c.OnUpdate(first.add)
	c.OnUpdate(second.add)
	unsubscribe()

	srv.PushCursor(1)
	require.Eventually(t, func() bool { return len(second.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, first.snapshot())
}

func TestRequestErrorMessage(t *testing.T) {
	err := &rojo.RequestError{Op: "read", URL: "http://localhost:34872/api/read/x", Status: 500, Err: rojo.ErrBadStatus}
	assert.Equal(t, "rojo read http://localhost:34872/api/read/x: status 500: unexpected status from rojo server", err.Error())
	assert.True(t, errors.Is(err, rojo.ErrBadStatus))
}
