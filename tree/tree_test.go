package tree

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slighter12/rojo-bridge-go/reflection"
	"github.com/slighter12/rojo-bridge-go/rojo"
	"github.com/slighter12/rojo-bridge-go/rojo/rojotest"
	"github.com/slighter12/rojo-bridge-go/session"
)

func classes() *reflection.Holder {
	return reflection.NewHolder(reflection.NewIndex(reflection.Schema{Classes: []reflection.Class{
		{Name: "Workspace", SortOrder: 0, HasSortOrder: true},
		{Name: "Part", SortOrder: 2, HasSortOrder: true},
		{Name: "Folder", SortOrder: 3, HasSortOrder: true},
		{Name: "Script", SortOrder: 5, HasSortOrder: true},
	}}, reflection.Schema{}))
}

func connect(t *testing.T, srv *rojotest.Server) session.Session {
	t.Helper()
	r := session.NewRegistry()
	t.Cleanup(r.Close)
	host, port := srv.HostPort()
	s, err := r.Connect(context.Background(), "game", host, port)
	require.NoError(t, err)
	return s
}

func labels(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Label
	}
	return out
}

func TestRootsAndChildren(t *testing.T) {
	srv := rojotest.New()
	t.Cleanup(srv.Close)
	srv.AddInstance("ws", "root", "Workspace", "Workspace", nil)
	srv.AddInstance("s1", "ws", "Main", "Script", nil)
	srv.AddInstance("m1", "ws", "Odd", "Mystery", nil)
	srv.AddInstance("f1", "ws", "Assets", "Folder", nil)
	srv.AddInstance("p1", "ws", "Baseplate", "Part", nil)
	srv.AddInstance("f2", "ws", "More", "Folder", nil)
	s := connect(t, srv)

	tr := New(classes())
	roots, err := tr.Roots(context.Background(), []session.Session{s})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	root := roots[0]
	assert.Equal(t, "game", root.Label)
	assert.Equal(t, "DataModel", root.Instance.ClassName)
	assert.True(t, root.Root)
	assert.True(t, root.HasChildren())

	top, err := tr.Children(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, []string{"Workspace"}, labels(top))

	kids, err := tr.Children(context.Background(), top[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"Baseplate", "Assets", "More", "Main", "Odd"}, labels(kids))
	assert.True(t, kids[3].SourceContainer())
	assert.False(t, kids[0].HasChildren())
}

func TestChildrenRefetches(t *testing.T) {
	srv := rojotest.New()
	t.Cleanup(srv.Close)
	srv.AddInstance("ws", "root", "Workspace", "Workspace", nil)
	s := connect(t, srv)
	tr := New(nil)

	root, err := tr.Root(context.Background(), s)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(srv.SubscribeCursors()) == 1 }, 2*time.Second, 10*time.Millisecond)
	before := srv.Requests()

	_, err = tr.Children(context.Background(), root)
	require.NoError(t, err)
	_, err = tr.Children(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, before+2, srv.Requests())
}

func TestWalkDepth(t *testing.T) {
	srv := rojotest.New()
	t.Cleanup(srv.Close)
	srv.AddInstance("ws", "root", "Workspace", "Workspace", nil)
	srv.AddInstance("f1", "ws", "Assets", "Folder", nil)
	srv.AddInstance("p1", "f1", "Crate", "Part", nil)
	s := connect(t, srv)
	tr := New(classes())
	root, err := tr.Root(context.Background(), s)
	require.NoError(t, err)

	var seen []string
	err = tr.Walk(context.Background(), root, 1, func(n Node, depth int) error {
		seen = append(seen, n.Label)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"game", "Workspace"}, seen)

	seen = nil
	require.NoError(t, tr.Walk(context.Background(), root, -1, func(n Node, depth int) error {
		seen = append(seen, n.Label)
		return nil
	}))
	assert.Equal(t, []string{"game", "Workspace", "Assets", "Crate"}, seen)

	stop := errors.New("stop")
	err = tr.Walk(context.Background(), root, -1, func(n Node, depth int) error {
		if depth == 1 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
}

func TestChildrenPropagatesReadErrors(t *testing.T) {
	srv := rojotest.New()
	t.Cleanup(srv.Close)
	srv.AddInstance("ws", "root", "Workspace", "Workspace", nil)
	s := connect(t, srv)
	tr := New(nil)
	root, err := tr.Root(context.Background(), s)
	require.NoError(t, err)

	srv.OmitInstances(true)
	_, err = tr.Children(context.Background(), root)
	assert.ErrorIs(t, err, rojo.ErrNoInstanceList)

	_, err = tr.Children(context.Background(), Node{})
	assert.Error(t, err)
}

func TestIsSourceContainer(t *testing.T) {
	for _, c := range []string{"Script", "LocalScript", "ModuleScript"} {
		assert.True(t, IsSourceContainer(c))
	}
	assert.False(t, IsSourceContainer("Folder"))
}
