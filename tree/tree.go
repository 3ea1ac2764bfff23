// Package tree materializes the remote instance hierarchy on demand. Nothing
// is cached: every expansion reads the instances again.
package tree

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/slighter12/rojo-bridge-go/reflection"
	"github.com/slighter12/rojo-bridge-go/rojo"
	"github.com/slighter12/rojo-bridge-go/session"
)

var sourceContainers = map[string]struct{}{
	"Script":       {},
	"LocalScript":  {},
	"ModuleScript": {},
}

// IsSourceContainer reports whether opening an instance of className should
// also open its source file.
func IsSourceContainer(className string) bool {
	_, ok := sourceContainers[className]
	return ok
}

// Source reads instances from one server.
type Source interface {
	GetInstance(ctx context.Context, instanceID string) (rojo.Instance, error)
}

// Node is one materialized instance.
type Node struct {
	Session  string        `json:"session"`
	Label    string        `json:"label"`
	Detail   string        `json:"detail,omitempty"`
	Instance rojo.Instance `json:"instance"`
	Root     bool          `json:"root,omitempty"`

	source Source
}

func (n Node) HasChildren() bool { return len(n.Instance.Children) > 0 }

func (n Node) SourceContainer() bool { return IsSourceContainer(n.Instance.ClassName) }

// Tree orders children by the class sort order of the current index.
type Tree struct {
	classes *reflection.Holder
}

func New(classes *reflection.Holder) *Tree {
	if classes == nil {
		classes = reflection.NewHolder(nil)
	}
	return &Tree{classes: classes}
}

// Root reads the root instance of one session. The node is labelled with the
// session name and carries the port as detail.
func (t *Tree) Root(ctx context.Context, s session.Session) (Node, error) {
	inst, err := s.Client.GetInstance(ctx, s.Info().RootInstanceID)
	if err != nil {
		return Node{}, fmt.Errorf("read root of %s: %w", s.Name, err)
	}
	return Node{
		Session:  s.Name,
		Label:    s.Name,
		Detail:   strconv.Itoa(s.Port),
		Instance: inst,
		Root:     true,
		source:   s.Client,
	}, nil
}

// Roots returns one root node per session, in the given order.
func (t *Tree) Roots(ctx context.Context, sessions []session.Session) ([]Node, error) {
	nodes := make([]Node, 0, len(sessions))
	for _, s := range sessions {
		n, err := t.Root(ctx, s)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Node reads instanceID through src.
func (t *Tree) Node(ctx context.Context, sessionName string, src Source, instanceID string) (Node, error) {
	inst, err := src.GetInstance(ctx, instanceID)
	if err != nil {
		return Node{}, err
	}
	return Node{Session: sessionName, Label: inst.Name, Instance: inst, source: src}, nil
}

// Children reads every child of n, in the server's order, then stable-sorts
// them by class sort order. Classes without a sort order go last.
func (t *Tree) Children(ctx context.Context, n Node) ([]Node, error) {
	if n.source == nil {
		return nil, fmt.Errorf("node %s has no source", n.Instance.ID)
	}
	children := make([]Node, 0, len(n.Instance.Children))
	for _, id := range n.Instance.Children {
		child, err := t.Node(ctx, n.Session, n.source, id)
		if err != nil {
			return nil, fmt.Errorf("read child %s of %s: %w", id, n.Instance.ID, err)
		}
		children = append(children, child)
	}

	idx := t.classes.Index()
	order := func(n Node) int {
		if o, ok := idx.SortOrder(n.Instance.ClassName); ok {
			return o
		}
		return math.MaxInt
	}
	slices.SortStableFunc(children, func(a, b Node) int { return cmp.Compare(order(a), order(b)) })
	return children, nil
}

// Walk visits n and its descendants depth-first, down to maxDepth levels
// below n. A negative maxDepth means no limit.
func (t *Tree) Walk(ctx context.Context, n Node, maxDepth int, visit func(n Node, depth int) error) error {
	return t.walk(ctx, n, 0, maxDepth, visit)
}

func (t *Tree) walk(ctx context.Context, n Node, depth, maxDepth int, visit func(Node, int) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := visit(n, depth); err != nil {
		return err
	}
	if maxDepth >= 0 && depth >= maxDepth {
		return nil
	}
	children, err := t.Children(ctx, n)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := t.walk(ctx, child, depth+1, maxDepth, visit); err != nil {
			return err
		}
	}
	return nil
}
