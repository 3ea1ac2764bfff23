package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/slighter12/rojo-bridge-go/tree"
)

// TreeCmd prints the hierarchy below the root instance.
type TreeCmd struct {
	Target
	Depth int `short:"d" default:"-1" help:"Levels to expand below the root; negative for all"`
}

func (c *TreeCmd) Run(g *Globals) error {
	ctx := g.context()
	reg := g.newRegistry()
	defer reg.Close()

	s, err := c.connect(ctx, g, reg)
	if err != nil {
		return err
	}
	t := tree.New(g.classesOrEmpty(ctx))
	root, err := t.Root(ctx, s)
	if err != nil {
		return err
	}
	pal := g.palette()
	return t.Walk(ctx, root, c.Depth, func(n tree.Node, depth int) error {
		return writeNode(g.Stdout, pal, n, depth)
	})
}

func writeNode(w io.Writer, pal palette, n tree.Node, depth int) error {
	line := strings.Repeat("  ", depth) + pal.label.Sprint(n.Label)
	if n.Detail != "" {
		line += " " + pal.detail.Sprint("["+n.Detail+"]")
	}
	line += " " + pal.class.Sprint(n.Instance.ClassName)
	_, err := fmt.Fprintln(w, line)
	return err
}
