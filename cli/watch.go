package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/slighter12/rojo-bridge-go/logger"
	"github.com/slighter12/rojo-bridge-go/properties"
	"github.com/slighter12/rojo-bridge-go/reflection"
	"github.com/slighter12/rojo-bridge-go/session"
)

var errSessionLost = errors.New("session disconnected")

// WatchCmd prints one line per subscribe result. With --id it re-resolves
// that instance after each change and prints a line diff of its properties.
type WatchCmd struct {
	Target
	ID string `help:"Instance whose properties are diffed after each change"`
}

func (c *WatchCmd) Run(g *Globals) error {
	reg := g.newRegistry()
	defer reg.Close()
	// cancel must run before Close: an observer may be blocked on events.
	ctx, cancel := context.WithCancel(g.context())
	defer cancel()
	events := make(chan session.Event, 16)
	unsubscribe := reg.Subscribe(func(ev session.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	s, err := c.connect(ctx, g, reg)
	if err != nil {
		return err
	}
	reg.Start(ctx)

	var classes *reflection.Holder
	var previous string
	pal := g.palette()
	if c.ID != "" {
		classes = g.classesOrEmpty(ctx)
		previous, err = c.render(ctx, s, classes)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(g.Stdout, previous); err != nil {
			return err
		}
	}
	fmt.Fprintf(g.Stdout, "watching %s on port %d\n", s.Name, s.Port)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if ev.Session != s.Name {
				continue
			}
			switch ev.Kind {
			case session.EventDisconnected:
				fmt.Fprintln(g.Stdout, pal.remove.Sprint(lostMessage(ev)))
				return errSessionLost
			case session.EventUpdated:
				if ev.Err != nil {
					fmt.Fprintln(g.Stdout, pal.remove.Sprintf("subscribe failed: %v", ev.Err))
					return ev.Err
				}
				fmt.Fprintln(g.Stdout, pal.detail.Sprintf("update cursor=%d", ev.Cursor))
				if c.ID == "" {
					continue
				}
				current, err := c.render(ctx, s, classes)
				if err != nil {
					logger.Warn("Failed to re-read instance", "session", s.Name, "instance", c.ID, "error", err)
					continue
				}
				if err := writeDiff(g.Stdout, pal, previous, current); err != nil {
					return err
				}
				previous = current
			}
		}
	}
}

func lostMessage(ev session.Event) string {
	if ev.Message != "" {
		return ev.Message
	}
	return fmt.Sprintf("Disconnected from project %s on port %d", ev.Session, ev.Port)
}

func (c *WatchCmd) render(ctx context.Context, s session.Session, classes *reflection.Holder) (string, error) {
	inst, err := s.Client.GetInstance(ctx, c.ID)
	if err != nil {
		return "", err
	}
	return renderText(properties.Resolve(classes.Index(), inst)), nil
}

type diffLine struct {
	op   diffmatchpatch.Operation
	text string
}

// lineDiff compares two renderings line by line.
func lineDiff(from, to string) []diffLine {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(from, to)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out []diffLine
	for _, d := range diffs {
		for line := range strings.Lines(d.Text) {
			out = append(out, diffLine{op: d.Type, text: strings.TrimSuffix(line, "\n")})
		}
	}
	return out
}

// writeDiff prints only the changed lines; nothing when the view is unchanged.
func writeDiff(w io.Writer, pal palette, from, to string) error {
	for _, l := range lineDiff(from, to) {
		var line string
		switch l.op {
		case diffmatchpatch.DiffInsert:
			line = pal.added.Sprint("+ " + l.text)
		case diffmatchpatch.DiffDelete:
			line = pal.remove.Sprint("- " + l.text)
		default:
			continue
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
