package cli

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

type palette struct {
	label  *color.Color
	class  *color.Color
	detail *color.Color
	added  *color.Color
	remove *color.Color
}

// colorEnabled reports whether w is a terminal and color was not disabled.
func colorEnabled(w io.Writer, noColor bool) bool {
	if noColor {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newPalette(enabled bool) palette {
	p := palette{
		label:  color.New(color.Bold),
		class:  color.New(color.FgCyan),
		detail: color.New(color.Faint),
		added:  color.New(color.FgGreen),
		remove: color.New(color.FgRed),
	}
	for _, c := range []*color.Color{p.label, p.class, p.detail, p.added, p.remove} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (g *Globals) palette() palette {
	return newPalette(colorEnabled(g.Stdout, g.NoColor))
}
