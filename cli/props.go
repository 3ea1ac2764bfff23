package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/olekukonko/tablewriter"

	"github.com/slighter12/rojo-bridge-go/properties"
)

// PropsCmd prints the resolved properties of one instance.
type PropsCmd struct {
	Target
	ID     string `help:"Instance id (default: the root instance)"`
	Format string `short:"f" enum:"table,json,yaml" default:"table" help:"Output format (table, json, yaml)"`
}

func (c *PropsCmd) Run(g *Globals) error {
	ctx := g.context()
	reg := g.newRegistry()
	defer reg.Close()

	s, err := c.connect(ctx, g, reg)
	if err != nil {
		return err
	}
	id := c.ID
	if id == "" {
		id = s.Info().RootInstanceID
	}
	inst, err := s.Client.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	cats := properties.Resolve(g.classesOrEmpty(ctx).Index(), inst)
	return writeProperties(g.Stdout, c.Format, cats)
}

func writeProperties(w io.Writer, format string, cats []properties.Category) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cats)
	case "yaml":
		data, err := yaml.Marshal(cats)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "table", "":
		return writePropertiesTable(w, cats)
	}
	return fmt.Errorf("unknown format %q", format)
}

func writePropertiesTable(w io.Writer, cats []properties.Category) error {
	table := tablewriter.NewWriter(w)
	table.Header("Category", "Property", "Type", "Value")
	for _, cat := range cats {
		for _, p := range cat.Properties {
			if err := table.Append(cat.Name, p.Name, p.Type, p.Display); err != nil {
				return err
			}
		}
	}
	return table.Render()
}

// renderText is the plain form diffed by watch: one "Category.Name = value"
// line per property.
func renderText(cats []properties.Category) string {
	var b strings.Builder
	for _, cat := range cats {
		for _, p := range cat.Properties {
			fmt.Fprintf(&b, "%s.%s = %s\n", cat.Name, p.Name, p.Display)
		}
	}
	return b.String()
}
