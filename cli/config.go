package cli

import (
	"encoding/json"
	"fmt"

	"github.com/slighter12/rojo-bridge-go/config"
)

// ConfigCmd groups the config subcommands.
type ConfigCmd struct {
	Show ConfigShowCmd `cmd:"" default:"1" help:"Print the effective configuration"`
	Path ConfigPathCmd `cmd:"" help:"Print the config file path"`
	Init ConfigInitCmd `cmd:"" help:"Write a default config file"`
}

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(g *Globals) error {
	enc := json.NewEncoder(g.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(g.Config)
}

type ConfigPathCmd struct{}

func (c *ConfigPathCmd) Run(g *Globals) error {
	_, err := fmt.Fprintln(g.Stdout, g.ConfigPath)
	return err
}

type ConfigInitCmd struct {
	Force bool `help:"Overwrite an existing file with defaults"`
}

func (c *ConfigInitCmd) Run(g *Globals) error {
	if c.Force {
		if err := config.SaveConfig(config.NewConfig(), g.ConfigPath); err != nil {
			return err
		}
	} else if err := config.EnsureDefaultConfig(g.ConfigPath); err != nil {
		return err
	}
	_, err := fmt.Fprintf(g.Stdout, "config written to %s\n", g.ConfigPath)
	return err
}
