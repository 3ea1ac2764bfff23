package cli

import (
	"github.com/slighter12/rojo-bridge-go/logger"
	transporthttp "github.com/slighter12/rojo-bridge-go/transport/http"
)

// ServeCmd runs the bridge API until interrupted.
type ServeCmd struct {
	Host  string `help:"Listen host (default from config)"`
	Port  int    `help:"Listen port (default from config)"`
	Debug bool   `help:"Enable echo debug mode"`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx := g.context()
	cfg := *g.Config
	if c.Host != "" {
		cfg.Bridge.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Bridge.Port = c.Port
	}
	cfg.Bridge.Debug = cfg.Bridge.Debug || c.Debug
	if err := cfg.Validate(); err != nil {
		return err
	}

	classes := g.classesOrEmpty(ctx)
	if cfg.Reflection.Watch {
		stop, err := classes.Watch(ctx, cfg.Reflection.Path)
		if err != nil {
			logger.Warn("Failed to watch reflection file", "path", cfg.Reflection.Path, "error", err)
		} else {
			defer stop()
		}
	}

	registry := g.newRegistry()
	defer registry.Close()

	server := transporthttp.NewServer(&cfg, registry, classes)
	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("Bridge server stopped")
	return nil
}
