// Package cli holds the kong command tree of the rojo-bridge binary.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/slighter12/rojo-bridge-go/config"
	"github.com/slighter12/rojo-bridge-go/logger"
	"github.com/slighter12/rojo-bridge-go/reflection"
	"github.com/slighter12/rojo-bridge-go/session"
	transporthttp "github.com/slighter12/rojo-bridge-go/transport/http"
)

// CLI is the root command.
type CLI struct {
	Config   string `short:"c" type:"path" help:"Path to the JSON config file (default: ROJO_BRIDGE_CONFIG_PATH, ./config/rojo_bridge.json, ~/.rojo-bridge/config/rojo_bridge.json)"`
	LogLevel string `help:"Override the configured log level" enum:",debug,info,warn,error" default:""`
	NoColor  bool   `help:"Disable colored output"`

	Serve      ServeCmd   `cmd:"" help:"Run the bridge HTTP API"`
	Tree       TreeCmd    `cmd:"" help:"Print the instance tree of a Rojo server"`
	Props      PropsCmd   `cmd:"" help:"Print the property view of one instance"`
	Watch      WatchCmd   `cmd:"" help:"Print change notifications from a Rojo server"`
	ConfigCmds ConfigCmd  `cmd:"" name:"config" help:"Inspect or create the config file"`
	Version    VersionCmd `cmd:"" help:"Print the version"`
}

// Globals is bound into every command's Run.
type Globals struct {
	Context    context.Context
	Config     *config.Config
	ConfigPath string
	Stdout     io.Writer
	Stderr     io.Writer
	NoColor    bool
	HTTPClient *http.Client
}

// NewGlobals resolves and loads the configuration named by c.
func NewGlobals(ctx context.Context, c *CLI) (*Globals, error) {
	path := c.Config
	if path == "" {
		resolved, err := config.ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	return &Globals{
		Context:    ctx,
		Config:     cfg,
		ConfigPath: path,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		NoColor:    c.NoColor,
	}, nil
}

func (g *Globals) context() context.Context {
	if g.Context == nil {
		return context.Background()
	}
	return g.Context
}

func (g *Globals) httpClient() *http.Client {
	if g.HTTPClient == nil {
		return http.DefaultClient
	}
	return g.HTTPClient
}

func (g *Globals) newRegistry() *session.Registry {
	return session.NewRegistry(
		session.WithInterval(g.Config.Rojo.LivenessInterval()),
		session.WithProbeTimeout(g.Config.Rojo.ProbeTimeout()),
		session.WithHTTPClient(g.httpClient()),
	)
}

// loadClasses reads the reflection dump from the configured file or URL.
func (g *Globals) loadClasses(ctx context.Context) (*reflection.Index, error) {
	rc := g.Config.Reflection
	if rc.Path != "" {
		d, err := reflection.LoadFile(rc.Path)
		if err != nil {
			return nil, err
		}
		return reflection.FromDump(d), nil
	}
	ctx, cancel := context.WithTimeout(ctx, rc.FetchTimeout())
	defer cancel()
	d, err := reflection.Fetch(ctx, g.httpClient(), rc.URL)
	if err != nil {
		return nil, err
	}
	return reflection.FromDump(d), nil
}

// classesOrEmpty logs a failed load and carries on with an empty index, so
// the tree still renders in server order.
func (g *Globals) classesOrEmpty(ctx context.Context) *reflection.Holder {
	idx, err := g.loadClasses(ctx)
	if err != nil {
		logger.Warn("Failed to load reflection data", "url", g.Config.Reflection.URL, "path", g.Config.Reflection.Path, "error", err)
		return reflection.NewHolder(nil)
	}
	for _, w := range idx.Warnings() {
		logger.Debug("Reflection entry skipped", "warning", w)
	}
	logger.Info("Reflection data loaded", "version", idx.Version(), "classes", idx.Len())
	return reflection.NewHolder(idx)
}

// Target names the Rojo server a one-shot command talks to.
type Target struct {
	Name string `default:"game" help:"Session name"`
	Host string `help:"Rojo host (default from config)"`
	Port int    `short:"p" help:"Rojo port (default from config)"`
}

func (t Target) connect(ctx context.Context, g *Globals, reg *session.Registry) (session.Session, error) {
	host := t.Host
	if host == "" {
		host = g.Config.Rojo.Host
	}
	port := t.Port
	if port == 0 {
		port = g.Config.Rojo.Port
	}
	return reg.Connect(ctx, t.Name, host, port)
}

type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	_, err := fmt.Fprintf(g.Stdout, "rojo-bridge %s\n", transporthttp.Version)
	return err
}
