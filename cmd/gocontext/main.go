// Command gocontext indexes workspaces for semantic code search.
//
// Usage:
//
//	gocontext serve --config ~/.gocontext/config.yaml
//	gocontext index /path/to/project
//	gocontext status /path/to/project
//	gocontext clear /path/to/project
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/gocontext-index/internal/config"
	"github.com/dshills/gocontext-index/internal/httpapi"
	"github.com/dshills/gocontext-index/internal/logging"
	"github.com/dshills/gocontext-index/internal/mcp"
	"github.com/dshills/gocontext-index/internal/metrics"
	"github.com/dshills/gocontext-index/internal/scheduler"
	"github.com/dshills/gocontext-index/internal/vectorstore"
	"github.com/dshills/gocontext-index/internal/workspace"
	"github.com/dshills/gocontext-index/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Serve MCP over stdio, with optional HTTP status API and scheduled reconcile."`
	Index   IndexCmd   `cmd:"" help:"Index a workspace once and exit."`
	Status  StatusCmd  `cmd:"" help:"Show the stored progress of a workspace."`
	Clear   ClearCmd   `cmd:"" help:"Delete the index and cache of a workspace."`

	Config   string `short:"c" help:"Path to config file." type:"path" env:"GOCONTEXT_CONFIG"`
	EnvFile  string `name:"env-file" help:"Path to a .env file." default:".env"`
	LogLevel string `help:"Log level (debug, info, warn, error)."`
}

// load reads .env and the config file, then installs the root logger
func (c *CLI) load() (*config.Config, error) {
	if err := config.LoadDotEnv(c.EnvFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	logging.Init(cfg.Log)
	return cfg, nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("GoContext Index\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Build Mode: %s\n", vectorstore.BuildMode)
	fmt.Printf("SQLite Driver: %s\n", vectorstore.DriverName)
	fmt.Printf("Vector Extension: %v\n", vectorstore.VectorExtensionAvailable)
	return nil
}

// ServeCmd runs the MCP server.
type ServeCmd struct {
	HTTPAddr  string `name:"http-addr" help:"Address of the HTTP status API (overrides config, empty disables)."`
	Reconcile string `help:"Cron expression for periodic re-indexing (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	if c.HTTPAddr != "" {
		cfg.HTTP.Addr = c.HTTPAddr
	}
	if c.Reconcile != "" {
		cfg.Scheduler.ReconcileSpec = c.Reconcile
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewModuleLogger("cmd", "serve")
	logger.Info("GoContext Index starting",
		"version", version,
		"build_mode", vectorstore.BuildMode,
		"provider", cfg.Embedder.Provider,
		"backend", cfg.VectorStore.Backend)
	if !cfg.IsConfigured() {
		logger.Warn("indexing disabled", "reason", cfg.NotConfiguredReason())
	}

	m := metrics.New()
	reg := workspace.NewRegistry(cfg, m)
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Error("close workspaces", "error", err)
		}
	}()

	sched := scheduler.New(nil)
	if err := sched.SetReconcile(cfg.Scheduler.ReconcileSpec, registryTargets(reg)); err != nil {
		return err
	}
	sched.Start()
	defer func() { _ = sched.Stop(context.Background()) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return mcp.NewServer(reg, version).Serve(gctx)
	})
	if cfg.HTTP.Addr != "" {
		srv := httpapi.New(cfg.HTTP.Addr, reg, m, sched, version)
		g.Go(func() error { return srv.Run(gctx) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("server stopped")
	return err
}

func registryTargets(reg *workspace.Registry) scheduler.Source {
	return func() []scheduler.Target {
		list := reg.List()
		out := make([]scheduler.Target, 0, len(list))
		for _, ws := range list {
			out = append(out, ws)
		}
		return out
	}
}

// IndexCmd runs one indexing pass without the watcher.
type IndexCmd struct {
	Path string `arg:"" help:"Workspace root." type:"existingdir"`
}

func (c *IndexCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	cfg.Watcher.Enabled = false

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, err := workspace.Open(c.Path, cfg, nil, logging.NewModuleLogger("cmd", "index"))
	if err != nil {
		return err
	}
	st := ws.StartIndexing(ctx)
	progress := ws.Orchestrator().Progress()
	if err := ws.Close(); err != nil {
		slog.Warn("close workspace", "error", err)
	}

	if err := printJSON(map[string]any{"status": st, "progress": progress}); err != nil {
		return err
	}
	switch st.State {
	case types.StateError:
		return errors.New(st.Message)
	case types.StateStandby:
		if !cfg.IsConfigured() {
			return errors.New(st.Message)
		}
	}
	return nil
}

// StatusCmd prints the persisted progress record of a workspace.
type StatusCmd struct {
	Path string `arg:"" help:"Workspace root." type:"existingdir"`
}

func (c *StatusCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	cfg.Watcher.Enabled = false

	ws, err := workspace.Open(c.Path, cfg, nil, logging.NewModuleLogger("cmd", "status"))
	if err != nil {
		return err
	}
	defer ws.Close()

	return printJSON(map[string]any{
		"path":       ws.Root(),
		"configured": ws.Configured(),
		"progress":   ws.Orchestrator().Progress(),
	})
}

// ClearCmd deletes the collection and cache artifacts of a workspace.
type ClearCmd struct {
	Path string `arg:"" help:"Workspace root." type:"existingdir"`
}

func (c *ClearCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	cfg.Watcher.Enabled = false

	ws, err := workspace.Open(c.Path, cfg, nil, logging.NewModuleLogger("cmd", "clear"))
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.Orchestrator().ClearIndexData(context.Background()); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Cleared index data for %s\n", ws.Root())
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("gocontext"),
		kong.Description("Semantic code indexing for MCP clients."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(cli))
}
