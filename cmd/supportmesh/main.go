// Command supportmesh serves the customer support agents over HTTP.
//
// Usage:
//
//	supportmesh serve --config supportmesh.yaml
//	supportmesh serve --addr :9000 --log-level debug
//	supportmesh validate -c supportmesh.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/hupe1980/supportmesh"
	"github.com/hupe1980/supportmesh/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" default:"withargs" help:"Start the HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config   string   `short:"c" help:"Path to config file (empty uses defaults and environment)." type:"path" env:"SUPPORTMESH_CONFIG"`
	EnvFile  []string `name:"env-file" help:"Dotenv files loaded before the config (default .env.local, .env)." type:"path"`
	LogLevel string   `name:"log-level" help:"Override logging.level (debug, info, warn, error)."`
}

func (c *CLI) load() (*config.Config, error) {
	if err := config.LoadDotEnv(c.EnvFile...); err != nil {
		return nil, err
	}

	var (
		cfg *config.Config
		err error
	)

	if c.Config == "" {
		cfg, err = config.FromMap(map[string]any{})
	} else {
		cfg, err = config.Load(c.Config)
	}

	if err != nil {
		return nil, err
	}

	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}

	return cfg, nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Addr string `help:"Override server.addr."`
}

func (s *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}

	if s.Addr != "" {
		cfg.Server.Addr = s.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := supportmesh.New(ctx, cfg)
	if err != nil {
		return err
	}

	serveErr := app.Serve(ctx)

	// ctx is already cancelled on signal; give resources their own budget.
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.Close(closeCtx); err != nil && serveErr == nil {
		return err
	}

	return serveErr
}

// ValidateCmd loads and validates the configuration without starting anything.
type ValidateCmd struct{}

func (v *ValidateCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}

	fmt.Printf("Configuration OK (model=%s session=%s memory=%s auth=%s)\n",
		cfg.Model.Provider, cfg.Session.Backend, cfg.Memory.Backend, cfg.Auth.Mode)

	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (v *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}

	fmt.Printf("supportmesh version %s\n", version)

	return nil
}

func main() {
	var cli CLI

	ctx := kong.Parse(&cli,
		kong.Name("supportmesh"),
		kong.Description("Multi-agent customer support service."),
		kong.UsageOnError(),
	)

	ctx.FatalIfErrorf(ctx.Run(&cli))
}
