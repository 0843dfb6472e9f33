package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/prometheus/client_golang/prometheus"

	"go.hackfix.me/natmgr/allocator"
	"go.hackfix.me/natmgr/app/config"
	actx "go.hackfix.me/natmgr/app/context"
	aerrors "go.hackfix.me/natmgr/app/errors"
	"go.hackfix.me/natmgr/cli"
	"go.hackfix.me/natmgr/db"
	"go.hackfix.me/natmgr/engine"
	"go.hackfix.me/natmgr/firewall"
	ftypes "go.hackfix.me/natmgr/firewall/types"
)

// App is the application.
type App struct {
	name string
	ctx  *actx.Context
	cli  *cli.CLI
	// the logging level is set via the CLI, if the app was initialized with the
	// WithLogger option.
	logLevel *slog.LevelVar
	// live is the checker for ports bound on the host. The OS socket table is
	// used if it's not set.
	live allocator.LiveChecker
	// dbInit is true once the database migrations have run.
	dbInit bool
}

// New initializes a new application. configFile and dataDir are the default
// locations of the configuration file and application data, which can be
// overridden on the command line.
func New(name, configFile, dataDir string, opts ...Option) (*App, error) {
	defaultCtx := &actx.Context{
		Ctx:     context.Background(),
		FS:      memoryfs.New(),
		Logger:  slog.Default(),
		TimeNow: time.Now,
		Version: actx.GetVersion(),
	}
	app := &App{name: name, ctx: defaultCtx}

	for _, opt := range opts {
		opt(app)
	}

	ver := fmt.Sprintf("%s %s", app.name, app.ctx.Version.String())
	var err error
	app.cli, err = cli.New(configFile, dataDir, ver)
	if err != nil {
		return nil, err
	}

	return app, nil
}

// Run initializes the application environment and starts execution of the
// application.
func (app *App) Run(args []string) error {
	if err := app.cli.Parse(args); err != nil {
		return err
	}

	if app.logLevel != nil {
		app.logLevel.Set(app.cli.Log.Level)
		slog.SetLogLoggerLevel(app.cli.Log.Level)
	}

	if err := app.setup(); err != nil {
		return err
	}

	app.cli.ApplyConfig(app.ctx.Config)

	if err := app.cli.Execute(app.ctx); err != nil {
		return err
	}

	return nil
}

// setup loads the configuration, and initializes the store, the firewall and
// the engine, unless they were already set.
func (app *App) setup() error {
	if app.ctx.Config == nil {
		cfg := config.NewConfig(app.ctx.FS, app.cli.ConfigFile)
		if err := cfg.Load(); err != nil {
			return aerrors.NewWithCause("failed loading configuration", err, "path", app.cli.ConfigFile)
		}
		cfg.SetDefaults(app.cli.DataDir)
		if err := cfg.Validate(); err != nil {
			return aerrors.NewWithCause("invalid configuration", err, "path", app.cli.ConfigFile)
		}
		app.ctx.Config = cfg
	}
	cfg := app.ctx.Config

	if app.ctx.DB == nil {
		storePath := cfg.Store.Path.V
		if err := app.ctx.FS.MkdirAll(filepath.Dir(storePath), 0o750); err != nil {
			return aerrors.NewWithCause("failed creating store directory", err, "path", storePath)
		}
		d, err := db.Open(app.ctx.Ctx, storePath, app.ctx.TimeNow)
		if err != nil {
			return aerrors.NewWithCause("failed opening the store", err, "path", storePath)
		}
		app.ctx.DB = d
	}
	if !app.dbInit {
		if err := app.ctx.DB.Init(app.ctx.Logger); err != nil {
			return aerrors.NewWithCause("failed initializing the store", err)
		}
		app.dbInit = true
	}

	if app.ctx.Engine != nil {
		return nil
	}

	fwMgr, err := app.setupFirewall(cfg)
	if err != nil {
		return err
	}

	engineOpts := []engine.Option{
		engine.WithLogger(app.ctx.Logger),
		engine.WithTimeNow(app.ctx.TimeNow),
		engine.WithBackupDir(app.ctx.FS, cfg.Backup.Dir.V),
	}

	if len(cfg.Firewall.OwnerNetworks) > 0 {
		ipSet, perr := firewall.ParseToIPSet(cfg.Firewall.OwnerNetworks...)
		if perr != nil {
			return aerrors.NewWithCause("invalid firewall.owner_networks", perr)
		}
		engineOpts = append(engineOpts, engine.WithOwnerNetworks(ipSet))
	}

	live := app.live
	if live == nil {
		live = allocator.NewSocketChecker()
	}
	engineOpts = append(engineOpts, engine.WithLiveChecker(live))

	if app.ctx.Metrics == nil {
		app.ctx.Metrics = prometheus.NewRegistry()
	}
	engineOpts = append(engineOpts, engine.WithMetrics(app.ctx.Metrics))

	alloc := allocator.New(cfg.Ports.Start.V, cfg.Ports.SearchWindow.V)
	app.ctx.Engine, err = engine.New(app.ctx.DB, fwMgr, alloc, engineOpts...)
	if err != nil {
		return aerrors.NewWithCause("failed creating the engine", err)
	}

	return nil
}

// setupFirewall creates the firewall configured for this system, or wraps the
// one set with the WithFirewall option.
func (app *App) setupFirewall(cfg *config.Config) (*firewall.Manager, error) {
	logger := app.ctx.Logger

	if app.ctx.Firewall != nil {
		if err := app.ctx.Firewall.Init(); err != nil {
			return nil, aerrors.NewWithCause("failed initializing the firewall", err)
		}
		fwMgr, err := firewall.NewManager(app.ctx.Firewall, firewall.WithLogger(logger))
		if err != nil {
			return nil, aerrors.NewWithCause("failed creating the firewall manager", err)
		}
		return fwMgr, nil
	}

	ft := cfg.Firewall.Type.V
	if ft != ftypes.FirewallMock && !app.ctx.Privileged {
		return nil, aerrors.NewWith(
			fmt.Sprintf("managing the %s firewall requires root privileges", ft),
			"firewall.type", string(ft))
	}

	fw, fwMgr, err := firewall.Setup(ft, app.ctx.FS, cfg.Firewall.Interface.V,
		cfg.Firewall.RulesFile.V, logger)
	if err != nil {
		return nil, aerrors.NewWithCause("failed setting up the firewall", err,
			"firewall.type", string(ft))
	}
	app.ctx.Firewall = fw

	return fwMgr, nil
}
