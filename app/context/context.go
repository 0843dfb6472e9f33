package context

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/prometheus/client_golang/prometheus"

	"go.hackfix.me/natmgr/app/config"
	"go.hackfix.me/natmgr/db"
	"go.hackfix.me/natmgr/engine"
	ftypes "go.hackfix.me/natmgr/firewall/types"
)

// Context contains common objects used by the application. It is passed around
// the application to avoid direct dependencies on external systems, and make
// testing easier.
type Context struct {
	Ctx     context.Context  // global context
	FS      vfs.FileSystem   // filesystem
	Env     Environment      // process environment
	Logger  *slog.Logger     // global logger
	TimeNow func() time.Time // current system time

	// Standard streams
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Config   *config.Config
	DB       *db.DB
	Firewall ftypes.Firewall
	Engine   *engine.Engine
	Metrics  *prometheus.Registry

	// Privileged is true if the process can modify the host firewall.
	Privileged bool

	// Metadata
	Version *VersionInfo
}
