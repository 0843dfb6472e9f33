package engine

import (
	"log/slog"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"go4.org/netipx"

	"go.hackfix.me/natmgr/allocator"
)

// Option is a function that allows configuring the Engine.
type Option func(*Engine) error

// WithLogger sets the logger used by the Engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger.With("component", "engine")
		return nil
	}
}

// WithTimeNow sets the function used to get the current time.
func WithTimeNow(timeNow func() time.Time) Option {
	return func(e *Engine) error {
		e.timeNow = timeNow
		return nil
	}
}

// WithLiveChecker sets the checker for ports bound on the host. If nil, bound
// ports aren't considered during allocation.
func WithLiveChecker(live allocator.LiveChecker) Option {
	return func(e *Engine) error {
		e.live = live
		return nil
	}
}

// WithBackupDir sets the filesystem and directory where backups are stored.
// The store file is copied by the database itself, so fs must be backed by the
// OS filesystem.
func WithBackupDir(fs vfs.FileSystem, dir string) Option {
	return func(e *Engine) error {
		e.fs = fs
		e.backupDir = dir
		return nil
	}
}

// WithOwnerNetworks restricts owner addresses to the given IP set.
func WithOwnerNetworks(ipSet *netipx.IPSet) Option {
	return func(e *Engine) error {
		e.owners = ipSet
		return nil
	}
}

// WithMetrics registers the Engine metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) error {
		return e.metrics.register(reg)
	}
}

// DefaultOptions returns the default Engine options.
func DefaultOptions() []Option {
	return []Option{
		WithLogger(slog.Default()),
		WithTimeNow(time.Now),
	}
}
