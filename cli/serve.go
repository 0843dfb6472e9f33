package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	actx "go.hackfix.me/natmgr/app/context"
	aerrors "go.hackfix.me/natmgr/app/errors"
	"go.hackfix.me/natmgr/web/server"
)

// Serve starts the web server.
type Serve struct {
	Address string `arg:"" optional:"" help:"[host]:port to listen on. Overrides server.address."`
	//nolint:lll // Long struct tags are unavoidable.
	BackupSchedule  string        `help:"Cron expression for automatic backups (e.g. '0 3 * * *' or '@daily'). Overrides backup.schedule."`
	BackupRetention time.Duration `type:"duration" help:"How long automatic backups are kept (e.g. '30d' or '2w'). Overrides backup.retention."`
}

// Run the serve command.
func (c *Serve) Run(appCtx *actx.Context) error {
	srv := server.New(appCtx, c.Address)

	if c.BackupSchedule != "" {
		sched, err := c.scheduleBackups(appCtx)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	// Gracefully shutdown the server if a process signal is received, or the
	// main context is done.
	// See https://dev.to/mokiat/proper-http-shutdown-in-go-3fji
	srvDone := make(chan error, 1)
	go func() {
		srvErr := srv.ListenAndServe()
		slog.Debug("web server shutdown")
		srvDone <- srvErr
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case s := <-sigCh:
		slog.Debug("process received signal", "signal", s)
	case <-appCtx.Ctx.Done():
		slog.Debug("app context is done")
	case srvErr := <-srvDone:
		if srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
			return fmt.Errorf("web server error: %w", srvErr)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed shutting down web server: %w", err)
	}

	return nil
}

// scheduleBackups returns a cron scheduler that periodically backs up the
// store and the firewall rules, and prunes backups older than the retention
// period.
func (c *Serve) scheduleBackups(appCtx *actx.Context) (*cron.Cron, error) {
	logger := appCtx.Logger.With("component", "backup-scheduler")
	sched := cron.New(cron.WithLogger(cronLogger{logger}))

	_, err := sched.AddFunc(c.BackupSchedule, func() { c.runBackup(appCtx, logger) })
	if err != nil {
		return nil, aerrors.WithCause(aerrors.ErrInvalidArgument,
			fmt.Errorf("invalid backup schedule '%s': %w", c.BackupSchedule, err))
	}

	logger.Info("scheduled automatic backups", "schedule", c.BackupSchedule,
		"retention", c.BackupRetention.String())

	return sched, nil
}

// runBackup creates a backup and prunes the backups older than the retention
// period, if one is set. Errors are logged.
func (c *Serve) runBackup(appCtx *actx.Context, logger *slog.Logger) {
	b, err := appCtx.Engine.Backup(appCtx.Ctx)
	if err != nil {
		logger.Error("scheduled backup failed", "error", err.Error())
		return
	}
	logger.Debug("scheduled backup done", "label", b.Label)

	if c.BackupRetention <= 0 {
		return
	}
	pruned, err := appCtx.Engine.PruneBackups(c.BackupRetention)
	if err != nil {
		logger.Error("failed pruning backups", "error", err.Error())
		return
	}
	for _, pb := range pruned {
		logger.Info("pruned backup", "label", pb.Label)
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err.Error())...)
}
