package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	aerrors "go.hackfix.me/natmgr/app/errors"
	"go.hackfix.me/natmgr/db/queries"
)

const (
	backupPrefix     = "backup_"
	backupTimeLayout = "20060102_150405"
	backupStoreFile  = "port_mappings.db"
	backupRulesFile  = "rules.v4"
)

// Backup is a bundle of the store and the firewall rules taken at the same
// time.
type Backup struct {
	// Label identifies the backup, e.g. "20250101_120000".
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"path"`
}

// Backup writes a copy of the store and a dump of the live firewall rules to a
// new directory labelled with the current time.
func (e *Engine) Backup(ctx context.Context) (_ *Backup, rerr error) {
	defer func() { e.metrics.observe("backup", rerr) }()

	if err := e.checkBackupDir(); err != nil {
		return nil, err
	}

	e.mx.Lock()
	defer e.mx.Unlock()

	created := e.timeNow()
	b := &Backup{Label: created.Format(backupTimeLayout), CreatedAt: created.Truncate(time.Second)}
	b.Path = filepath.Join(e.backupDir, backupPrefix+b.Label)

	if _, err := e.fs.Stat(b.Path); err == nil {
		return nil, fmt.Errorf("backup %s already exists: %w", b.Label, aerrors.ErrConflict)
	}
	if err := e.fs.MkdirAll(b.Path, 0o750); err != nil {
		return nil, ioErr("failed creating backup directory", err)
	}

	defer func() {
		if rerr != nil {
			if err := e.fs.RemoveAll(b.Path); err != nil {
				e.logger.Warn("failed cleaning up backup directory", "path", b.Path, "error", err.Error())
			}
		}
	}()

	rules, err := e.fw.Snapshot()
	if err != nil {
		return nil, err
	}
	if err = vfs.WriteFile(e.fs, filepath.Join(b.Path, backupRulesFile), rules, 0o640); err != nil {
		return nil, ioErr("failed writing firewall rules", err)
	}
	if err = e.db.BackupTo(ctx, filepath.Join(b.Path, backupStoreFile)); err != nil {
		return nil, ioErr("failed copying the store", err)
	}

	e.logger.Info("created backup", "label", b.Label, "path", b.Path)

	return b, nil
}

// ListBackups returns the available backups, newest first.
func (e *Engine) ListBackups() ([]*Backup, error) {
	if err := e.checkBackupDir(); err != nil {
		return nil, err
	}

	dir, err := e.fs.Open(e.backupDir)
	if err != nil {
		if vfs.IsErrNotExist(err) {
			return []*Backup{}, nil
		}
		return nil, ioErr("failed opening backup directory", err)
	}
	names, err := dir.Readdirnames(-1)
	if cerr := dir.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, ioErr("failed reading backup directory", err)
	}

	backups := make([]*Backup, 0, len(names))
	for _, name := range names {
		label, ok := strings.CutPrefix(name, backupPrefix)
		if !ok {
			continue
		}
		created, err := time.ParseInLocation(backupTimeLayout, label, e.timeNow().Location())
		if err != nil {
			continue
		}
		backups = append(backups, &Backup{
			Label: label, CreatedAt: created, Path: filepath.Join(e.backupDir, name),
		})
	}

	slices.SortFunc(backups, func(a, b *Backup) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return backups, nil
}

// PruneBackups deletes backups older than retention, and returns them.
func (e *Engine) PruneBackups(retention time.Duration) ([]*Backup, error) {
	backups, err := e.ListBackups()
	if err != nil {
		return nil, err
	}

	cutoff := e.timeNow().Add(-retention)
	var pruned []*Backup
	for _, b := range backups {
		if !b.CreatedAt.Before(cutoff) {
			continue
		}
		if err = e.fs.RemoveAll(b.Path); err != nil {
			return pruned, ioErr(fmt.Sprintf("failed deleting backup %s", b.Label), err)
		}
		pruned = append(pruned, b)
		e.logger.Info("deleted expired backup", "label", b.Label)
	}

	return pruned, nil
}

// Restore replaces the live firewall rules and the contents of the store with
// the ones from the backup with the given label. The firewall rules are
// restored first, and reverted if the store can't be restored.
func (e *Engine) Restore(ctx context.Context, label string) (rerr error) {
	defer func() { e.metrics.observe("restore", rerr) }()

	if err := e.checkBackupDir(); err != nil {
		return err
	}

	label = strings.TrimPrefix(label, backupPrefix)
	if _, err := time.Parse(backupTimeLayout, label); err != nil {
		return invalidArg("invalid backup label '%s'", label)
	}

	path := filepath.Join(e.backupDir, backupPrefix+label)
	if _, err := e.fs.Stat(path); err != nil {
		if vfs.IsErrNotExist(err) {
			return fmt.Errorf("%w: %s", ErrBackupNotFound, label)
		}
		return ioErr("failed checking backup", err)
	}

	rules, err := vfs.ReadFile(e.fs, filepath.Join(path, backupRulesFile))
	if err != nil {
		return ioErr("failed reading backup firewall rules", err)
	}
	storePath := filepath.Join(path, backupStoreFile)
	if _, err = e.fs.Stat(storePath); err != nil {
		return ioErr("failed reading backup store", err)
	}

	e.mx.Lock()
	defer e.mx.Unlock()

	current, err := e.fw.Snapshot()
	if err != nil {
		return err
	}
	if err = e.fw.Restore(rules); err != nil {
		return err
	}

	tables, err := queries.GetAllTables(ctx, e.db, "main")
	if err == nil {
		names := make([]string, 0, len(tables))
		for name := range tables {
			names = append(names, name)
		}
		slices.Sort(names)
		err = e.db.RestoreFrom(ctx, storePath, names...)
	}
	if err != nil {
		if ferr := e.fw.Restore(current); ferr != nil {
			e.logger.Error("failed reverting firewall rules", "error", ferr.Error())
		}
		return ioErr("failed restoring the store", err)
	}

	e.persist()
	e.refreshStats(ctx)
	e.logger.Info("restored backup", "label", label)

	return nil
}

func (e *Engine) checkBackupDir() error {
	if e.fs == nil || e.backupDir == "" {
		return fmt.Errorf("backup directory isn't configured: %w", aerrors.ErrInvalidArgument)
	}
	return nil
}

func ioErr(msg string, err error) error {
	return aerrors.WithCause(fmt.Errorf("%s: %w", msg, aerrors.ErrIO), err)
}
