package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "go.hackfix.me/natmgr/app/errors"
)

func TestEngineBackupRestore(t *testing.T) {
	t.Parallel()

	fs := osfs.New()
	dir := t.TempDir()
	e, fw := newTestEngine(t, WithBackupDir(fs, dir))
	ctx := t.Context()

	_, err := e.Add(ctx, AddRequest{Owner: "10.0.0.5", Count: 3})
	require.NoError(t, err)
	_, err = e.Reserve(ctx, []uint16{60000}, "vpn")
	require.NoError(t, err)
	rulesBefore := fw.Rules()
	recordsBefore, err := e.Records(ctx)
	require.NoError(t, err)

	b, err := e.Backup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20250101_000000", b.Label)
	assert.Equal(t, filepath.Join(dir, "backup_20250101_000000"), b.Path)
	assert.True(t, b.CreatedAt.Equal(timeNow))

	for _, name := range []string{"port_mappings.db", "rules.v4"} {
		_, err = fs.Stat(filepath.Join(b.Path, name))
		assert.NoError(t, err, name)
	}

	// Only one backup per second.
	_, err = e.Backup(ctx)
	assert.ErrorIs(t, err, aerrors.ErrConflict)

	_, err = e.Remove(ctx, "10.0.0.5")
	require.NoError(t, err)
	_, err = e.Unreserve(ctx, []uint16{60000})
	require.NoError(t, err)
	_, err = e.Add(ctx, AddRequest{Owner: "10.0.0.9", Count: 1})
	require.NoError(t, err)

	require.NoError(t, e.Restore(ctx, "backup_20250101_000000"))

	recordsAfter, err := e.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, recordsBefore, recordsAfter)
	assert.Equal(t, rulesBefore, fw.Rules())
	assert.Equal(t, rulesBefore, fw.PersistedRules())

	reserved, err := e.ListReserved(ctx)
	require.NoError(t, err)
	require.Len(t, reserved, 1)
	assert.Equal(t, "vpn", reserved[0].Description)

	// The label prefix is optional.
	require.NoError(t, e.Restore(ctx, "20250101_000000"))
}

func TestEngineRestoreErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		label  string
		expErr error
	}{
		{name: "err/not_found", label: "20240101_000000", expErr: ErrBackupNotFound},
		{name: "err/not_found_kind", label: "backup_20240101_000000", expErr: aerrors.ErrNotFound},
		{name: "err/path_traversal", label: "../../etc", expErr: aerrors.ErrInvalidArgument},
		{name: "err/empty", label: "", expErr: aerrors.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e, _ := newTestEngine(t, WithBackupDir(osfs.New(), t.TempDir()))
			err := e.Restore(t.Context(), tt.label)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expErr)
		})
	}

	t.Run("err/not_configured", func(t *testing.T) {
		t.Parallel()

		e, _ := newTestEngine(t)
		_, err := e.Backup(t.Context())
		require.ErrorIs(t, err, aerrors.ErrInvalidArgument)
		assert.ErrorContains(t, err, "backup directory isn't configured")
	})
}

func TestEngineRestoreFirewallRevert(t *testing.T) {
	t.Parallel()

	fs := osfs.New()
	e, fw := newTestEngine(t, WithBackupDir(fs, t.TempDir()))
	ctx := t.Context()

	_, err := e.Add(ctx, AddRequest{Owner: "10.0.0.5", Count: 1})
	require.NoError(t, err)
	b, err := e.Backup(ctx)
	require.NoError(t, err)

	_, err = e.Remove(ctx, "10.0.0.5")
	require.NoError(t, err)
	_, err = e.Add(ctx, AddRequest{Owner: "10.0.0.6", Count: 2})
	require.NoError(t, err)
	current := fw.Rules()

	// Corrupt the store copy.
	require.NoError(t, vfs.WriteFile(fs, filepath.Join(b.Path, "port_mappings.db"), []byte("garbage"), 0o600))

	err = e.Restore(ctx, b.Label)
	require.Error(t, err)
	assert.ErrorIs(t, err, aerrors.ErrIO)
	assert.Equal(t, current, fw.Rules())

	records, err := e.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "10.0.0.6", records[0].Owner)
}

func TestEngineListPruneBackups(t *testing.T) {
	t.Parallel()

	fs := osfs.New()
	dir := t.TempDir()
	e, _ := newTestEngine(t, WithBackupDir(fs, dir))
	ctx := t.Context()

	backups, err := e.ListBackups()
	require.NoError(t, err)
	assert.Empty(t, backups)

	var now time.Time
	for _, d := range []time.Duration{0, 24 * time.Hour, 72 * time.Hour} {
		now = timeNow.Add(d)
		e.timeNow = func() time.Time { return now }
		_, err = e.Backup(ctx)
		require.NoError(t, err)
	}

	// Unrelated entries are ignored.
	require.NoError(t, fs.MkdirAll(filepath.Join(dir, "backup_latest"), 0o755))
	require.NoError(t, vfs.WriteFile(fs, filepath.Join(dir, "notes.txt"), nil, 0o644))

	backups, err = e.ListBackups()
	require.NoError(t, err)
	labels := make([]string, len(backups))
	for i, b := range backups {
		labels[i] = b.Label
	}
	assert.Equal(t, []string{"20250104_000000", "20250102_000000", "20250101_000000"}, labels)

	pruned, err := e.PruneBackups(47 * time.Hour)
	require.NoError(t, err)
	require.Len(t, pruned, 2)
	assert.Equal(t, "20250102_000000", pruned[0].Label)
	assert.Equal(t, "20250101_000000", pruned[1].Label)

	backups, err = e.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, "20250104_000000", backups[0].Label)
}
