package migrator

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"time"

	"go.hackfix.me/natmgr/db/types"
)

// MigrationDirection is the direction in which migrations are applied.
type MigrationDirection string

// Supported migration directions.
const (
	MigrationUp   MigrationDirection = "up"
	MigrationDown MigrationDirection = "down"
)

// Migration is a single versioned schema change.
type Migration struct {
	ID   int
	Name string
	Up   string
	Down string
}

var fileRx = regexp.MustCompile(`^(\d+)-([\w-]+)\.(up|down)\.sql$`)

// LoadMigrations reads all migration files from the root of fsys, and returns
// them sorted by ID. Files must be named "{id}-{name}.{up|down}.sql".
func LoadMigrations(fsys fs.FS) ([]*Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed reading migrations directory: %w", err)
	}

	byID := map[int]*Migration{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := fileRx.FindStringSubmatch(e.Name())
		if match == nil {
			return nil, fmt.Errorf("invalid migration file name '%s'", e.Name())
		}

		id, _ := strconv.Atoi(match[1])
		m, ok := byID[id]
		if !ok {
			m = &Migration{ID: id, Name: match[2]}
			byID[id] = m
		} else if m.Name != match[2] {
			return nil, fmt.Errorf("conflicting names for migration %d: '%s' and '%s'", id, m.Name, match[2])
		}

		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed reading migration file '%s': %w", e.Name(), err)
		}
		if match[3] == string(MigrationUp) {
			m.Up = string(data)
		} else {
			m.Down = string(data)
		}
	}

	migrations := make([]*Migration, 0, len(byID))
	for _, m := range byID {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %d-%s has no up script", m.ID, m.Name)
		}
		migrations = append(migrations, m)
	}
	slices.SortFunc(migrations, func(a, b *Migration) int { return a.ID - b.ID })

	return migrations, nil
}

// RunMigrations applies migrations in the given direction. The target is
// either "all", or the ID of the last migration to apply (up), or of the last
// migration to keep (down). Applied migrations are recorded in the _migrations
// table, so running the same plan twice is a no-op.
func RunMigrations(
	d types.Querier, migrations []*Migration, dir MigrationDirection,
	target string, logger *slog.Logger,
) error {
	ctx := d.NewContext()

	_, err := d.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed creating _migrations table: %w", err)
	}

	targetID := -1
	if target != "all" {
		if targetID, err = strconv.Atoi(target); err != nil {
			return fmt.Errorf("invalid migration target '%s'", target)
		}
	}

	applied, err := appliedMigrations(d)
	if err != nil {
		return err
	}

	switch dir {
	case MigrationUp:
		for _, m := range migrations {
			if targetID >= 0 && m.ID > targetID {
				break
			}
			if _, ok := applied[m.ID]; ok {
				continue
			}
			logger.Debug("applying migration", "id", m.ID, "name", m.Name)
			if _, err = d.ExecContext(ctx, m.Up); err != nil {
				return fmt.Errorf("failed applying migration %d-%s: %w", m.ID, m.Name, err)
			}
			_, err = d.ExecContext(ctx,
				`INSERT INTO _migrations (id, name, applied_at) VALUES (?, ?, ?)`,
				m.ID, m.Name, d.TimeNow().UTC().Format(time.RFC3339))
			if err != nil {
				return fmt.Errorf("failed recording migration %d-%s: %w", m.ID, m.Name, err)
			}
		}
	case MigrationDown:
		for _, m := range slices.Backward(migrations) {
			if m.ID <= targetID {
				break
			}
			if _, ok := applied[m.ID]; !ok {
				continue
			}
			if m.Down == "" {
				return fmt.Errorf("migration %d-%s can't be reverted", m.ID, m.Name)
			}
			logger.Debug("reverting migration", "id", m.ID, "name", m.Name)
			if _, err = d.ExecContext(ctx, m.Down); err != nil {
				return fmt.Errorf("failed reverting migration %d-%s: %w", m.ID, m.Name, err)
			}
			if _, err = d.ExecContext(ctx, `DELETE FROM _migrations WHERE id = ?`, m.ID); err != nil {
				return fmt.Errorf("failed removing migration record %d-%s: %w", m.ID, m.Name, err)
			}
		}
	default:
		return fmt.Errorf("invalid migration direction '%s'", dir)
	}

	return nil
}

func appliedMigrations(d types.Querier) (_ map[int]struct{}, rerr error) {
	rows, err := d.QueryContext(d.NewContext(), `SELECT id FROM _migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed querying applied migrations: %w", err)
	}
	defer func() {
		rerr = errors.Join(rerr, rows.Close())
	}()

	applied := map[int]struct{}{}
	for rows.Next() {
		var id int
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed scanning migration ID: %w", err)
		}
		applied[id] = struct{}{}
	}

	return applied, rows.Err()
}
