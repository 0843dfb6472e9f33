package queries

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.hackfix.me/natmgr/db/types"
)

// Stats is a summary of the stored mappings and reservations.
type Stats struct {
	TotalMappings int `json:"total_mappings"`
	TotalOwners   int `json:"total_owners"`
	TCPMappings   int `json:"tcp_mappings"`
	UDPMappings   int `json:"udp_mappings"`
	ReservedPorts int `json:"reserved_ports"`
}

// GetStats returns a summary of the stored mappings and reservations.
func GetStats(ctx context.Context, d types.Querier) (Stats, error) {
	var s Stats
	err := d.QueryRowContext(ctx, `SELECT
			COUNT(*),
			COUNT(DISTINCT owner),
			COALESCE(SUM(protocol = 'tcp'), 0),
			COALESCE(SUM(protocol = 'udp'), 0),
			(SELECT COUNT(*) FROM reserved_ports)
		FROM port_mappings`).
		Scan(&s.TotalMappings, &s.TotalOwners, &s.TCPMappings, &s.UDPMappings, &s.ReservedPorts)
	if err != nil {
		return s, fmt.Errorf("failed querying stats: %w", err)
	}

	return s, nil
}

// GetAllTables returns a map of all table names in the given schema (e.g.
// "main", or the name of an attached database) that contain user data.
func GetAllTables(ctx context.Context, d types.Querier, schema string) (_ map[string]struct{}, rerr error) {
	rows, err := d.QueryContext(ctx,
		fmt.Sprintf(`SELECT name FROM "%s".sqlite_master WHERE type = 'table'`, schema))
	if err != nil {
		return nil, err
	}
	defer func() {
		rerr = errors.Join(rerr, rows.Close())
	}()

	allTables := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, err
		}

		// Exclude internal tables
		if !strings.HasPrefix(name, "_") && !strings.HasPrefix(name, "sqlite_") {
			allTables[name] = struct{}{}
		}
	}

	return allTables, rows.Err()
}
