package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.hackfix.me/natmgr/db/types"
)

// ReservedPort is an external port excluded from allocation.
type ReservedPort struct {
	Port        uint16
	CreatedAt   time.Time
	Description string
}

// ReservePorts marks ports as reserved. Ports that are already reserved are
// left untouched. It returns the number of newly reserved ports.
func ReservePorts(ctx context.Context, d types.Querier, ports []uint16, description string) (int, error) {
	timeNow := d.TimeNow().UTC()

	var added int
	for _, port := range ports {
		if port == 0 {
			return added, types.InvalidInputError{Msg: "port must be greater than 0"}
		}
		res, err := d.ExecContext(ctx,
			`INSERT OR IGNORE INTO reserved_ports (port, created_at, description) VALUES (?, ?, ?)`,
			port, timeNow, description)
		if err != nil {
			return added, types.Err("reserved port", fmt.Sprintf("port %d", port), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return added, fmt.Errorf("failed getting affected rows: %w", err)
		}
		added += int(n)
	}

	return added, nil
}

// UnreservePorts removes ports from the reserved set. Ports that aren't
// reserved are ignored. It returns the number of removed reservations.
func UnreservePorts(ctx context.Context, d types.Querier, ports []uint16) (int, error) {
	filter := types.In("port", ports)
	res, err := d.ExecContext(ctx, fmt.Sprintf(`DELETE FROM reserved_ports WHERE %s`, filter.Where), filter.Args...)
	if err != nil {
		return 0, fmt.Errorf("failed deleting reserved ports: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed getting affected rows: %w", err)
	}

	return int(n), nil
}

// ReservedPorts returns reserved ports ordered by port number. An optional
// filter can be passed to limit the results.
func ReservedPorts(ctx context.Context, d types.Querier, filter *types.Filter) (ports []*ReservedPort, rerr error) {
	clause, args := filter.Clause()
	query := fmt.Sprintf(`SELECT rp.port, rp.created_at, rp.description
		FROM reserved_ports rp %s`, orderBefore(clause, "ORDER BY rp.port ASC"))

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{ModelName: "reserved ports", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = errors.Join(rerr, fmt.Errorf("failed closing reserved ports rows: %w", err))
		}
	}()

	ports = make([]*ReservedPort, 0)
	for rows.Next() {
		var rp ReservedPort
		if err = rows.Scan(&rp.Port, &rp.CreatedAt, &rp.Description); err != nil {
			return nil, types.ScanError{ModelName: "reserved port", Err: err}
		}
		ports = append(ports, &rp)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over reserved ports rows: %w", err)
	}

	return ports, nil
}
