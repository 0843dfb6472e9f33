package engine

import (
	"context"
	"fmt"

	"go.hackfix.me/natmgr/db/models"
	"go.hackfix.me/natmgr/db/types"
)

// Reserve excludes ports from allocation. Reserving a port that is already
// reserved is a no-op, but reserving a port that is mapped to an owner fails.
// It returns the number of newly reserved ports.
func (e *Engine) Reserve(ctx context.Context, ports []uint16, description string) (_ int, rerr error) {
	defer func() { e.metrics.observe("reserve", rerr) }()

	if err := checkPorts(ports); err != nil {
		return 0, err
	}

	e.mx.Lock()
	defer e.mx.Unlock()

	assigned, _, err := e.assignedPorts(ctx)
	if err != nil {
		return 0, err
	}
	for _, port := range ports {
		if assigned.Has(port) {
			return 0, fmt.Errorf("%w: %d", ErrPortAssigned, port)
		}
	}

	var added int
	err = e.db.Tx(ctx, func(q types.Querier) error {
		var ierr error
		added, ierr = models.ReservePorts(ctx, q, ports, description)
		return ierr
	})
	if err != nil {
		return 0, storeErr("failed reserving ports", err)
	}

	e.refreshStats(ctx)
	e.logger.Info("reserved ports", "ports", ports, "added", added)

	return added, nil
}

// Unreserve makes ports available for allocation again. Ports that aren't
// reserved are ignored. It returns the number of removed reservations.
func (e *Engine) Unreserve(ctx context.Context, ports []uint16) (_ int, rerr error) {
	defer func() { e.metrics.observe("unreserve", rerr) }()

	if err := checkPorts(ports); err != nil {
		return 0, err
	}

	e.mx.Lock()
	defer e.mx.Unlock()

	removed, err := models.UnreservePorts(ctx, e.db, ports)
	if err != nil {
		return 0, storeErr("failed unreserving ports", err)
	}

	e.refreshStats(ctx)
	e.logger.Info("unreserved ports", "ports", ports, "removed", removed)

	return removed, nil
}

// ListReserved returns the reserved ports in ascending order.
func (e *Engine) ListReserved(ctx context.Context) ([]*models.ReservedPort, error) {
	ports, err := models.ReservedPorts(ctx, e.db, nil)
	if err != nil {
		return nil, storeErr("failed listing reserved ports", err)
	}
	return ports, nil
}

func checkPorts(ports []uint16) error {
	if len(ports) == 0 {
		return invalidArg("no ports specified")
	}
	for _, port := range ports {
		if port == 0 {
			return invalidArg("port must be greater than 0")
		}
	}
	return nil
}
