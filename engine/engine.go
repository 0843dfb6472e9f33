// Package engine keeps the mapping store and the live firewall rules
// consistent. It allocates external ports, programs and revokes DNAT rules,
// and implements import, export, backup, restore and rebuild on top of them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"go4.org/netipx"

	"go.hackfix.me/natmgr/allocator"
	"go.hackfix.me/natmgr/db"
	"go.hackfix.me/natmgr/db/models"
	"go.hackfix.me/natmgr/db/queries"
	"go.hackfix.me/natmgr/db/types"
	"go.hackfix.me/natmgr/firewall"
	ftypes "go.hackfix.me/natmgr/firewall/types"
)

// Engine is the single entry point for changing port mappings. Mutating
// operations are serialized, so that concurrent callers can't bind the same
// owner or port twice.
type Engine struct {
	mx        sync.Mutex
	db        *db.DB
	fw        *firewall.Manager
	alloc     *allocator.Allocator
	live      allocator.LiveChecker
	fs        vfs.FileSystem
	backupDir string
	owners    *netipx.IPSet
	timeNow   func() time.Time
	logger    *slog.Logger
	metrics   *metrics
}

// New returns a new Engine instance.
func New(d *db.DB, fw *firewall.Manager, alloc *allocator.Allocator, opts ...Option) (*Engine, error) {
	if d == nil || fw == nil || alloc == nil {
		return nil, errors.New("database, firewall manager and allocator are required")
	}

	e := &Engine{db: d, fw: fw, alloc: alloc, metrics: newMetrics()}

	opts = append(DefaultOptions(), opts...)
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// List returns the stored port mappings ordered by owner and external port. If
// owner is not empty, only the mappings of that owner are returned.
func (e *Engine) List(ctx context.Context, owner string) ([]*models.PortMapping, error) {
	var filter *types.Filter
	if owner != "" {
		var err error
		if owner, err = e.parseOwner(owner); err != nil {
			return nil, err
		}
		filter = models.OwnerFilter(owner)
	}

	mappings, err := models.PortMappings(ctx, e.db, filter)
	if err != nil {
		return nil, storeErr("failed listing port mappings", err)
	}

	return mappings, nil
}

// Remove deletes all port mappings of owner. The firewall rules are removed on
// a best-effort basis before the stored mappings, so a rule that can't be
// removed doesn't prevent the mappings from being deleted. It returns the
// removed mappings.
func (e *Engine) Remove(ctx context.Context, owner string) (_ []*models.PortMapping, rerr error) {
	defer func() { e.metrics.observe("remove", rerr) }()

	owner, err := e.parseOwner(owner)
	if err != nil {
		return nil, err
	}

	e.mx.Lock()
	defer e.mx.Unlock()

	mappings, err := models.PortMappings(ctx, e.db, models.OwnerFilter(owner))
	if err != nil {
		return nil, storeErr("failed loading port mappings", err)
	}
	if len(mappings) == 0 {
		return nil, fmt.Errorf("%w for owner %s", ErrNoMappings, owner)
	}

	logger := e.logger.With("owner", owner)
	rules := make([]ftypes.Rule, 0, len(mappings))
	for _, m := range mappings {
		rule, terr := m.ToRule()
		if terr != nil {
			logger.Warn("skipping firewall rule removal", "error", terr.Error())
			continue
		}
		rules = append(rules, rule)
	}
	if n := e.fw.Revoke(rules); n < len(mappings) {
		logger.Warn("not all firewall rules were removed", "removed", n, "expected", len(mappings))
	}

	err = e.db.Tx(ctx, func(q types.Querier) error {
		var derr error
		mappings, derr = models.DeleteMappings(ctx, q, models.OwnerFilter(owner))
		return derr
	})
	if err != nil {
		return nil, storeErr("failed deleting port mappings", err)
	}

	e.persist()
	e.refreshStats(ctx)
	logger.Info("removed port mappings", "count", len(mappings))

	return mappings, nil
}

// Stats returns a summary of the stored mappings and reservations.
func (e *Engine) Stats(ctx context.Context) (queries.Stats, error) {
	s, err := queries.GetStats(ctx, e.db)
	if err != nil {
		return s, storeErr("failed loading stats", err)
	}
	e.metrics.setStats(s)

	return s, nil
}

// persist saves the live firewall rules. Failures are only logged, since the
// store already reflects the change, and the rules are still live.
func (e *Engine) persist() {
	if err := e.fw.Persist(); err != nil {
		e.logger.Error("failed persisting firewall rules; they won't survive a restart",
			"error", err.Error())
	}
}

func (e *Engine) refreshStats(ctx context.Context) {
	if _, err := e.Stats(ctx); err != nil {
		e.logger.Warn("failed refreshing stats", "error", err.Error())
	}
}

// assignedPorts returns the external ports of all stored mappings, regardless
// of protocol, and the set of assigned external port and protocol pairs.
func (e *Engine) assignedPorts(ctx context.Context) (allocator.PortSet, map[portKey]string, error) {
	mappings, err := models.PortMappings(ctx, e.db, nil)
	if err != nil {
		return nil, nil, storeErr("failed loading port mappings", err)
	}

	ports := make(allocator.PortSet, len(mappings))
	pairs := make(map[portKey]string, len(mappings))
	for _, m := range mappings {
		ports[m.ExternalPort] = struct{}{}
		pairs[portKey{m.ExternalPort, m.Protocol}] = m.Owner
	}

	return ports, pairs, nil
}

func (e *Engine) reservedPorts(ctx context.Context) (allocator.PortSet, error) {
	reserved, err := models.ReservedPorts(ctx, e.db, nil)
	if err != nil {
		return nil, storeErr("failed loading reserved ports", err)
	}

	ports := make(allocator.PortSet, len(reserved))
	for _, rp := range reserved {
		ports[rp.Port] = struct{}{}
	}

	return ports, nil
}

// boundPorts returns the ports bound on the host. If they can't be determined
// a warning is logged and no ports are considered bound.
func (e *Engine) boundPorts(ctx context.Context) allocator.PortSet {
	if e.live == nil {
		return nil
	}
	ports, err := e.live.BoundPorts(ctx)
	if err != nil {
		e.logger.Warn("failed checking bound ports; ignoring host sockets", "error", err.Error())
		return nil
	}
	return ports
}

type portKey struct {
	port  uint16
	proto ftypes.Protocol
}
