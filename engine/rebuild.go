package engine

import (
	"context"
	"time"

	"go.hackfix.me/natmgr/db/models"
	"go.hackfix.me/natmgr/db/types"
	ftypes "go.hackfix.me/natmgr/firewall/types"
)

// Rebuild stores the DNAT rules live on the managed interface that don't have
// a matching mapping yet. The firewall isn't modified. Rules for an external
// port and protocol that is mapped to a different owner, for a reserved port,
// or for a destination outside of the allowed owner networks are skipped with
// a warning. It returns the added mappings.
func (e *Engine) Rebuild(ctx context.Context) (_ []*models.PortMapping, rerr error) {
	defer func() { e.metrics.observe("rebuild", rerr) }()

	e.mx.Lock()
	defer e.mx.Unlock()

	rules, err := e.fw.LiveRules()
	if err != nil {
		return nil, err
	}

	existing, err := models.PortMappings(ctx, e.db, nil)
	if err != nil {
		return nil, storeErr("failed loading port mappings", err)
	}
	reserved, err := e.reservedPorts(ctx)
	if err != nil {
		return nil, err
	}

	assigned := make(map[portKey]string, len(existing))
	for _, m := range existing {
		assigned[portKey{m.ExternalPort, m.Protocol}] = m.Owner
	}

	timeNow := e.timeNow().UTC()
	added := make([]*models.PortMapping, 0)
	for _, rule := range rules {
		owner := rule.DestHost.String()
		key := portKey{rule.ExternalPort, rule.Protocol}
		logger := e.logger.With("rule", rule.String())

		if cur, ok := assigned[key]; ok {
			if cur != owner {
				logger.Warn("skipping rule for port mapped to another owner", "owner", cur)
			}
			continue
		}
		if reserved.Has(rule.ExternalPort) {
			logger.Warn("skipping rule for reserved port")
			continue
		}
		if e.owners != nil && !e.owners.Contains(rule.DestHost) {
			logger.Warn("skipping rule for owner outside the allowed owner networks")
			continue
		}

		assigned[key] = owner
		added = append(added, mappingFromRule(rule, timeNow))
	}

	if len(added) > 0 {
		err = e.db.Tx(ctx, func(q types.Querier) error {
			return models.SaveMappings(ctx, q, added)
		})
		if err != nil {
			return nil, storeErr("failed storing port mappings", err)
		}
		e.refreshStats(ctx)
	}

	e.logger.Info("rebuilt store from firewall rules", "added", len(added), "live_rules", len(rules))

	return added, nil
}

func mappingFromRule(rule ftypes.Rule, createdAt time.Time) *models.PortMapping {
	return &models.PortMapping{
		CreatedAt:    createdAt,
		Owner:        rule.DestHost.String(),
		ExternalPort: rule.ExternalPort,
		InternalPort: rule.InternalPort,
		Protocol:     rule.Protocol,
	}
}
