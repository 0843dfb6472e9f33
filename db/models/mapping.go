package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.hackfix.me/natmgr/db/types"
	ftypes "go.hackfix.me/natmgr/firewall/types"
)

// PortMapping is a redirect of an external port on the host to an internal
// port of an owner.
type PortMapping struct {
	ID           uint64
	CreatedAt    time.Time
	Owner        string
	ExternalPort uint16
	InternalPort uint16
	Protocol     ftypes.Protocol
	Temporary    bool
	Description  string
}

// Save inserts the mapping into the database. It returns a DuplicateError if
// the external port and protocol pair is already assigned.
func (m *PortMapping) Save(ctx context.Context, d types.Querier) error {
	if m.Owner == "" || m.ExternalPort == 0 || m.InternalPort == 0 {
		return types.InvalidInputError{Msg: "owner, external and internal ports must be set"}
	}
	if m.Protocol == "" {
		m.Protocol = ftypes.ProtocolTCP
	}

	timeNow := d.TimeNow().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = timeNow
	}

	res, err := d.ExecContext(ctx, `INSERT INTO port_mappings
		(id, created_at, owner, external_port, internal_port, protocol, temporary, description)
		VALUES (NULL, ?, ?, ?, ?, ?, ?, ?)`,
		m.CreatedAt, m.Owner, m.ExternalPort, m.InternalPort, m.Protocol, m.Temporary, m.Description)
	if err != nil {
		return types.Err("port mapping", fmt.Sprintf("port %d/%s", m.ExternalPort, m.Protocol), err)
	}

	m.ID, err = lastInsertID(res)
	if err != nil {
		return err
	}

	return nil
}

// ToRule returns the firewall rule enforcing the mapping. It fails if the
// owner isn't an IP address.
func (m *PortMapping) ToRule() (ftypes.Rule, error) {
	rule, err := ftypes.NewRule(m.Protocol, m.ExternalPort, m.Owner, m.InternalPort)
	if err != nil {
		return rule, fmt.Errorf("invalid port mapping %d/%s: %w", m.ExternalPort, m.Protocol, err)
	}
	return rule, nil
}

// SaveMappings inserts all mappings. It should be called with a transaction
// Querier, so that either all or none of the mappings are stored.
func SaveMappings(ctx context.Context, d types.Querier, mappings []*PortMapping) error {
	for _, m := range mappings {
		if err := m.Save(ctx, d); err != nil {
			return err
		}
	}

	return nil
}

// PortMappings returns port mappings from the database ordered by owner and
// external port. An optional filter can be passed to limit the results.
func PortMappings(ctx context.Context, d types.Querier, filter *types.Filter) (mappings []*PortMapping, rerr error) {
	clause, args := filter.Clause()
	query := fmt.Sprintf(`SELECT
			pm.id, pm.created_at, pm.owner, pm.external_port, pm.internal_port,
			pm.protocol, pm.temporary, pm.description
		FROM port_mappings pm %s`, orderBefore(clause, "ORDER BY pm.owner ASC, pm.external_port ASC, pm.protocol ASC"))

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{ModelName: "port mappings", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = errors.Join(rerr, fmt.Errorf("failed closing port mappings rows: %w", err))
		}
	}()

	mappings = make([]*PortMapping, 0)
	for rows.Next() {
		var m PortMapping
		err = rows.Scan(&m.ID, &m.CreatedAt, &m.Owner, &m.ExternalPort, &m.InternalPort,
			&m.Protocol, &m.Temporary, &m.Description)
		if err != nil {
			return nil, types.ScanError{ModelName: "port mapping", Err: err}
		}
		mappings = append(mappings, &m)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over port mappings rows: %w", err)
	}

	return mappings, nil
}

// DeleteMappings removes all mappings that match the filter, and returns the
// deleted rows. It returns a NoResultError if nothing matched.
func DeleteMappings(ctx context.Context, d types.Querier, filter *types.Filter) ([]*PortMapping, error) {
	mappings, err := PortMappings(ctx, d, filter)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, types.NoResultError{ModelName: "port mapping", ID: fmt.Sprintf("%v", filter.Args)}
	}

	ids := make([]uint64, len(mappings))
	for i, m := range mappings {
		ids[i] = m.ID
	}
	idFilter := types.In("id", ids)

	res, err := d.ExecContext(ctx, fmt.Sprintf(`DELETE FROM port_mappings WHERE %s`, idFilter.Where), idFilter.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed deleting port mappings: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed getting affected rows: %w", err)
	}
	if int(n) != len(mappings) {
		return nil, types.IntegrityError{Msg: fmt.Sprintf("expected to delete %d port mappings, deleted %d", len(mappings), n)}
	}

	return mappings, nil
}

// CountMappings returns the number of mappings that match the filter.
func CountMappings(ctx context.Context, d types.Querier, filter *types.Filter) (int, error) {
	if filter == nil {
		filter = types.NewFilter("1=1", nil)
	}
	return filterCount(ctx, d, "port_mappings", filter)
}

// OwnerFilter returns a filter matching all mappings of owner.
func OwnerFilter(owner string) *types.Filter {
	return types.NewFilter("owner = ?", []any{owner})
}
