package engine

import (
	"context"
	"fmt"
	"slices"

	"go.hackfix.me/natmgr/allocator"
	"go.hackfix.me/natmgr/db/models"
	"go.hackfix.me/natmgr/db/types"
	ftypes "go.hackfix.me/natmgr/firewall/types"
)

// Mode selects how the internal ports and protocols of new mappings are chosen.
type Mode string

// Supported modes.
const (
	// ModeAutomatic maps the first ports to well-known services, and the rest
	// to the same internal port as the external one, all over TCP.
	ModeAutomatic Mode = "automatic"
	// ModeManual uses the internal ports and protocols given by the caller.
	ModeManual Mode = "manual"
)

// ModeFromString returns a valid Mode for the given string, or an error if the
// value is invalid.
func ModeFromString(val string) (Mode, error) {
	switch Mode(val) {
	case ModeAutomatic, "auto":
		return ModeAutomatic, nil
	case ModeManual:
		return ModeManual, nil
	}
	return "", invalidArg("invalid mode '%s'", val)
}

// DefaultPortCount is the number of ports allocated if the caller doesn't
// request a specific amount.
const DefaultPortCount = 6

// Internal ports assigned to the first slots in automatic mode.
var automaticPorts = []uint16{22, 80, 443, 8080}

// AddRequest describes a new block of port mappings for a single owner.
type AddRequest struct {
	Owner string
	Mode  Mode
	// Count is the number of ports to allocate. It's ignored if ExternalPorts
	// is set.
	Count int
	// ExternalPorts are used verbatim instead of allocating ports.
	ExternalPorts []uint16
	// InternalPorts and Protocols are only used in manual mode. Protocols
	// default to TCP if empty.
	InternalPorts []uint16
	Protocols     []ftypes.Protocol
	// Temporary mappings are programmed in the firewall, but aren't stored or
	// persisted.
	Temporary   bool
	Description string
}

// Add allocates external ports for an owner that doesn't have any mappings yet,
// programs the firewall rules and stores the mappings. Nothing is stored if
// programming any of the rules fails, and the rules inserted up to that point
// are removed. It returns the new mappings in external port order.
func (e *Engine) Add(ctx context.Context, req AddRequest) (_ []*models.PortMapping, rerr error) {
	defer func() { e.metrics.observe("add", rerr) }()

	owner, err := e.parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	logger := e.logger.With("owner", owner)

	if req.Mode == "" {
		req.Mode = ModeAutomatic
	}
	if req.Mode, err = ModeFromString(string(req.Mode)); err != nil {
		return nil, err
	}

	count := req.Count
	if len(req.ExternalPorts) > 0 {
		count = len(req.ExternalPorts)
	}
	if count <= 0 {
		return nil, invalidArg("invalid port count %d", count)
	}

	internal, protos, err := slotsFor(req, count)
	if err != nil {
		return nil, err
	}

	e.mx.Lock()
	defer e.mx.Unlock()

	n, err := models.CountMappings(ctx, e.db, models.OwnerFilter(owner))
	if err != nil {
		return nil, storeErr("failed counting port mappings", err)
	}
	if n > 0 {
		return nil, fmt.Errorf("%w: %s", ErrOwnerAlreadyBound, owner)
	}

	assigned, pairs, err := e.assignedPorts(ctx)
	if err != nil {
		return nil, err
	}
	reserved, err := e.reservedPorts(ctx)
	if err != nil {
		return nil, err
	}

	var external []uint16
	if len(req.ExternalPorts) > 0 {
		external = slices.Clone(req.ExternalPorts)
		if err = checkExplicitPorts(external, protos, reserved, pairs); err != nil {
			return nil, err
		}
	} else {
		external, err = e.alloc.Allocate(count, assigned, reserved, e.boundPorts(ctx).Has)
		if err != nil {
			return nil, err
		}
		logger.Debug("allocated ports", "ports", external)
	}

	timeNow := e.timeNow().UTC()
	mappings := make([]*models.PortMapping, count)
	rules := make([]ftypes.Rule, count)
	for i, ext := range external {
		intPort := internal[i]
		if intPort == 0 {
			// Automatic mode past the well-known services.
			intPort = ext
		}
		mappings[i] = &models.PortMapping{
			CreatedAt:    timeNow,
			Owner:        owner,
			ExternalPort: ext,
			InternalPort: intPort,
			Protocol:     protos[i],
			Temporary:    req.Temporary,
			Description:  req.Description,
		}
		if rules[i], err = mappings[i].ToRule(); err != nil {
			return nil, invalidArg("%s", err)
		}
	}

	inserted, err := e.fw.Apply(rules)
	if err != nil {
		e.fw.Revoke(inserted)
		return nil, err
	}

	if req.Temporary {
		logger.Info("added temporary port mappings", "count", len(mappings))
		return mappings, nil
	}

	err = e.db.Tx(ctx, func(q types.Querier) error {
		return models.SaveMappings(ctx, q, mappings)
	})
	if err != nil {
		e.fw.Revoke(inserted)
		return nil, storeErr("failed storing port mappings", err)
	}

	e.persist()
	e.refreshStats(ctx)
	logger.Info("added port mappings", "count", len(mappings))

	return mappings, nil
}

// slotsFor returns the internal ports and protocols for count slots. In
// automatic mode, slots past the well-known services have internal port 0,
// and get the external port once it's known.
func slotsFor(req AddRequest, count int) ([]uint16, []ftypes.Protocol, error) {
	internal := make([]uint16, count)
	protos := make([]ftypes.Protocol, count)

	if req.Mode == ModeAutomatic {
		for i := range count {
			if i < len(automaticPorts) {
				internal[i] = automaticPorts[i]
			}
			protos[i] = ftypes.ProtocolTCP
		}
		return internal, protos, nil
	}

	if len(req.InternalPorts) == 0 {
		return nil, nil, invalidArg("internal ports are required in manual mode")
	}
	if len(req.InternalPorts) != count {
		return nil, nil, fmt.Errorf("%w: %d internal ports for %d external ports",
			ErrCountMismatch, len(req.InternalPorts), count)
	}
	if len(req.Protocols) > 0 && len(req.Protocols) != count {
		return nil, nil, fmt.Errorf("%w: %d protocols for %d external ports",
			ErrCountMismatch, len(req.Protocols), count)
	}

	for i, p := range req.InternalPorts {
		if p == 0 {
			return nil, nil, invalidArg("internal port must be greater than 0")
		}
		internal[i] = p

		protos[i] = ftypes.ProtocolTCP
		if len(req.Protocols) > 0 {
			proto, err := ftypes.ProtocolFromString(string(req.Protocols[i]))
			if err != nil {
				return nil, nil, invalidArg("%s", err)
			}
			protos[i] = proto
		}
	}

	return internal, protos, nil
}

// checkExplicitPorts ensures that caller supplied external ports aren't
// reserved or already assigned.
func checkExplicitPorts(
	external []uint16, protos []ftypes.Protocol, reserved allocator.PortSet,
	assigned map[portKey]string,
) error {
	seen := make(map[portKey]struct{}, len(external))
	for i, port := range external {
		if port == 0 {
			return invalidArg("external port must be greater than 0")
		}
		key := portKey{port, protos[i]}
		if _, ok := seen[key]; ok {
			return invalidArg("duplicate external port %d/%s", port, protos[i])
		}
		seen[key] = struct{}{}

		if reserved.Has(port) {
			return fmt.Errorf("%w: %d", ErrPortReserved, port)
		}
		if owner, ok := assigned[key]; ok {
			return fmt.Errorf("%w: %d/%s is mapped to %s", ErrPortAssigned, port, protos[i], owner)
		}
	}

	return nil
}
