package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"go.hackfix.me/natmgr/db/models"
	"go.hackfix.me/natmgr/db/types"
	ftypes "go.hackfix.me/natmgr/firewall/types"
)

// Format is the serialization format of exported mappings.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath returns the format matching the file extension of path.
// Files that don't have a YAML extension are treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Record is the portable representation of a stored port mapping.
type Record struct {
	Owner        string          `json:"owner" yaml:"owner"`
	ExternalPort uint16          `json:"external_port" yaml:"external_port"`
	InternalPort uint16          `json:"internal_port" yaml:"internal_port"`
	Protocol     ftypes.Protocol `json:"protocol" yaml:"protocol"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
}

// recordIn also accepts the container_ip key used by older exports.
type recordIn struct {
	Owner        string          `json:"owner" yaml:"owner"`
	ContainerIP  string          `json:"container_ip" yaml:"container_ip"`
	ExternalPort uint16          `json:"external_port" yaml:"external_port"`
	InternalPort uint16          `json:"internal_port" yaml:"internal_port"`
	Protocol     ftypes.Protocol `json:"protocol" yaml:"protocol"`
	Description  *string         `json:"description" yaml:"description"`
}

func (in recordIn) record() Record {
	r := Record{
		Owner:        in.Owner,
		ExternalPort: in.ExternalPort,
		InternalPort: in.InternalPort,
		Protocol:     in.Protocol,
	}
	if r.Owner == "" {
		r.Owner = in.ContainerIP
	}
	if in.Description != nil {
		r.Description = *in.Description
	}
	return r
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordIn
	if err := json.Unmarshal(data, &in); err != nil {
		return err //nolint:wrapcheck // Wrapped by the caller.
	}
	*r = in.record()
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Record) UnmarshalYAML(value *yaml.Node) error {
	var in recordIn
	if err := value.Decode(&in); err != nil {
		return err //nolint:wrapcheck // Wrapped by the caller.
	}
	*r = in.record()
	return nil
}

// Records returns all stored mappings as portable records.
func (e *Engine) Records(ctx context.Context) ([]Record, error) {
	mappings, err := e.List(ctx, "")
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(mappings))
	for i, m := range mappings {
		records[i] = Record{
			Owner:        m.Owner,
			ExternalPort: m.ExternalPort,
			InternalPort: m.InternalPort,
			Protocol:     m.Protocol,
			Description:  m.Description,
		}
	}

	return records, nil
}

// Export writes all stored mappings to w in the given format. It returns the
// number of exported mappings.
func (e *Engine) Export(ctx context.Context, w io.Writer, format Format) (_ int, rerr error) {
	defer func() { e.metrics.observe("export", rerr) }()

	records, err := e.Records(ctx)
	if err != nil {
		return 0, err
	}

	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		err = enc.Encode(records)
		if err == nil {
			err = enc.Close()
		}
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(records)
	}
	if err != nil {
		return 0, storeErr("failed writing mappings", err)
	}

	e.logger.Info("exported port mappings", "count", len(records), "format", format)

	return len(records), nil
}

// Import reads mappings written by Export, and adds the ones whose owner and
// external port pair isn't stored yet. Unlike Add, owners that already have
// mappings may receive new ones. New mappings are programmed in the firewall
// and stored as a single batch. It returns the number of imported mappings.
func (e *Engine) Import(ctx context.Context, r io.Reader, format Format) (_ int, rerr error) {
	defer func() { e.metrics.observe("import", rerr) }()

	var (
		records []Record
		err     error
	)
	switch format {
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&records)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		err = json.NewDecoder(r).Decode(&records)
	}
	if err != nil {
		return 0, invalidArg("failed parsing mappings: %s", err)
	}

	for i := range records {
		if err = e.checkRecord(&records[i]); err != nil {
			return 0, fmt.Errorf("invalid record %d: %w", i+1, err)
		}
	}

	e.mx.Lock()
	defer e.mx.Unlock()

	existing, err := models.PortMappings(ctx, e.db, nil)
	if err != nil {
		return 0, storeErr("failed loading port mappings", err)
	}
	reserved, err := e.reservedPorts(ctx)
	if err != nil {
		return 0, err
	}

	type ownerPort struct {
		owner string
		port  uint16
	}
	present := make(map[ownerPort]struct{}, len(existing))
	assigned := make(map[portKey]string, len(existing))
	for _, m := range existing {
		present[ownerPort{m.Owner, m.ExternalPort}] = struct{}{}
		assigned[portKey{m.ExternalPort, m.Protocol}] = m.Owner
	}

	timeNow := e.timeNow().UTC()
	var (
		mappings []*models.PortMapping
		rules    []ftypes.Rule
	)
	for _, rec := range records {
		key := ownerPort{rec.Owner, rec.ExternalPort}
		if _, ok := present[key]; ok {
			e.logger.Debug("skipping existing port mapping",
				"owner", rec.Owner, "external_port", rec.ExternalPort)
			continue
		}
		if reserved.Has(rec.ExternalPort) {
			return 0, fmt.Errorf("%w: %d", ErrPortReserved, rec.ExternalPort)
		}
		if owner, ok := assigned[portKey{rec.ExternalPort, rec.Protocol}]; ok {
			return 0, fmt.Errorf("%w: %d/%s is mapped to %s",
				ErrPortAssigned, rec.ExternalPort, rec.Protocol, owner)
		}
		present[key] = struct{}{}
		assigned[portKey{rec.ExternalPort, rec.Protocol}] = rec.Owner

		m := &models.PortMapping{
			CreatedAt:    timeNow,
			Owner:        rec.Owner,
			ExternalPort: rec.ExternalPort,
			InternalPort: rec.InternalPort,
			Protocol:     rec.Protocol,
			Description:  rec.Description,
		}
		rule, err := m.ToRule()
		if err != nil {
			return 0, invalidArg("%s", err)
		}
		mappings = append(mappings, m)
		rules = append(rules, rule)
	}

	if len(mappings) == 0 {
		e.logger.Info("imported port mappings", "count", 0)
		return 0, nil
	}

	inserted, err := e.fw.Apply(rules)
	if err != nil {
		e.fw.Revoke(inserted)
		return 0, err
	}

	err = e.db.Tx(ctx, func(q types.Querier) error {
		return models.SaveMappings(ctx, q, mappings)
	})
	if err != nil {
		e.fw.Revoke(inserted)
		return 0, storeErr("failed storing port mappings", err)
	}

	e.persist()
	e.refreshStats(ctx)
	e.logger.Info("imported port mappings", "count", len(mappings))

	return len(mappings), nil
}

func (e *Engine) checkRecord(rec *Record) error {
	owner, err := e.parseOwner(rec.Owner)
	if err != nil {
		return err
	}
	rec.Owner = owner

	if rec.ExternalPort == 0 || rec.InternalPort == 0 {
		return invalidArg("ports must be greater than 0")
	}

	if rec.Protocol == "" {
		rec.Protocol = ftypes.ProtocolTCP
	}
	proto, err := ftypes.ProtocolFromString(string(rec.Protocol))
	if err != nil {
		return invalidArg("%s", err)
	}
	rec.Protocol = proto

	return nil
}
