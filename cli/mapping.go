package cli

import (
	"fmt"
	"strconv"

	actx "go.hackfix.me/natmgr/app/context"
	aerrors "go.hackfix.me/natmgr/app/errors"
	"go.hackfix.me/natmgr/db/models"
	"go.hackfix.me/natmgr/engine"
	ftypes "go.hackfix.me/natmgr/firewall/types"
)

// Add allocates external ports for an owner and forwards them.
type Add struct {
	Owner string `arg:"" help:"IPv4 address of the host that receives the forwarded traffic."`
	//nolint:lll // Long struct tags are unavoidable.
	Mode          string   `enum:"automatic,auto,manual" default:"automatic" help:"How internal ports are chosen. Valid values: ${enum} \n automatic: well-known service ports first, then the external port; manual: the ports given with --internal-ports"`
	NumPorts      int      `default:"6" help:"Number of external ports to allocate."`
	InternalPorts []uint16 `help:"Internal ports, one per external port. Required in manual mode."`
	ExternalPorts []uint16 `help:"Use these external ports instead of allocating them."`
	Protocols     []string `help:"Protocols (tcp or udp), one per external port. Defaults to tcp."`
	Temporary     bool     `help:"Only program the firewall, without storing the mappings."`
	Description   string   `help:"Description of the mappings."`
}

// Run the add command.
func (c *Add) Run(appCtx *actx.Context) error {
	mode, err := engine.ModeFromString(c.Mode)
	if err != nil {
		return err
	}

	protos := make([]ftypes.Protocol, len(c.Protocols))
	for i, p := range c.Protocols {
		protos[i] = ftypes.Protocol(p)
	}

	mappings, err := appCtx.Engine.Add(appCtx.Ctx, engine.AddRequest{
		Owner:         c.Owner,
		Mode:          mode,
		Count:         c.NumPorts,
		ExternalPorts: c.ExternalPorts,
		InternalPorts: c.InternalPorts,
		Protocols:     protos,
		Temporary:     c.Temporary,
		Description:   c.Description,
	})
	if err != nil {
		return err
	}

	data := make([][]string, len(mappings))
	for i, m := range mappings {
		data[i] = []string{
			strconv.Itoa(int(m.ExternalPort)),
			string(m.Protocol),
			fmt.Sprintf("%s:%d", m.Owner, m.InternalPort),
		}
	}

	if err = renderTable([]string{"External", "Protocol", "Destination"}, data, appCtx.Stdout); err != nil {
		return aerrors.NewWithCause("failed rendering table", err)
	}

	return nil
}

// Remove deletes all port mappings of an owner.
type Remove struct {
	Owner string `arg:"" help:"IPv4 address of the owner."`
}

// Run the remove command.
func (c *Remove) Run(appCtx *actx.Context) error {
	removed, err := appCtx.Engine.Remove(appCtx.Ctx, c.Owner)
	if err != nil {
		return err
	}

	owner := c.Owner
	if len(removed) > 0 {
		owner = removed[0].Owner
	}
	fmt.Fprintf(appCtx.Stdout, "Removed %d port mappings of %s\n", len(removed), owner)

	return nil
}

// List shows the stored port mappings.
type List struct {
	Owner string `arg:"" optional:"" help:"Only list the mappings of this owner."`
}

// Run the list command.
func (c *List) Run(appCtx *actx.Context) error {
	mappings, err := appCtx.Engine.List(appCtx.Ctx, c.Owner)
	if err != nil {
		return err
	}

	return renderMappings(mappings, appCtx)
}

func renderMappings(mappings []*models.PortMapping, appCtx *actx.Context) error {
	if len(mappings) == 0 {
		return nil
	}

	data := make([][]string, len(mappings))
	for i, m := range mappings {
		data[i] = []string{
			m.Owner,
			strconv.Itoa(int(m.ExternalPort)),
			strconv.Itoa(int(m.InternalPort)),
			string(m.Protocol),
			m.Description,
		}
	}

	header := []string{"Owner", "External", "Internal", "Protocol", "Description"}
	if err := renderTable(header, data, appCtx.Stdout); err != nil {
		return aerrors.NewWithCause("failed rendering table", err)
	}

	return nil
}
