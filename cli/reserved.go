package cli

import (
	"fmt"
	"strconv"

	actx "go.hackfix.me/natmgr/app/context"
	aerrors "go.hackfix.me/natmgr/app/errors"
)

// Reserve excludes external ports from allocation.
type Reserve struct {
	Ports       []portRange `arg:"" help:"Ports or port ranges (e.g. 8080 or 8000-8010)."`
	Description string      `help:"Why the ports are reserved."`
}

// Run the reserve command.
func (c *Reserve) Run(appCtx *actx.Context) error {
	count, err := appCtx.Engine.Reserve(appCtx.Ctx, expandPorts(c.Ports), c.Description)
	if err != nil {
		return err
	}

	fmt.Fprintf(appCtx.Stdout, "Reserved %d ports\n", count)

	return nil
}

// Unreserve makes reserved ports available for allocation again.
type Unreserve struct {
	Ports []portRange `arg:"" help:"Ports or port ranges (e.g. 8080 or 8000-8010)."`
}

// Run the unreserve command.
func (c *Unreserve) Run(appCtx *actx.Context) error {
	count, err := appCtx.Engine.Unreserve(appCtx.Ctx, expandPorts(c.Ports))
	if err != nil {
		return err
	}

	fmt.Fprintf(appCtx.Stdout, "Unreserved %d ports\n", count)

	return nil
}

// ListReserved shows the reserved ports.
type ListReserved struct{}

// Run the list-reserved command.
func (c *ListReserved) Run(appCtx *actx.Context) error {
	reserved, err := appCtx.Engine.ListReserved(appCtx.Ctx)
	if err != nil {
		return err
	}
	if len(reserved) == 0 {
		return nil
	}

	data := make([][]string, len(reserved))
	for i, r := range reserved {
		data[i] = []string{strconv.Itoa(int(r.Port)), r.Description}
	}

	if err = renderTable([]string{"Port", "Description"}, data, appCtx.Stdout); err != nil {
		return aerrors.NewWithCause("failed rendering table", err)
	}

	return nil
}
