package cli

import (
	"fmt"
	"strconv"
	"time"

	actx "go.hackfix.me/natmgr/app/context"
	aerrors "go.hackfix.me/natmgr/app/errors"
)

// Backup writes a backup of the store and the live firewall rules.
type Backup struct{}

// Run the backup command.
func (c *Backup) Run(appCtx *actx.Context) error {
	b, err := appCtx.Engine.Backup(appCtx.Ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(appCtx.Stdout, "Created backup %s\n", b.Label)

	return nil
}

// Backups lists the available backups.
type Backups struct{}

// Run the backups command.
func (c *Backups) Run(appCtx *actx.Context) error {
	backups, err := appCtx.Engine.ListBackups()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return nil
	}

	data := make([][]string, len(backups))
	for i, b := range backups {
		data[i] = []string{b.Label, b.CreatedAt.Format(time.DateTime), b.Path}
	}

	if err = renderTable([]string{"Label", "Created", "Path"}, data, appCtx.Stdout); err != nil {
		return aerrors.NewWithCause("failed rendering table", err)
	}

	return nil
}

// Restore replaces the store and the live firewall rules with a backup.
type Restore struct {
	Label string `arg:"" help:"Backup label, as shown by the backups command (e.g. 20250101_120000)."`
}

// Run the restore command.
func (c *Restore) Run(appCtx *actx.Context) error {
	if err := appCtx.Engine.Restore(appCtx.Ctx, c.Label); err != nil {
		return err
	}

	fmt.Fprintf(appCtx.Stdout, "Restored backup %s\n", c.Label)

	return nil
}

// RebuildDB recreates store entries from the live firewall rules.
type RebuildDB struct{}

// Run the rebuild-db command.
func (c *RebuildDB) Run(appCtx *actx.Context) error {
	added, err := appCtx.Engine.Rebuild(appCtx.Ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(appCtx.Stdout, "Recovered %d port mappings from firewall rules\n", len(added))

	return renderMappings(added, appCtx)
}

// Stats shows a summary of the stored mappings and reservations.
type Stats struct{}

// Run the stats command.
func (c *Stats) Run(appCtx *actx.Context) error {
	s, err := appCtx.Engine.Stats(appCtx.Ctx)
	if err != nil {
		return err
	}

	data := [][]string{
		{"Mappings", strconv.Itoa(s.TotalMappings)},
		{"Owners", strconv.Itoa(s.TotalOwners)},
		{"TCP mappings", strconv.Itoa(s.TCPMappings)},
		{"UDP mappings", strconv.Itoa(s.UDPMappings)},
		{"Reserved ports", strconv.Itoa(s.ReservedPorts)},
	}

	if err = renderTable([]string{"Statistic", "Value"}, data, appCtx.Stdout); err != nil {
		return aerrors.NewWithCause("failed rendering table", err)
	}

	return nil
}
