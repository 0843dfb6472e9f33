package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"

	"go.hackfix.me/natmgr/app/config"
	actx "go.hackfix.me/natmgr/app/context"
)

// CLI is the command line interface of natmgr.
type CLI struct {
	Add          Add          `kong:"cmd,help='Allocate external ports and forward them to an owner.'"`
	Remove       Remove       `kong:"cmd,help='Remove all port mappings of an owner.',aliases='rm'"`
	List         List         `kong:"cmd,help='List port mappings.',aliases='ls'"`
	Reserve      Reserve      `kong:"cmd,help='Exclude ports from allocation.'"`
	Unreserve    Unreserve    `kong:"cmd,help='Make reserved ports available for allocation.'"`
	ListReserved ListReserved `kong:"cmd,name='list-reserved',help='List reserved ports.'"`
	Export       Export       `kong:"cmd,help='Export port mappings to a JSON or YAML file.'"`
	Import       Import       `kong:"cmd,help='Import port mappings from a JSON or YAML file.'"`
	Backup       Backup       `kong:"cmd,help='Back up the store and the firewall rules.'"`
	Backups      Backups      `kong:"cmd,help='List backups.'"`
	Restore      Restore      `kong:"cmd,help='Restore the store and the firewall rules from a backup.'"`
	RebuildDB    RebuildDB    `kong:"cmd,name='rebuild-db',help='Recreate missing store entries from the live firewall rules.'"`
	Stats        Stats        `kong:"cmd,help='Show mapping statistics.'"`
	Serve        Serve        `kong:"cmd,help='Start the web server.'"`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the app logging level."`
	} `embed:"" prefix:"log-"`
	// NOTE: kong.ConfigFlag isn't used, since configuration is managed
	// independently from the CLI.
	ConfigFile string           `kong:"default='${configFile}',help='Path to the natmgr configuration file.'"`
	DataDir    string           `kong:"default='${dataDir}',help='Path to the directory where natmgr data is stored.'"`
	Version    kong.VersionFlag `kong:"help='Output version and exit.'"`

	kong *kong.Kong
	kctx *kong.Context
}

// New initializes the command-line interface.
func New(configFilePath, dataDir, version string) (*CLI, error) {
	c := &CLI{}
	kparser, err := kong.New(c,
		kong.Name("natmgr"),
		kong.Description("Manage NAT port forwarding for hosts behind this machine."),
		kong.UsageOnError(),
		kong.DefaultEnvars("NATMGR"),
		kong.NamedMapper("duration", DurationMapper{}),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			Summary:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"configFile": configFilePath,
			"dataDir":    dataDir,
			"version":    version,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the Kong parser: %w", err)
	}

	c.kong = kparser

	return c, nil
}

// Execute starts the command execution. Parse must be called before this method.
func (c *CLI) Execute(appCtx *actx.Context) error {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	c.kong.Stdout = appCtx.Stdout
	c.kong.Stderr = appCtx.Stderr

	//nolint:wrapcheck // This is fine.
	return c.kctx.Run(appCtx)
}

// Parse the given command line arguments. This method must be called before
// Execute.
func (c *CLI) Parse(args []string) error {
	kctx, err := c.kong.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}
	c.kctx = kctx

	return nil
}

// Command returns the full path of the executed command.
func (c *CLI) Command() string {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	cmdPath := []string{}
	for _, p := range c.kctx.Path {
		if p.Command != nil {
			cmdPath = append(cmdPath, p.Command.Name)
		}
	}

	return strings.Join(cmdPath, " ")
}

// ApplyConfig applies configuration values to the CLI, but only if they weren't
// already set.
func (c *CLI) ApplyConfig(cfg *config.Config) {
	if c.Serve.Address == "" && cfg.Server.Address.Valid {
		c.Serve.Address = cfg.Server.Address.V
	}
	if c.Serve.BackupSchedule == "" && cfg.Backup.Schedule.Valid {
		c.Serve.BackupSchedule = cfg.Backup.Schedule.V
	}
	if c.Serve.BackupRetention == 0 && cfg.Backup.Retention.Valid {
		c.Serve.BackupRetention = cfg.Backup.Retention.V
	}
}
