package config

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/robfig/cron/v3"

	ftypes "go.hackfix.me/natmgr/firewall/types"
	"go.hackfix.me/natmgr/xtime"
)

// Default configuration values.
const (
	DefaultPortStart     = 50000
	DefaultSearchWindow  = 10000
	DefaultInterface     = "vmbr0"
	DefaultRulesFile     = "/etc/iptables/rules.v4"
	DefaultServerAddress = ":8888"
	DefaultStoreFile     = "port_mappings.db"
	DefaultBackupDir     = "backups"
)

// Config represents the application configuration, backed by a filesystem for
// persistence.
type Config struct {
	Ports    Ports
	Store    Store
	Firewall Firewall
	Backup   Backup
	Server   Server

	fs   vfs.FileSystem
	path string
}

// NewConfig creates a new Config instance with the specified filesystem
// and configuration file path.
func NewConfig(fs vfs.FileSystem, path string) *Config {
	return &Config{fs: fs, path: path}
}

// Load reads and parses the configuration file from the filesystem.
// If the file doesn't exist, it initializes with an empty configuration.
func (c *Config) Load() error {
	configJSON, err := vfs.ReadFile(c.fs, c.path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("failed reading configuration file: %w", err)
	}

	// Ensure that unmarshalling JSON doesn't fail if the file doesn't exist or is empty.
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}

	if err = json.Unmarshal(configJSON, c); err != nil {
		return fmt.Errorf("failed parsing configuration file: %w", err)
	}

	return nil
}

// Path returns the filesystem path where the configuration is stored.
func (c *Config) Path() string {
	return c.path
}

// Save writes the current configuration to the filesystem as JSON.
func (c *Config) Save() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}
	configJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing configuration data: %w", err)
	}
	if err = vfs.WriteFile(c.fs, c.path, configJSON, 0o644); err != nil {
		return fmt.Errorf("failed writing configuration file: %w", err)
	}

	return nil
}

// Ports defines the external port allocation options.
type Ports struct {
	// Start is the first external port the allocator considers.
	Start sql.Null[uint16] `json:"start"`
	// SearchWindow is the number of ports past Start the allocator scans before
	// giving up.
	SearchWindow sql.Null[int] `json:"search_window"`
}

// Store defines the mapping store options.
type Store struct {
	// Path is the location of the SQLite database file.
	Path sql.Null[string] `json:"path"`
}

// Firewall defines firewall-specific configuration options.
type Firewall struct {
	// Type is the firewall backend used on this system.
	Type sql.Null[ftypes.FirewallType] `json:"type"`
	// Interface is the name of the network interface external traffic arrives on.
	Interface sql.Null[string] `json:"interface"`
	// RulesFile is where the live rule set is persisted, so that it's restored
	// on boot.
	RulesFile sql.Null[string] `json:"rules_file"`
	// OwnerNetworks optionally restricts owner addresses to the given IPs,
	// CIDRs or ranges.
	OwnerNetworks []string `json:"owner_networks"`
}

// Backup defines the backup options.
type Backup struct {
	// Dir is the directory where backup bundles are written.
	Dir sql.Null[string] `json:"dir"`
	// Schedule is a standard cron expression for automatic backups while the
	// server is running. Automatic backups are disabled if empty.
	Schedule sql.Null[string] `json:"schedule"`
	// Retention is how long backups are kept before being pruned.
	// It serializes from/to xtime.Duration string values. Backups are kept
	// forever if unset.
	Retention sql.Null[time.Duration] `json:"retention"`
}

// Server defines configuration options specific to the HTTP server.
type Server struct {
	// Address is the network address in [host]:port format the server will listen on.
	Address sql.Null[string] `json:"address"`
}

type cfgWrapper struct {
	Ports    portsCfgWrapper  `json:"ports"`
	Store    storeCfgWrapper  `json:"store"`
	Firewall fwCfgWrapper     `json:"firewall"`
	Backup   backupCfgWrapper `json:"backup"`
	Server   srvCfgWrapper    `json:"server"`
}
type portsCfgWrapper struct {
	Start        uint16 `json:"start,omitempty"`
	SearchWindow int    `json:"search_window,omitempty"`
}
type storeCfgWrapper struct {
	Path string `json:"path,omitempty"`
}
type fwCfgWrapper struct {
	Type          string   `json:"type,omitempty"`
	Interface     string   `json:"interface,omitempty"`
	RulesFile     string   `json:"rules_file,omitempty"`
	OwnerNetworks []string `json:"owner_networks,omitempty"`
}
type backupCfgWrapper struct {
	Dir       string `json:"dir,omitempty"`
	Schedule  string `json:"schedule,omitempty"`
	Retention string `json:"retention,omitempty"`
}
type srvCfgWrapper struct {
	Address string `json:"address,omitempty"`
}

// MarshalJSON implements custom JSON marshaling to convert sql.Null values
// to their underlying types, omitting invalid/null fields from the output.
func (c Config) MarshalJSON() ([]byte, error) {
	w := cfgWrapper{}

	if c.Ports.Start.Valid {
		w.Ports.Start = c.Ports.Start.V
	}
	if c.Ports.SearchWindow.Valid {
		w.Ports.SearchWindow = c.Ports.SearchWindow.V
	}

	if c.Store.Path.Valid {
		w.Store.Path = c.Store.Path.V
	}

	if c.Firewall.Type.Valid {
		w.Firewall.Type = string(c.Firewall.Type.V)
	}
	if c.Firewall.Interface.Valid {
		w.Firewall.Interface = c.Firewall.Interface.V
	}
	if c.Firewall.RulesFile.Valid {
		w.Firewall.RulesFile = c.Firewall.RulesFile.V
	}
	w.Firewall.OwnerNetworks = c.Firewall.OwnerNetworks

	if c.Backup.Dir.Valid {
		w.Backup.Dir = c.Backup.Dir.V
	}
	if c.Backup.Schedule.Valid {
		w.Backup.Schedule = c.Backup.Schedule.V
	}
	if c.Backup.Retention.Valid {
		w.Backup.Retention = xtime.FormatDuration(c.Backup.Retention.V, time.Hour)
	}

	if c.Server.Address.Valid {
		w.Server.Address = c.Server.Address.V
	}

	//nolint:wrapcheck // This is fine.
	return json.Marshal(w)
}

// UnmarshalJSON implements custom JSON unmarshaling to convert plain values
// into sql.Null types and parse duration strings into time.Duration values.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w cfgWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		//nolint:wrapcheck // This is fine.
		return err
	}

	if w.Ports.Start != 0 {
		c.Ports.Start = sql.Null[uint16]{V: w.Ports.Start, Valid: true}
	}
	if w.Ports.SearchWindow != 0 {
		c.Ports.SearchWindow = sql.Null[int]{V: w.Ports.SearchWindow, Valid: true}
	}

	if w.Store.Path != "" {
		c.Store.Path = sql.Null[string]{V: w.Store.Path, Valid: true}
	}

	if w.Firewall.Type != "" {
		ft, err := ftypes.FirewallTypeFromString(w.Firewall.Type)
		if err != nil {
			return err
		}
		c.Firewall.Type = sql.Null[ftypes.FirewallType]{V: ft, Valid: true}
	}
	if w.Firewall.Interface != "" {
		c.Firewall.Interface = sql.Null[string]{V: w.Firewall.Interface, Valid: true}
	}
	if w.Firewall.RulesFile != "" {
		c.Firewall.RulesFile = sql.Null[string]{V: w.Firewall.RulesFile, Valid: true}
	}
	c.Firewall.OwnerNetworks = w.Firewall.OwnerNetworks

	if w.Backup.Dir != "" {
		c.Backup.Dir = sql.Null[string]{V: w.Backup.Dir, Valid: true}
	}
	if w.Backup.Schedule != "" {
		c.Backup.Schedule = sql.Null[string]{V: w.Backup.Schedule, Valid: true}
	}
	if w.Backup.Retention != "" {
		dur, err := xtime.ParseDuration(w.Backup.Retention)
		if err != nil {
			return fmt.Errorf("failed parsing backup retention: %w", err)
		}
		c.Backup.Retention = sql.Null[time.Duration]{V: dur, Valid: true}
	}

	if w.Server.Address != "" {
		c.Server.Address = sql.Null[string]{V: w.Server.Address, Valid: true}
	}

	return nil
}

// SetDefaults sets default configuration values if they weren't set already.
// Relative store and backup paths are resolved against dataDir.
func (c *Config) SetDefaults(dataDir string) {
	if !c.Ports.Start.Valid {
		c.Ports.Start = sql.Null[uint16]{V: DefaultPortStart, Valid: true}
	}
	if !c.Ports.SearchWindow.Valid {
		c.Ports.SearchWindow = sql.Null[int]{V: DefaultSearchWindow, Valid: true}
	}
	if !c.Store.Path.Valid {
		c.Store.Path = sql.Null[string]{V: DefaultStoreFile, Valid: true}
	}
	if !filepath.IsAbs(c.Store.Path.V) {
		c.Store.Path.V = filepath.Join(dataDir, c.Store.Path.V)
	}
	if !c.Firewall.Type.Valid {
		c.Firewall.Type = sql.Null[ftypes.FirewallType]{V: ftypes.FirewallIPTables, Valid: true}
	}
	if !c.Firewall.Interface.Valid {
		c.Firewall.Interface = sql.Null[string]{V: DefaultInterface, Valid: true}
	}
	if !c.Firewall.RulesFile.Valid {
		c.Firewall.RulesFile = sql.Null[string]{V: DefaultRulesFile, Valid: true}
	}
	if !c.Backup.Dir.Valid {
		c.Backup.Dir = sql.Null[string]{V: DefaultBackupDir, Valid: true}
	}
	if !filepath.IsAbs(c.Backup.Dir.V) {
		c.Backup.Dir.V = filepath.Join(dataDir, c.Backup.Dir.V)
	}
	if !c.Server.Address.Valid {
		c.Server.Address = sql.Null[string]{V: DefaultServerAddress, Valid: true}
	}
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Ports.Start.Valid && c.Ports.Start.V == 0 {
		errs = append(errs, errors.New("ports.start must be greater than 0"))
	}
	if c.Ports.SearchWindow.Valid && c.Ports.SearchWindow.V <= 0 {
		errs = append(errs, errors.New("ports.search_window must be greater than 0"))
	}
	if c.Backup.Schedule.Valid {
		if _, err := cron.ParseStandard(c.Backup.Schedule.V); err != nil {
			errs = append(errs, fmt.Errorf("invalid backup.schedule: %w", err))
		}
	}
	if c.Backup.Retention.Valid && c.Backup.Retention.V < time.Hour {
		errs = append(errs, errors.New("backup.retention must be at least 1 hour"))
	}

	return errors.Join(errs...)
}
