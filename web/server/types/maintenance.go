package types

import (
	"go.hackfix.me/natmgr/db/queries"
	"go.hackfix.me/natmgr/engine"
)

// BackupPostResponse is the response to creating a backup. Timestamp is the
// backup label, which is what restore expects.
type BackupPostResponse struct {
	Response
	Timestamp string         `json:"timestamp"`
	Backup    *engine.Backup `json:"backup"`
}

// BackupsGetResponse is the response to listing backups.
type BackupsGetResponse struct {
	Response
	Backups []*engine.Backup `json:"backups"`
}

// ExportGetResponse is the response to exporting mappings as JSON.
type ExportGetResponse struct {
	Response
	Data []engine.Record `json:"data"`
}

// StatsGetResponse is the response to retrieving mapping statistics.
type StatsGetResponse struct {
	Response
	Stats queries.Stats `json:"stats"`
}

// RebuildPostResponse is the response to rebuilding the store from the live
// firewall rules.
type RebuildPostResponse struct {
	Response
	Imported int       `json:"imported"`
	Mappings []Mapping `json:"mappings"`
}
