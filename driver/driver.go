package driver

import (
	"database/sql"

	"github.com/SimonWaldherr/dmdb"
	id "github.com/SimonWaldherr/dmdb/internal/driver"
)

// DriverName is the registered database/sql driver name for dmdb.
const DriverName = id.DriverName

// Open is a convenience wrapper around `sql.Open(DriverName, dsn)`.
func Open(dsn string) (*sql.DB, error) { return sql.Open(DriverName, dsn) }

// OpenConfig opens a *sql.DB from a dmdb config, resolving cfg.Native in
// the native interface registry.
func OpenConfig(cfg dmdb.Config, opts ...id.Option) (*sql.DB, error) {
	api, err := dmdb.LookupNative(cfg.Native)
	if err != nil {
		return nil, err
	}
	c, err := id.NewConnector(api, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(c), nil
}

// Re-export selected symbols from the internal driver package so external
// consumers can use a stable public API while the implementation remains
// hidden under `internal/driver`.
var (
	WithMaxSessions = id.WithMaxSessions
	WithBusyTimeout = id.WithBusyTimeout
)
