package couriersync

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the courier schema, with SQLite alternatives under
// data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

//go:embed data/mappings/*.yaml
var mappingsFS embed.FS

func GetMigrationsFS() fs.FS {
	return migrationsFS
}

// GetMappingsFS returns the bundled courier status mapping tables.
func GetMappingsFS() fs.FS {
	return mappingsFS
}
