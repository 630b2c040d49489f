// Package migrations embeds the SQL migration files into the binary so the
// service can migrate its database without the files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
