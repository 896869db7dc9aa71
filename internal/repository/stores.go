package repository

import (
	"database/sql"

	"github.com/hitoshi/timelog/internal/database"
)

// Stores はドライバに対応するリポジトリ一式。
type Stores struct {
	Entries    EntryRepository
	LegacyTags LegacyTagRepository
	Sessions   SessionRepository
}

// NewStores はドライバに応じたリポジトリ一式を生成する。
func NewStores(db *sql.DB, driver database.Driver) Stores {
	if driver == database.DriverSQLite {
		return Stores{
			Entries:    NewSQLiteEntryRepo(db),
			LegacyTags: NewSQLiteLegacyTagRepo(db),
			Sessions:   NewSQLiteSessionRepo(db),
		}
	}
	return Stores{
		Entries:    NewPostgresEntryRepo(db),
		LegacyTags: NewPostgresLegacyTagRepo(db),
		Sessions:   NewPostgresSessionRepo(db),
	}
}
