// internal/store/factory.go
package store

import (
	"fmt"

	"github.com/patrolkit/engine/internal/database"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// New creates a settings store based on the configured backend type.
func New(backendType string, log zerolog.Logger) (Store, error) {
	switch backendType {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		mgr := database.NewManager(log)
		db, err := mgr.GetSqliteDB(viper.GetString("db.sqlitePath"))
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return NewGorm(db), nil
	case "postgres":
		mgr := database.NewManager(log)
		if err := mgr.Connect(); err != nil {
			return nil, fmt.Errorf("connecting store database: %w", err)
		}
		return NewGorm(mgr.DB), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", backendType)
	}
}
