package database

import (
	"database/sql"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Manager handles database connections for the settings store.
type Manager struct {
	DB              *gorm.DB
	SqlDB           *sql.DB
	IsValid         bool
	ShouldSaveLocal bool
	Logger          zerolog.Logger
}

// NewManager creates a new database manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		IsValid:         false,
		ShouldSaveLocal: false,
		Logger:          log,
	}
}

// Connect establishes a database connection, falling back to a local
// SQLite file if Postgres is unreachable. Persistence must keep working
// with no external services available.
func (m *Manager) Connect() error {
	var err error

	m.DB, err = m.GetPostgresDB()
	if err != nil {
		m.Logger.Error().Err(err).Msg("Failed to connect to Postgres DB, trying SQLite")
		return m.connectLocal()
	}

	m.SqlDB, err = m.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %s", err)
	}

	if err = m.SqlDB.Ping(); err != nil {
		m.Logger.Error().Err(err).Msg("Failed to validate connection, trying SQLite")
		return m.connectLocal()
	}

	m.Logger.Info().Msg("Connected to database")
	m.IsValid = true
	m.SqlDB.SetMaxOpenConns(10)
	return nil
}

func (m *Manager) connectLocal() error {
	var err error
	m.ShouldSaveLocal = true
	m.DB, err = m.GetSqliteDB(viper.GetString("db.sqlitePath"))
	if err != nil || m.DB == nil {
		m.IsValid = false
		return fmt.Errorf("failed to get local SQLite DB: %s", err)
	}
	m.IsValid = true
	return nil
}

// GetPostgresDB returns a connection to the Postgres database.
func (m *Manager) GetPostgresDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		viper.GetString("db.host"),
		viper.GetString("db.port"),
		viper.GetString("db.username"),
		viper.GetString("db.password"),
		viper.GetString("db.database"),
	)

	m.Logger.Debug().Msgf("Connecting to Postgres DB at '%s'", dsn)

	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

// GetSqliteDB returns a connection to a SQLite database.
// If path is empty, uses an in-memory database.
func (m *Manager) GetSqliteDB(path string) (*gorm.DB, error) {
	if path == "" {
		path = "file::memory:?cache=shared"
		m.Logger.Info().Msg("Using in-memory SQLite DB")
	} else {
		m.Logger.Info().Str("path", path).Msg("Using local SQLite DB")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		m.IsValid = false
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %s", err)
		}
	}

	return db, nil
}
