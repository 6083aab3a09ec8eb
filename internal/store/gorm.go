// internal/store/gorm.go
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting is one persisted key-value row. The value column holds the JSON
// document so migrations never care about the shape of what we store.
type Setting struct {
	Key       string         `gorm:"primaryKey"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time
}

// Gorm persists settings through any GORM dialect (SQLite locally,
// Postgres when configured).
type Gorm struct {
	db *gorm.DB
}

// NewGorm wraps an open GORM connection.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// Init migrates the settings table.
func (g *Gorm) Init() error {
	if err := g.db.AutoMigrate(&Setting{}); err != nil {
		return fmt.Errorf("failed to migrate settings table: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get unmarshals the stored document for key into out.
func (g *Gorm) Get(key string, out any) error {
	var row Setting
	err := g.db.First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrKeyNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(row.Value, out)
}

// Set upserts value under key as JSON.
func (g *Gorm) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	row := Setting{Key: key, Value: datatypes.JSON(raw), UpdatedAt: time.Now()}
	return g.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

// Delete removes key. Deleting an absent key is a no-op.
func (g *Gorm) Delete(key string) error {
	return g.db.Delete(&Setting{}, "key = ?", key).Error
}
