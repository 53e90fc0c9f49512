// Package store persists tune snapshots per vehicle profile, the dashboard's
// equivalent of writing a calibration to the module's flash.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
)

// ErrNotFound is returned when a profile has no saved tune.
var ErrNotFound = errors.New("no saved tune")

// SavedTune is one persisted calibration.
type SavedTune struct {
	ID        string           `gorm:"primaryKey;size:36" json:"id"`
	ProfileID string           `gorm:"index;size:64" json:"profileId"`
	Name      string           `json:"name"`
	Tune      ecu.TuneSettings `gorm:"embedded;embeddedPrefix:tune_" json:"tune"`
	CreatedAt time.Time        `gorm:"index" json:"createdAt"`
}

// Store wraps the sqlite database.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path. An empty path keeps
// everything in memory.
func Open(path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = "file::memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}

	// a single connection keeps ":memory:" databases alive and serializes writers
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	if err := db.AutoMigrate(&SavedTune{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if path != "" {
		log.Printf("[store] using %s", path)
	}
	return &Store{db: db}, nil
}

// Save persists a tune for a profile and returns the stored record.
func (s *Store) Save(ctx context.Context, profileID, name string, tune ecu.TuneSettings) (SavedTune, error) {
	if name == "" {
		name = "snapshot"
	}
	rec := SavedTune{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		Name:      name,
		Tune:      tune,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return SavedTune{}, fmt.Errorf("save tune for %s: %w", profileID, err)
	}
	return rec, nil
}

// Latest returns the newest tune saved for a profile.
func (s *Store) Latest(ctx context.Context, profileID string) (SavedTune, error) {
	var rec SavedTune
	err := s.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("created_at DESC").Order("rowid DESC").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SavedTune{}, ErrNotFound
	}
	if err != nil {
		return SavedTune{}, fmt.Errorf("latest tune for %s: %w", profileID, err)
	}
	return rec, nil
}

// List returns saved tunes newest first. An empty profileID lists all.
func (s *Store) List(ctx context.Context, profileID string) ([]SavedTune, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("rowid DESC")
	if profileID != "" {
		q = q.Where("profile_id = ?", profileID)
	}
	var out []SavedTune
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list tunes: %w", err)
	}
	return out, nil
}

// Delete removes one saved tune.
func (s *Store) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&SavedTune{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete tune %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
