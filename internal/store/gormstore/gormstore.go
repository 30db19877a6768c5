// Package gormstore backs the store repositories with postgres via GORM.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/jhilbert/bg/internal/game"
	"github.com/jhilbert/bg/internal/store"
	"github.com/jhilbert/bg/internal/types"
)

type nameRow struct {
	NameKey       string `gorm:"primaryKey;size:64"`
	Name          string `gorm:"size:64"`
	OwnerClientID string `gorm:"size:64"`
	RoomID        string `gorm:"size:40"`
	UpdatedAt     time.Time
	ClaimedAt     time.Time
}

func (nameRow) TableName() string { return "name_records" }

type directoryRow struct {
	RoomID    string `gorm:"primaryKey;size:40"`
	Players   []byte
	UpdatedAt time.Time
}

func (directoryRow) TableName() string { return "directory_rooms" }

type snapshotRow struct {
	RoomID     string `gorm:"primaryKey;size:40"`
	Payload    []byte
	UpdatedAt  time.Time
	EmptySince *time.Time
}

func (snapshotRow) TableName() string { return "room_snapshots" }

// Open connects and migrates the three tables.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open: %w", err)
	}
	if err := db.AutoMigrate(&nameRow{}, &directoryRow{}, &snapshotRow{}); err != nil {
		return nil, fmt.Errorf("gormstore: migrate: %w", err)
	}
	return db, nil
}

type Names struct{ db *gorm.DB }

var _ store.NameStore = (*Names)(nil)

func NewNames(db *gorm.DB) *Names { return &Names{db: db} }

func (s *Names) Get(ctx context.Context, nameKey string) (store.NameRecord, error) {
	var row nameRow
	err := s.db.WithContext(ctx).First(&row, "name_key = ?", nameKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.NameRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.NameRecord{}, fmt.Errorf("gormstore: get name %q: %w", nameKey, err)
	}
	return store.NameRecord{
		NameKey:       row.NameKey,
		Name:          row.Name,
		OwnerClientID: row.OwnerClientID,
		RoomID:        row.RoomID,
		UpdatedAt:     row.UpdatedAt,
		ClaimedAt:     row.ClaimedAt,
	}, nil
}

func (s *Names) Put(ctx context.Context, rec store.NameRecord) error {
	row := nameRow{
		NameKey:       rec.NameKey,
		Name:          rec.Name,
		OwnerClientID: rec.OwnerClientID,
		RoomID:        rec.RoomID,
		UpdatedAt:     rec.UpdatedAt,
		ClaimedAt:     rec.ClaimedAt,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name_key"}}, UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("gormstore: put name %q: %w", rec.NameKey, err)
	}
	return nil
}

func (s *Names) Delete(ctx context.Context, nameKey string) error {
	if err := s.db.WithContext(ctx).Delete(&nameRow{}, "name_key = ?", nameKey).Error; err != nil {
		return fmt.Errorf("gormstore: delete name %q: %w", nameKey, err)
	}
	return nil
}

type Directory struct{ db *gorm.DB }

var _ store.DirectoryStore = (*Directory)(nil)

func NewDirectory(db *gorm.DB) *Directory { return &Directory{db: db} }

func (s *Directory) Put(ctx context.Context, rec store.DirectoryRecord) error {
	players, err := json.Marshal(rec.Players)
	if err != nil {
		return fmt.Errorf("gormstore: encode players for %q: %w", rec.RoomID, err)
	}
	row := directoryRow{RoomID: rec.RoomID, Players: players, UpdatedAt: rec.UpdatedAt}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "room_id"}}, UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("gormstore: put room %q: %w", rec.RoomID, err)
	}
	return nil
}

func (s *Directory) Delete(ctx context.Context, roomID string) error {
	if err := s.db.WithContext(ctx).Delete(&directoryRow{}, "room_id = ?", roomID).Error; err != nil {
		return fmt.Errorf("gormstore: delete room %q: %w", roomID, err)
	}
	return nil
}

func (s *Directory) List(ctx context.Context) ([]store.DirectoryRecord, error) {
	var rows []directoryRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list rooms: %w", err)
	}
	out := make([]store.DirectoryRecord, 0, len(rows))
	for _, row := range rows {
		var players []types.Player
		if len(row.Players) > 0 {
			// Undecodable rosters list as empty and age out on the next sweep.
			_ = json.Unmarshal(row.Players, &players)
		}
		out = append(out, store.DirectoryRecord{
			RoomID:    row.RoomID,
			Players:   players,
			UpdatedAt: row.UpdatedAt,
		})
	}
	return out, nil
}

type Snapshots struct{ db *gorm.DB }

var _ store.SnapshotStore = (*Snapshots)(nil)

func NewSnapshots(db *gorm.DB) *Snapshots { return &Snapshots{db: db} }

func (s *Snapshots) Load(ctx context.Context, roomID string) (store.SnapshotRecord, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).First(&row, "room_id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.SnapshotRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.SnapshotRecord{}, fmt.Errorf("gormstore: load snapshot %q: %w", roomID, err)
	}
	rec := store.SnapshotRecord{
		RoomID:     row.RoomID,
		UpdatedAt:  row.UpdatedAt,
		EmptySince: row.EmptySince,
	}
	if len(row.Payload) > 0 {
		snap, err := game.Decode(row.Payload)
		if err == nil {
			rec.Payload = snap
		}
	}
	return rec, nil
}

func (s *Snapshots) SaveSnapshot(ctx context.Context, roomID string, snap *game.Snapshot, at time.Time) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("gormstore: encode snapshot %q: %w", roomID, err)
	}
	row := snapshotRow{RoomID: roomID, Payload: payload, UpdatedAt: at}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("gormstore: save snapshot %q: %w", roomID, err)
	}
	return nil
}

func (s *Snapshots) MarkEmpty(ctx context.Context, roomID string, at time.Time) error {
	row := snapshotRow{RoomID: roomID, UpdatedAt: at, EmptySince: &at}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"empty_since"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("gormstore: mark empty %q: %w", roomID, err)
	}
	return nil
}

func (s *Snapshots) ClearEmpty(ctx context.Context, roomID string) error {
	err := s.db.WithContext(ctx).
		Model(&snapshotRow{}).
		Where("room_id = ?", roomID).
		Update("empty_since", nil).Error
	if err != nil {
		return fmt.Errorf("gormstore: clear empty %q: %w", roomID, err)
	}
	return nil
}

func (s *Snapshots) Delete(ctx context.Context, roomID string) error {
	if err := s.db.WithContext(ctx).Delete(&snapshotRow{}, "room_id = ?", roomID).Error; err != nil {
		return fmt.Errorf("gormstore: delete snapshot %q: %w", roomID, err)
	}
	return nil
}
