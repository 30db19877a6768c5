// Package memstore is the in-process store implementation: mutex-guarded
// maps, used when no database is configured and by the test suites.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/jhilbert/bg/internal/game"
	"github.com/jhilbert/bg/internal/store"
)

type Names struct {
	mu sync.Mutex
	m  map[string]store.NameRecord
}

var _ store.NameStore = (*Names)(nil)

func NewNames() *Names {
	return &Names{m: make(map[string]store.NameRecord)}
}

func (s *Names) Get(_ context.Context, nameKey string) (store.NameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.m[nameKey]
	if !ok {
		return store.NameRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Names) Put(_ context.Context, rec store.NameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[rec.NameKey] = rec
	return nil
}

func (s *Names) Delete(_ context.Context, nameKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, nameKey)
	return nil
}

type Directory struct {
	mu sync.Mutex
	m  map[string]store.DirectoryRecord
}

var _ store.DirectoryStore = (*Directory)(nil)

func NewDirectory() *Directory {
	return &Directory{m: make(map[string]store.DirectoryRecord)}
}

func (s *Directory) Put(_ context.Context, rec store.DirectoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[rec.RoomID] = rec
	return nil
}

func (s *Directory) Delete(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, roomID)
	return nil
}

func (s *Directory) List(_ context.Context) ([]store.DirectoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.DirectoryRecord, 0, len(s.m))
	for _, rec := range s.m {
		out = append(out, rec)
	}
	return out, nil
}

type Snapshots struct {
	mu sync.Mutex
	m  map[string]store.SnapshotRecord
}

var _ store.SnapshotStore = (*Snapshots)(nil)

func NewSnapshots() *Snapshots {
	return &Snapshots{m: make(map[string]store.SnapshotRecord)}
}

func (s *Snapshots) Load(_ context.Context, roomID string) (store.SnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.m[roomID]
	if !ok {
		return store.SnapshotRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Snapshots) SaveSnapshot(_ context.Context, roomID string, snap *game.Snapshot, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.m[roomID]
	rec.RoomID = roomID
	rec.Payload = snap
	rec.UpdatedAt = at
	s.m[roomID] = rec
	return nil
}

func (s *Snapshots) MarkEmpty(_ context.Context, roomID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.m[roomID]
	rec.RoomID = roomID
	rec.EmptySince = &at
	s.m[roomID] = rec
	return nil
}

func (s *Snapshots) ClearEmpty(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.m[roomID]
	if !ok {
		return nil
	}
	rec.EmptySince = nil
	s.m[roomID] = rec
	return nil
}

func (s *Snapshots) Delete(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, roomID)
	return nil
}
