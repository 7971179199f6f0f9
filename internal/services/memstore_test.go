package services_test

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/maynagashev/beatmaps-cdn/internal/models"
	"github.com/maynagashev/beatmaps-cdn/internal/repository"
)

// memStore is an in-memory metadata store with the same write semantics as
// the Postgres one, including the unique index on published versions.
// It implements both repository.MapRepository and repository.SyncStore.
type memStore struct {
	mu       sync.Mutex
	maps     map[int]models.Map
	versions map[string]models.Version
	// failWith, when set, is returned by every operation.
	failWith error
}

func newMemStore() *memStore {
	return &memStore{
		maps:     make(map[int]models.Map),
		versions: make(map[string]models.Version),
	}
}

func (s *memStore) GetMapByVersionHash(_ context.Context, hash string) (*models.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}

	v, ok := s.versions[hash]
	if !ok {
		return nil, repository.ErrMapNotFound
	}
	m, ok := s.maps[v.MapID]
	if !ok || m.Deleted {
		return nil, repository.ErrMapNotFound
	}
	return &m, nil
}

func (s *memStore) GetPublishedMap(_ context.Context, mapID int) (*models.PublishedMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}

	m, ok := s.maps[mapID]
	if !ok || m.Deleted {
		return nil, repository.ErrMapNotFound
	}
	for _, v := range s.versions {
		if v.MapID == mapID && v.Published {
			return &models.PublishedMap{Map: m, Hash: v.Hash}, nil
		}
	}
	return nil, repository.ErrMapNotFound
}

func (s *memStore) SetFileName(_ context.Context, mapID int, fileName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}

	m, ok := s.maps[mapID]
	if ok && m.FileName == nil {
		m.FileName = &fileName
		s.maps[mapID] = m
	}
	return nil
}

func (s *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.SyncTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}

	tx := &memTx{maps: maps.Clone(s.maps), versions: maps.Clone(s.versions)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.maps, s.versions = tx.maps, tx.versions
	return nil
}

// snapshot renders the committed state for comparisons.
func (s *memStore) snapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lines []string
	for _, m := range s.maps {
		name := "<nil>"
		if m.FileName != nil {
			name = *m.FileName
		}
		lines = append(lines, fmt.Sprintf("map %d %q %q %q %t", m.ID, name, m.SongName, m.LevelAuthorName, m.Deleted))
	}
	for _, v := range s.versions {
		lines = append(lines, fmt.Sprintf("version %s %d %t", v.Hash, v.MapID, v.Published))
	}
	sort.Strings(lines)
	return fmt.Sprint(lines)
}

// publishedCount returns the number of published versions per map.
func (s *memStore) publishedCount() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[int]int)
	for _, v := range s.versions {
		if v.Published {
			counts[v.MapID]++
		}
	}
	return counts
}

func (s *memStore) version(hash string) (models.Version, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[hash]
	return v, ok
}

func (s *memStore) getMap(id int) (models.Map, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[id]
	return m, ok
}

type memTx struct {
	maps     map[int]models.Map
	versions map[string]models.Version
}

func (t *memTx) UpsertMap(_ context.Context, u models.MapUpsert) error {
	m, ok := t.maps[u.ID]
	if !ok {
		m = models.Map{ID: u.ID}
	}
	if u.SongName != nil {
		m.SongName = *u.SongName
	}
	if u.LevelAuthorName != nil {
		m.LevelAuthorName = *u.LevelAuthorName
	}
	if u.FileName != nil {
		name := *u.FileName
		m.FileName = &name
	}
	m.Deleted = u.Deleted
	t.maps[u.ID] = m
	return nil
}

func (t *memTx) DemoteOtherVersions(_ context.Context, mapID int, hash string) (int64, error) {
	var n int64
	for h, v := range t.versions {
		if v.MapID == mapID && h != hash && v.Published {
			v.Published = false
			t.versions[h] = v
			n++
		}
	}
	return n, nil
}

func (t *memTx) UpsertVersion(_ context.Context, u models.VersionUpsert) error {
	if _, ok := t.maps[u.MapID]; !ok {
		return fmt.Errorf("upsert version %s: %w", u.Hash, repository.ErrConstraintViolation)
	}

	v, ok := t.versions[u.Hash]
	if !ok {
		v = models.Version{Hash: u.Hash}
	}
	v.MapID = u.MapID
	if u.Published != nil {
		v.Published = *u.Published
	}

	if v.Published {
		for h, other := range t.versions {
			if h != u.Hash && other.MapID == v.MapID && other.Published {
				return fmt.Errorf("upsert version %s: %w", u.Hash, repository.ErrConstraintViolation)
			}
		}
	}
	t.versions[u.Hash] = v
	return nil
}
