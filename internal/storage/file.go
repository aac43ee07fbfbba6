package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"feeScope/internal/model"
)

// FileStore keeps positions and ledgers in one JSON document, rewritten
// atomically on every put.
type FileStore struct {
	path string

	mu   sync.RWMutex
	data fileDocument
}

type fileDocument struct {
	Positions map[string]model.PositionFees   `json:"positions"`
	Ledgers   map[string]model.PositionLedger `json:"ledgers"`
}

// OpenFileStore loads path if it exists.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("cache file path is required")
	}
	store := &FileStore{
		path: path,
		data: fileDocument{
			Positions: make(map[string]model.PositionFees),
			Ledgers:   make(map[string]model.PositionLedger),
		},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	if len(raw) == 0 {
		return store, nil
	}

	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse cache file: %w", err)
	}
	for id, position := range doc.Positions {
		store.data.Positions[id] = position
	}
	for id, ledger := range doc.Ledgers {
		store.data.Ledgers[id] = ledger
	}
	return store, nil
}

func (s *FileStore) GetPosition(_ context.Context, id string) (model.PositionFees, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	position, ok := s.data.Positions[id]
	return position, ok, nil
}

func (s *FileStore) PutPositions(_ context.Context, positions []model.PositionFees) error {
	if len(positions) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, position := range positions {
		if position.ID == "" {
			return fmt.Errorf("position id is required")
		}
		s.data.Positions[position.ID] = position
	}
	return s.flush()
}

func (s *FileStore) GetLedger(_ context.Context, id string) (model.PositionLedger, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ledger, ok := s.data.Ledgers[id]
	return ledger, ok, nil
}

func (s *FileStore) PutLedgers(_ context.Context, ledgers []model.PositionLedger) error {
	if len(ledgers) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ledger := range ledgers {
		if ledger.ID == "" {
			return fmt.Errorf("ledger id is required")
		}
		s.data.Ledgers[ledger.ID] = ledger
	}
	return s.flush()
}

// PositionIDs lists stored position IDs in sorted order.
func (s *FileStore) PositionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.data.Positions))
	for id := range s.data.Positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *FileStore) Close() error {
	return nil
}

// flush must be called with mu held.
func (s *FileStore) flush() error {
	if err := ensureDir(s.path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}
