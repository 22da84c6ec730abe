// Package host connects the link to the game server installation: the
// per-player stats files, the player registry and the server log.
package host

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// StatsStore reads the per-player statistics files the game server writes
// to <world>/stats/<uuid>.json.
type StatsStore struct {
	dir string
}

// NewStatsStore returns a store for the world at worldDir.
func NewStatsStore(worldDir string) *StatsStore {
	return &StatsStore{dir: filepath.Join(worldDir, "stats")}
}

// Snapshot returns the compacted stats document of id. ok is false when the
// player has no stats file.
func (s *StatsStore) Snapshot(id uuid.UUID) (json.RawMessage, bool, error) {
	path := filepath.Join(s.dir, id.String()+".json")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read stats %s: %w", path, err)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, false, fmt.Errorf("stats file %s is not valid JSON: %w", path, err)
	}
	return json.RawMessage(buf.Bytes()), true, nil
}

// PlayerIDs lists the players that have a stats file.
func (s *StatsStore) PlayerIDs() ([]uuid.UUID, error) {
	return idsInDir(s.dir, ".json")
}

// idsInDir parses "<uuid><ext>" file names in dir. A missing directory
// yields no ids.
func idsInDir(dir, ext string) ([]uuid.UUID, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var ids []uuid.UUID
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, ext))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
