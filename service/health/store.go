// Package health implements the HealthMonitor (C6) pure state machine and
// the HealthStore (C5) that persists it across restarts. Grounded on
// original_source/app/domain/health.py (policy/state shapes) and
// app/usecases/health_monitor.py (transition algorithm), expressed with
// spec.md's explicit backoff formula where it differs from the original
// (see DESIGN.md Open Questions).
package health

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"weather-alert-bridge/logger"
	"weather-alert-bridge/service/apperr"
	"weather-alert-bridge/service/model"
)

// Store persists model.HealthState to a single JSON file, with the same
// atomic-write and corruption-recovery contract as the state-store file
// backend (spec §4.3 "Persistence").
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted HealthState, returning the zero value (a fresh
// Healthy state) when the file does not exist or is corrupted.
func (s *Store) Load() (model.HealthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return model.HealthState{}, nil
	}
	if err != nil {
		logger.Event("health_state.read_failed", "path", s.path, "error", err.Error())
		return model.HealthState{}, apperr.New(apperr.KindStateIO, "reading health state file", err)
	}

	var st model.HealthState
	if err := json.Unmarshal(data, &st); err != nil {
		backupPath := fmt.Sprintf("%s.broken-%s", s.path, time.Now().UTC().Format("20060102T150405Z"))
		if renameErr := os.Rename(s.path, backupPath); renameErr != nil {
			logger.Event("health_state.backup_failed", "path", s.path, "error", renameErr.Error())
		}
		logger.Event("health_state.invalid_json", "path", s.path, "backup_path", backupPath, "error", err.Error())
		return model.HealthState{}, nil
	}
	return st, nil
}

// Save persists st atomically (temp file + rename), matching the
// StateStore file backend's write discipline.
func (s *Store) Save(st model.HealthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return apperr.New(apperr.KindStateIO, "marshalling health state", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.New(apperr.KindStateIO, "creating health state directory", err)
	}
	tmp, err := os.CreateTemp(dir, ".health-*.tmp")
	if err != nil {
		return apperr.New(apperr.KindStateIO, "creating temp health state file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperr.New(apperr.KindStateIO, "writing temp health state file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperr.New(apperr.KindStateIO, "closing temp health state file", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return apperr.New(apperr.KindStateIO, "renaming temp health state file into place", err)
	}
	return nil
}
