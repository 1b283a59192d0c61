package state

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

// fileDocument is the JSON shape persisted at rest (spec §6): a single
// top-level object keyed "sent_messages", mapping fingerprint to row.
type fileDocument struct {
	SentMessages map[string]fileRow `json:"sent_messages"`
}

type fileRow struct {
	Payload     filePayload `json:"payload"`
	FirstSeenAt time.Time   `json:"first_seen_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	LastSentAt  *time.Time  `json:"last_sent_at"`
	Sent        bool        `json:"sent"`
}

// filePayload mirrors model.WarningEvent with snake_case JSON tags so the
// persisted document stays human-readable.
type filePayload struct {
	RegionCode   string     `json:"region_code"`
	RegionName   string     `json:"region_name"`
	KindCode     string     `json:"kind_code"`
	LevelCode    string     `json:"level_code"`
	ActionCode   string     `json:"action_code"`
	CancelFlag   bool       `json:"cancel_flag"`
	StartTime    *time.Time `json:"start_time"`
	EndTime      *time.Time `json:"end_time"`
	AnnounceTime *time.Time `json:"announce_time"`
	StationID    string     `json:"station_id"`
	AnnounceSeq  string     `json:"announce_seq"`
	ReportURL    string     `json:"report_url"`
}

func toFilePayload(e model.WarningEvent) filePayload {
	return filePayload{
		RegionCode: e.RegionCode, RegionName: e.RegionName,
		KindCode: e.KindCode, LevelCode: e.LevelCode, ActionCode: e.ActionCode,
		CancelFlag: e.CancelFlag, StartTime: e.StartTime, EndTime: e.EndTime,
		AnnounceTime: e.AnnounceTime, StationID: e.StationID,
		AnnounceSeq: e.AnnounceSeq, ReportURL: e.ReportURL,
	}
}

func (p filePayload) toWarningEvent() model.WarningEvent {
	return model.WarningEvent{
		RegionCode: p.RegionCode, RegionName: p.RegionName,
		KindCode: p.KindCode, LevelCode: p.LevelCode, ActionCode: p.ActionCode,
		CancelFlag: p.CancelFlag, StartTime: p.StartTime, EndTime: p.EndTime,
		AnnounceTime: p.AnnounceTime, StationID: p.StationID,
		AnnounceSeq: p.AnnounceSeq, ReportURL: p.ReportURL,
	}
}

// FileStore is Backend A: a single JSON document, written atomically via
// temp-file-then-rename, with corruption recovery on read (spec §4.2).
type FileStore struct {
	path string
	mu   sync.Mutex
	doc  fileDocument

	// pendingCount is the incrementally-maintained cache backing
	// CountPending's O(1) contract.
	pendingCount int
}

// OpenFileStore loads (or initializes) the file backend at path.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, doc: fileDocument{SentMessages: map[string]fileRow{}}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		logger.Event("state.read_failed", "path", s.path, "error", err.Error())
		return apperr.New(apperr.KindStateIO, "reading state file", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.recoverFromCorruption(err)
		return nil
	}
	if doc.SentMessages == nil {
		doc.SentMessages = map[string]fileRow{}
	}
	s.doc = doc
	s.recountPending()
	return nil
}

// recoverFromCorruption renames the unreadable artifact aside and
// continues with an empty state (spec §4.2 "Corruption recovery").
func (s *FileStore) recoverFromCorruption(parseErr error) {
	backupPath := fmt.Sprintf("%s.broken-%s", s.path, time.Now().UTC().Format("20060102T150405Z"))
	if err := os.Rename(s.path, backupPath); err != nil {
		logger.EventAt(errLevel, "state.backup_failed", "path", s.path, "error", err.Error())
	}
	logger.EventAt(errLevel, "state.invalid_json", "path", s.path, "backup_path", backupPath, "error", parseErr.Error())
	s.doc = fileDocument{SentMessages: map[string]fileRow{}}
	s.pendingCount = 0
}

func (s *FileStore) recountPending() {
	n := 0
	for _, row := range s.doc.SentMessages {
		if !row.Sent {
			n++
		}
	}
	s.pendingCount = n
}

func (s *FileStore) persist() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return apperr.New(apperr.KindStateIO, "marshalling state file", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.New(apperr.KindStateIO, "creating state directory", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		logger.EventAt(errLevel, "state.persist_failed", "path", s.path, "error", err.Error())
		return apperr.New(apperr.KindStateIO, "creating temp state file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		logger.EventAt(errLevel, "state.persist_failed", "path", s.path, "error", err.Error())
		return apperr.New(apperr.KindStateIO, "writing temp state file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		logger.EventAt(errLevel, "state.persist_failed", "path", s.path, "error", err.Error())
		return apperr.New(apperr.KindStateIO, "closing temp state file", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		logger.EventAt(errLevel, "state.persist_failed", "path", s.path, "error", err.Error())
		return apperr.New(apperr.KindStateIO, "renaming temp state file into place", err)
	}
	return nil
}

func (s *FileStore) Upsert(records []model.WarningEvent, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range records {
		fp := ev.Fingerprint()
		existing, ok := s.doc.SentMessages[fp]
		if !ok {
			s.doc.SentMessages[fp] = fileRow{
				Payload: toFilePayload(ev), FirstSeenAt: now, UpdatedAt: now, Sent: false,
			}
			s.pendingCount++
			continue
		}
		if !existing.Payload.toWarningEvent().Equal(ev) {
			existing.Payload = toFilePayload(ev)
			existing.UpdatedAt = now
			s.doc.SentMessages[fp] = existing
		}
	}
	return s.persist()
}

func (s *FileStore) ListPending() ([]model.TrackedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TrackedRecord
	for fp, row := range s.doc.SentMessages {
		if !row.Sent {
			out = append(out, rowToRecord(fp, row))
		}
	}
	return out, nil
}

func (s *FileStore) ListAll() ([]model.TrackedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TrackedRecord, 0, len(s.doc.SentMessages))
	for fp, row := range s.doc.SentMessages {
		out = append(out, rowToRecord(fp, row))
	}
	return out, nil
}

func (s *FileStore) MarkSent(eventIDs []string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range eventIDs {
		row, ok := s.doc.SentMessages[id]
		if !ok {
			continue
		}
		if !row.Sent {
			s.pendingCount--
		}
		row.Sent = true
		row.LastSentAt = &now
		s.doc.SentMessages[id] = row
	}
	return s.persist()
}

func (s *FileStore) CleanupStale(olderThan time.Time, includeUnsent bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for fp, row := range s.doc.SentMessages {
		eligible := row.Sent || includeUnsent
		if eligible && row.UpdatedAt.Before(olderThan) {
			if !row.Sent {
				s.pendingCount--
			}
			delete(s.doc.SentMessages, fp)
			removed++
		}
	}
	if removed > 0 {
		if err := s.persist(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *FileStore) CountPending() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingCount, nil
}

func (s *FileStore) Close() error { return nil }

func rowToRecord(fp string, row fileRow) model.TrackedRecord {
	return model.TrackedRecord{
		EventID:     fp,
		Payload:     row.Payload.toWarningEvent(),
		FirstSeenAt: row.FirstSeenAt,
		UpdatedAt:   row.UpdatedAt,
		LastSentAt:  row.LastSentAt,
		Sent:        row.Sent,
	}
}
