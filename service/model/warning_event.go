// Package model holds the data types shared across the fetch, state, health,
// and notification pipelines: the warning event read from upstream, its
// dedup fingerprint, the durable tracked record, and the health state
// machine's persisted shape.
package model

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
)

// WarningEvent is one warning observation from upstream, grounded on
// original_source/app/domain/models.py's AlertEvent.
type WarningEvent struct {
	RegionCode string
	RegionName string

	KindCode   string // warnVar
	LevelCode  string // warnStress
	ActionCode string // command
	CancelFlag bool

	StartTime    *time.Time
	EndTime      *time.Time
	AnnounceTime *time.Time // tmFc

	StationID   string // stnId
	AnnounceSeq string // tmSeq

	// ReportURL is built only when StationID, AnnounceTime, and
	// AnnounceSeq are all present and the assembled URL passes
	// validation; callers that fail validation must log
	// notification.url_attachment_blocked and omit the attachment
	// rather than fail the whole event.
	ReportURL string
}

// Fingerprint is the stable per-event dedup key (spec §3). It renders the
// primary tuple (station_id, announce_time, announce_seq, action_code,
// cancel_flag) when all primary components are present, and falls back to
// a SHA1 hash of (region_code, kind_code, level_code, action_code,
// cancel_flag, start_time, end_time, announce_time) otherwise.
func (e WarningEvent) Fingerprint() string {
	if e.StationID != "" && e.AnnounceTime != nil && e.AnnounceSeq != "" {
		return canonicalJoin(
			e.StationID,
			canonicalTime(e.AnnounceTime),
			e.AnnounceSeq,
			e.ActionCode,
			canonicalBool(e.CancelFlag),
		)
	}

	raw := canonicalJoin(
		e.RegionCode,
		e.KindCode,
		e.LevelCode,
		e.ActionCode,
		canonicalBool(e.CancelFlag),
		canonicalTime(e.StartTime),
		canonicalTime(e.EndTime),
		canonicalTime(e.AnnounceTime),
	)
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func canonicalJoin(parts ...string) string {
	return strings.Join(parts, "\x1f")
}

func canonicalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func canonicalBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Equal reports whether e and other carry the same observable content,
// comparing pointer time fields by value rather than identity. Used by
// StateStore upsert paths to decide whether UpdatedAt should advance.
func (e WarningEvent) Equal(other WarningEvent) bool {
	return e.RegionCode == other.RegionCode &&
		e.RegionName == other.RegionName &&
		e.KindCode == other.KindCode &&
		e.LevelCode == other.LevelCode &&
		e.ActionCode == other.ActionCode &&
		e.CancelFlag == other.CancelFlag &&
		e.StationID == other.StationID &&
		e.AnnounceSeq == other.AnnounceSeq &&
		e.ReportURL == other.ReportURL &&
		timeEqual(e.StartTime, other.StartTime) &&
		timeEqual(e.EndTime, other.EndTime) &&
		timeEqual(e.AnnounceTime, other.AnnounceTime)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
