package model

import "time"

// TrackedRecord is one state-store row, keyed by event fingerprint (spec
// §3). Invariants enforced by StateStore implementations, not by this
// type: Sent implies LastSentAt != nil; UpdatedAt >= FirstSeenAt;
// re-upserting an existing fingerprint never regresses FirstSeenAt.
type TrackedRecord struct {
	EventID     string // fingerprint
	Payload     WarningEvent
	FirstSeenAt time.Time
	UpdatedAt   time.Time
	LastSentAt  *time.Time
	Sent        bool
}

// MergeUpsert applies an incoming observation of the same fingerprint onto
// an existing record, preserving FirstSeenAt/Sent/LastSentAt and only
// advancing UpdatedAt when the payload actually changed. existing must be
// non-nil; it is mutated in place and also returned for convenience.
func MergeUpsert(existing *TrackedRecord, incoming WarningEvent, now time.Time) *TrackedRecord {
	if !existing.Payload.Equal(incoming) {
		existing.Payload = incoming
		existing.UpdatedAt = now
	}
	return existing
}

// NewTrackedRecord creates the first row for a fingerprint never seen
// before.
func NewTrackedRecord(fingerprint string, payload WarningEvent, now time.Time) TrackedRecord {
	return TrackedRecord{
		EventID:     fingerprint,
		Payload:     payload,
		FirstSeenAt: now,
		UpdatedAt:   now,
		Sent:        false,
	}
}
