package health

import (
	"math"
	"time"

	"weather-alert-bridge/service/model"
)

// Monitor is a pure function of (state, outcome, now) -> (state,
// transition); it performs no I/O (spec §4.3 "Purity"). Callers own
// loading/saving via Store.
type Monitor struct {
	policy model.HealthPolicy
}

func NewMonitor(policy model.HealthPolicy) *Monitor {
	return &Monitor{policy: policy}
}

// Observe folds one cycle outcome into the previous state and returns the
// updated state plus whatever transition fired (spec §4.3).
func (m *Monitor) Observe(prev model.HealthState, outcome model.CycleOutcome, now time.Time) model.HealthDecision {
	st := prev
	st.Outcomes = appendAndTrim(st.Outcomes, outcome, m.retentionWindow(), now)

	severe := outcome.FailRatio() >= m.policy.OutageFailRatioThreshold
	if severe {
		st.ConsecutiveSevereFailures++
		st.ConsecutiveStableCycles = 0
	} else {
		st.ConsecutiveSevereFailures = 0
		st.ConsecutiveStableCycles++
	}

	transition := model.NoTransition

	switch {
	case !st.IncidentOpen && m.isOutage(st, now):
		st.IncidentOpen = true
		st.IncidentOpenedAt = &now
		st.LastHeartbeatAt = &now
		transition = model.OutageDetected

	case st.IncidentOpen && m.isRecovered(st, now):
		st.IncidentOpen = false
		st.LastRecoveryAt = &now
		incidentStart := now
		if st.IncidentOpenedAt != nil {
			incidentStart = *st.IncidentOpenedAt
		}
		st.BackfillCursor = append(st.BackfillCursor, m.scheduleBackfill(incidentStart, now)...)
		st.ConsecutiveSevereFailures = 0
		transition = model.Recovered

	case st.IncidentOpen && m.shouldHeartbeat(st, now):
		st.LastHeartbeatAt = &now
		transition = model.OutageHeartbeat
	}

	st.SuggestedIntervalSec = m.suggestedInterval(st)
	return model.HealthDecision{State: st, Transition: transition}
}

func (m *Monitor) retentionWindow() time.Duration {
	outage := time.Duration(m.policy.OutageWindowSec) * time.Second
	recovery := time.Duration(m.policy.RecoveryWindowSec) * time.Second
	if recovery > outage {
		return recovery
	}
	return outage
}

func appendAndTrim(outcomes []model.CycleOutcome, next model.CycleOutcome, retain time.Duration, now time.Time) []model.CycleOutcome {
	cutoff := now.Add(-retain)
	kept := make([]model.CycleOutcome, 0, len(outcomes)+1)
	for _, o := range outcomes {
		if !o.At.Before(cutoff) {
			kept = append(kept, o)
		}
	}
	if !next.At.Before(cutoff) {
		kept = append(kept, next)
	}
	return kept
}

func withinWindow(outcomes []model.CycleOutcome, window time.Duration, now time.Time) []model.CycleOutcome {
	cutoff := now.Add(-window)
	var out []model.CycleOutcome
	for _, o := range outcomes {
		if !o.At.Before(cutoff) {
			out = append(out, o)
		}
	}
	return out
}

// isOutage: Healthy -> Incident (spec §4.3 outage_detected).
func (m *Monitor) isOutage(st model.HealthState, now time.Time) bool {
	if st.ConsecutiveSevereFailures < m.policy.OutageConsecutiveFailures {
		return false
	}
	window := withinWindow(st.Outcomes, time.Duration(m.policy.OutageWindowSec)*time.Second, now)
	severeCount := 0
	for _, o := range window {
		if o.FailRatio() >= m.policy.OutageFailRatioThreshold {
			severeCount++
		}
	}
	return severeCount >= m.policy.OutageMinFailedCycles
}

// isRecovered: Incident -> Healthy (spec §4.3 recovered).
func (m *Monitor) isRecovered(st model.HealthState, now time.Time) bool {
	if st.ConsecutiveStableCycles < m.policy.RecoveryConsecutiveSuccesses {
		return false
	}
	window := withinWindow(st.Outcomes, time.Duration(m.policy.RecoveryWindowSec)*time.Second, now)
	if len(window) == 0 {
		return false
	}
	var totalFailed, totalAreas int
	for _, o := range window {
		totalFailed += o.FailedAreas
		totalAreas += o.TotalAreas
	}
	ratio := 0.0
	if totalAreas > 0 {
		ratio = float64(totalFailed) / float64(totalAreas)
	}
	return ratio <= m.policy.RecoveryMaxFailRatio
}

// shouldHeartbeat: Incident -> Incident (spec §4.3 outage_heartbeat).
func (m *Monitor) shouldHeartbeat(st model.HealthState, now time.Time) bool {
	if st.LastHeartbeatAt == nil {
		return true
	}
	return now.Sub(*st.LastHeartbeatAt) >= time.Duration(m.policy.HeartbeatIntervalSec)*time.Second
}

// suggestedInterval follows spec §4.3's explicit formula:
// min(base * 2^consecutive_severe_failures, backoff_max_sec). This is the
// documented rule in spec.md itself, not the original's stepped
// multiplier (see DESIGN.md Open Questions for why spec.md wins here).
func (m *Monitor) suggestedInterval(st model.HealthState) int {
	if !st.IncidentOpen {
		return m.policy.BaseIntervalSec
	}
	factor := math.Pow(2, float64(st.ConsecutiveSevereFailures))
	candidate := float64(m.policy.BaseIntervalSec) * factor
	if candidate > float64(m.policy.MaxBackoffSec) {
		return m.policy.MaxBackoffSec
	}
	return int(candidate)
}

// scheduleBackfill computes the historical window elapsed during the
// incident, capped at RecoveryBackfillMaxDays, split into
// BackfillWindowDays segments (spec §4.3 "Recovery backfill scheduling").
func (m *Monitor) scheduleBackfill(incidentStart, recoveredAt time.Time) []model.BackfillSegment {
	durationDays := recoveredAt.Sub(incidentStart).Hours() / 24
	if durationDays > float64(m.policy.RecoveryBackfillMaxDays) {
		durationDays = float64(m.policy.RecoveryBackfillMaxDays)
	}
	if durationDays <= 0 || m.policy.BackfillWindowDays <= 0 {
		return nil
	}

	windowDays := m.policy.BackfillWindowDays
	numSegments := int(math.Ceil(durationDays / float64(windowDays)))
	segments := make([]model.BackfillSegment, 0, numSegments)
	cursor := recoveredAt.AddDate(0, 0, -int(math.Ceil(durationDays)))
	for i := 0; i < numSegments; i++ {
		from := cursor
		to := from.AddDate(0, 0, windowDays)
		segments = append(segments, model.BackfillSegment{
			FromDate: from.Format("20060102"),
			ToDate:   to.Format("20060102"),
		})
		cursor = to
	}
	return segments
}

// DequeueBackfill removes up to n segments from the front of the cursor,
// returning them along with the remaining cursor (spec §4.6: "dequeue up
// to max_windows_per_cycle backfill segments").
func DequeueBackfill(cursor []model.BackfillSegment, n int) (taken, remaining []model.BackfillSegment) {
	if n >= len(cursor) {
		return cursor, nil
	}
	return cursor[:n], cursor[n:]
}
