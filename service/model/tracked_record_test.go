package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMergeUpsertPreservesFirstSeenAndSentOnUnchangedPayload(t *testing.T) {
	t0 := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(10 * time.Minute)

	payload := WarningEvent{RegionCode: "11", AnnounceTime: &t0}
	rec := NewTrackedRecord("fp-1", payload, t0)
	sentAt := t0.Add(5 * time.Minute)
	rec.Sent = true
	rec.LastSentAt = &sentAt

	MergeUpsert(&rec, payload, t1)

	assert.Equal(t, t0, rec.FirstSeenAt)
	assert.Equal(t, t0, rec.UpdatedAt, "UpdatedAt must not advance when the payload didn't change")
	assert.True(t, rec.Sent)
	assert.Equal(t, &sentAt, rec.LastSentAt)
}

func TestMergeUpsertAdvancesUpdatedAtOnChangedPayload(t *testing.T) {
	t0 := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(10 * time.Minute)

	payload := WarningEvent{RegionCode: "11", ActionCode: "발표", AnnounceTime: &t0}
	rec := NewTrackedRecord("fp-1", payload, t0)

	updated := payload
	updated.ActionCode = "해제"
	MergeUpsert(&rec, updated, t1)

	assert.Equal(t, t0, rec.FirstSeenAt)
	assert.Equal(t, t1, rec.UpdatedAt)
	assert.Equal(t, "해제", rec.Payload.ActionCode)
}
