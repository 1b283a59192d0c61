package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(raw string) *time.Time {
	t, _ := time.Parse("200601021504", raw)
	return &t
}

func TestFingerprintPrimaryTupleStable(t *testing.T) {
	base := WarningEvent{
		StationID:    "108",
		AnnounceTime: ts("202403051230"),
		AnnounceSeq:  "1",
		ActionCode:   "발표",
		CancelFlag:   false,
		RegionName:   "서울",
	}
	other := base
	other.RegionName = "다른이름" // non-identity field must not affect the fingerprint

	assert.Equal(t, base.Fingerprint(), other.Fingerprint())
}

func TestFingerprintDiffersOnCancelFlag(t *testing.T) {
	base := WarningEvent{StationID: "108", AnnounceTime: ts("202403051230"), AnnounceSeq: "1"}
	cancelled := base
	cancelled.CancelFlag = true

	assert.NotEqual(t, base.Fingerprint(), cancelled.Fingerprint())
}

func TestFingerprintFallsBackWhenPrimaryTupleIncomplete(t *testing.T) {
	e := WarningEvent{
		RegionCode: "11", KindCode: "대설", LevelCode: "경보", ActionCode: "발표",
		StartTime: ts("202403051200"), EndTime: ts("202403061200"), AnnounceTime: ts("202403051230"),
	}
	// fallback fingerprint is a SHA1 hex digest
	fp := e.Fingerprint()
	assert.Len(t, fp, 40)
}

func TestEqualIgnoresNothingButComparesPointersByValue(t *testing.T) {
	a := WarningEvent{RegionCode: "11", AnnounceTime: ts("202403051230")}
	b := WarningEvent{RegionCode: "11", AnnounceTime: ts("202403051230")}
	assert.True(t, a.Equal(b), "events with equal-valued time pointers must compare equal")

	b.AnnounceTime = ts("202403051231")
	assert.False(t, a.Equal(b))
}

func TestEqualHandlesNilTimePointers(t *testing.T) {
	a := WarningEvent{RegionCode: "11"}
	b := WarningEvent{RegionCode: "11"}
	assert.True(t, a.Equal(b))

	b.AnnounceTime = ts("202403051231")
	assert.False(t, a.Equal(b))
}
