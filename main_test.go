package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"weather-alert-bridge/service/apperr"
)

func TestExitForMapsNilErrorToSuccess(t *testing.T) {
	assert.Equal(t, exitOK, exitFor(nil))
}

func TestExitForMapsConfigErrorToConfigFailExitCode(t *testing.T) {
	err := apperr.New(apperr.KindConfig, "bad config", nil)
	assert.Equal(t, exitConfigFail, exitFor(err))
}

func TestExitForMapsOtherErrorsToFailure(t *testing.T) {
	assert.Equal(t, exitFailure, exitFor(errors.New("transient")))
	assert.Equal(t, exitFailure, exitFor(apperr.New(apperr.KindTransport, "timeout", nil)))
}

func TestNewRunCmdUsesRunServiceHandler(t *testing.T) {
	cmd := newRunCmd()
	assert.Equal(t, "run", cmd.Use)
	assert.NotNil(t, cmd.RunE)
}

func TestNewCleanupStateCmdFlagDefaults(t *testing.T) {
	cmd := newCleanupStateCmd()
	days, err := cmd.Flags().GetInt("days")
	assert.NoError(t, err)
	assert.Equal(t, 30, days)

	includeUnsent, err := cmd.Flags().GetBool("include-unsent")
	assert.NoError(t, err)
	assert.False(t, includeUnsent)

	dryRun, err := cmd.Flags().GetBool("dry-run")
	assert.NoError(t, err)
	assert.False(t, dryRun)

	backend, err := cmd.Flags().GetString("state-repository-type")
	assert.NoError(t, err)
	assert.Equal(t, "", backend)
}

func TestNewMigrateStateCmdFlagDefaultsAreEmpty(t *testing.T) {
	cmd := newMigrateStateCmd()
	jsonFile, err := cmd.Flags().GetString("json-state-file")
	assert.NoError(t, err)
	assert.Equal(t, "", jsonFile)

	sqliteFile, err := cmd.Flags().GetString("sqlite-state-file")
	assert.NoError(t, err)
	assert.Equal(t, "", sqliteFile)
}

func TestNewVerifyStateCmdFlagDefaults(t *testing.T) {
	cmd := newVerifyStateCmd()
	strict, err := cmd.Flags().GetBool("strict")
	assert.NoError(t, err)
	assert.False(t, strict)
}
