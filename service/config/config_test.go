package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-alert-bridge/service/apperr"
)

// setValidEnv populates every required variable with a value that passes
// validate(), so each test can mutate just the one variable under test.
func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SERVICE_API_KEY", "raw-unencoded-key")
	t.Setenv("SERVICE_HOOK_URL", "https://hook.dooray.com/services/t/c/tok")
	t.Setenv("AREA_CODES", "11,22")
	t.Setenv("WEATHER_ALERT_DATA_API_URL", "http://apis.data.go.kr/1360000/WthrWrnInfoService/getPwnCd")
	t.Setenv("WEATHER_API_ALLOWED_HOST", "apis.data.go.kr")
	t.Setenv("STATE_REPOSITORY_TYPE", "file")
	t.Setenv("AREA_MAX_WORKERS", "1")
}

func TestLoadSucceedsWithValidEnvironment(t *testing.T) {
	setValidEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"11", "22"}, cfg.RegionCodes)
	assert.Equal(t, "file", cfg.StateBackend)
}

func TestLoadRejectsMissingAPIKey(t *testing.T) {
	setValidEnv(t)
	t.Setenv("SERVICE_API_KEY", "")
	_, err := Load("")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))
}

func TestLoadRejectsPreEncodedAPIKey(t *testing.T) {
	setValidEnv(t)
	t.Setenv("SERVICE_API_KEY", "abc%2Bdef")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pre-encoded")
}

func TestLoadRejectsNonHTTPSWebhook(t *testing.T) {
	setValidEnv(t)
	t.Setenv("SERVICE_HOOK_URL", "http://hook.dooray.com/services/t/c/tok")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https")
}

func TestLoadRejectsEmptyAreaCodes(t *testing.T) {
	setValidEnv(t)
	t.Setenv("AREA_CODES", "")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AREA_CODES")
}

func TestLoadRejectsHostNotInAllowlist(t *testing.T) {
	setValidEnv(t)
	t.Setenv("WEATHER_ALERT_DATA_API_URL", "http://evil.example.com/endpoint")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allowlist")
}

func TestLoadRejectsInvalidStateBackend(t *testing.T) {
	setValidEnv(t)
	t.Setenv("STATE_REPOSITORY_TYPE", "postgres")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STATE_REPOSITORY_TYPE")
}

func TestLoadRejectsZeroMaxWorkers(t *testing.T) {
	setValidEnv(t)
	t.Setenv("AREA_MAX_WORKERS", "0")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AREA_MAX_WORKERS")
}

func TestSplitCSVTrimsAndDropsEmpties(t *testing.T) {
	assert.Equal(t, []string{"11", "22"}, splitCSV(" 11 , 22 ,"))
	assert.Nil(t, splitCSV(""))
}

func TestParseMappingParsesKeyValuePairs(t *testing.T) {
	got := parseMapping("11=서울, 22=부산")
	assert.Equal(t, map[string]string{"11": "서울", "22": "부산"}, got)
}
