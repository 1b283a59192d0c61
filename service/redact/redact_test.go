package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactMasksConfiguredAPIKey(t *testing.T) {
	r := New("abcdef1234", "https://hook.dooray.com/services/tenant/channel/tok3n")
	out := r.Redact("request failed with key abcdef1234 in the query string")
	assert.NotContains(t, out, "abcdef1234")
	assert.Contains(t, out, "ab****34")
}

func TestRedactMasksWebhookToken(t *testing.T) {
	r := New("", "https://hook.dooray.com/services/tenant/channel/tok3n")
	out := r.Redact("posting to https://hook.dooray.com/services/tenant/channel/tok3n failed")
	assert.NotContains(t, out, "tok3n")
}

func TestRedactMasksServiceKeyQueryParam(t *testing.T) {
	r := New("", "")
	out := r.Redact("GET /api?serviceKey=SUPERSECRETVALUE&pageNo=1")
	assert.NotContains(t, out, "SUPERSECRETVALUE")
	assert.Contains(t, out, "serviceKey=")
}

func TestRedactIsNoOpOnPlainText(t *testing.T) {
	r := New("abcdef1234", "https://hook.dooray.com/services/tenant/channel/tok3n")
	assert.Equal(t, "", r.Redact(""))
	assert.Equal(t, "nothing sensitive here", r.Redact("nothing sensitive here"))
}
