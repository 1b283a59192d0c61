// Package redact masks sensitive values out of error strings and event
// fields before they reach a log line or an emitted structured event. The
// masking primitive (keep a few edge runes, star out the middle) is grounded
// on the teacher's CryptoUtils.MaskGeneral
// (service/utils/crypto_utils.go), generalized here from
// PII masking to the credentials this service actually handles: the weather
// API service key and the webhook URL's channel token.
package redact

import (
	"regexp"
	"strings"
)

const maskedMiddle = "****"

// Redactor removes the configured secrets from arbitrary text. It is built
// once from the frozen configuration and is safe for concurrent use.
type Redactor struct {
	apiKey       string
	webhookToken string
	sensitive    []*regexp.Regexp
}

// New builds a Redactor for the given API key and webhook URL. The masked
// webhook value is everything after the service's second path component:
// for the Dooray incoming-webhook shape /services/<tenant>/<channel>/<token>
// that is "<channel>/<token>".
func New(apiKey, webhookURL string) *Redactor {
	return &Redactor{
		apiKey:       apiKey,
		webhookToken: extractWebhookToken(webhookURL),
		sensitive:    defaultSensitivePatterns(),
	}
}

func defaultSensitivePatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`(?i)(authkey|apikey|api_key|service_key|servicekey)=([^&\s"']+)`),
		regexp.MustCompile(`(?i)(token|secret|password)["']?\s*[:=]\s*["']?([^&\s"',}]+)`),
	}
}

// extractWebhookToken returns everything after the third "/" following the
// host, i.e. the "<channel>/<token>" tail of a Dooray-style incoming
// webhook URL.
func extractWebhookToken(webhookURL string) string {
	idx := strings.Index(webhookURL, "://")
	if idx < 0 {
		return ""
	}
	rest := webhookURL[idx+3:]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return ""
	}
	path := rest[slash+1:] // everything after the host
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// Redact returns s with every configured secret masked. It is safe to call
// on strings that contain none of the secrets (a no-op in that case).
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	out := s
	if r.apiKey != "" {
		out = strings.ReplaceAll(out, r.apiKey, maskGeneral(r.apiKey, 2, 2))
		out = strings.ReplaceAll(out, urlEncodedLoosely(r.apiKey), maskGeneral(r.apiKey, 2, 2))
	}
	if r.webhookToken != "" {
		out = strings.ReplaceAll(out, r.webhookToken, maskGeneral(r.webhookToken, 2, 2))
	}
	for _, pattern := range r.sensitive {
		out = pattern.ReplaceAllStringFunc(out, func(match string) string {
			groups := pattern.FindStringSubmatch(match)
			if len(groups) != 3 {
				return maskedMiddle
			}
			return groups[1] + "=" + maskGeneral(groups[2], 1, 1)
		})
	}
	return out
}

// urlEncodedLoosely gives a best-effort query-encoded form of a raw value so
// a key transmitted via URL query (space -> '+', etc.) is still caught by a
// plain substring replace without pulling in a full encoder round trip.
func urlEncodedLoosely(raw string) string {
	return strings.ReplaceAll(raw, " ", "+")
}

// maskGeneral keeps keepStart leading and keepEnd trailing runes and stars
// out everything in between, the same shape as the teacher's MaskGeneral.
func maskGeneral(data string, keepStart, keepEnd int) string {
	runes := []rune(data)
	n := len(runes)
	if n <= keepStart+keepEnd {
		return strings.Repeat("*", n)
	}
	start := string(runes[:keepStart])
	end := string(runes[n-keepEnd:])
	return start + maskedMiddle + end
}
