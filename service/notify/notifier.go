package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"weather-alert-bridge/logger"
	"weather-alert-bridge/service/apperr"
	"weather-alert-bridge/service/clock"
	"weather-alert-bridge/service/ratelimiter"
	"weather-alert-bridge/service/redact"
)

const warnLevel = slog.LevelWarn

// Payload is the webhook body MessageBuilder produces (spec §6).
type Payload struct {
	BotName     string       `json:"botName"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	Title     string `json:"title"`
	TitleLink string `json:"titleLink"`
	Color     string `json:"color"`
}

// webhookResponseBody is the optional shape the Dooray reference doc
// describes: a boolean success flag. Per spec §9 Open Question (a), a
// 2xx response whose body does not parse as this shape, or omits the
// flag, is still treated as success.
type webhookResponseBody struct {
	IsSuccessful *bool `json:"isSuccessful"`
}

// Options configures the Notifier.
type Options struct {
	WebhookURL          string
	ConnectTimeout      time.Duration
	ReadTimeout         time.Duration
	MaxRetries          int
	RetryBaseDelay      time.Duration
	CircuitEnabled      bool
	CircuitThreshold    int
	CircuitOpenDuration time.Duration
}

// Notifier is the webhook sender (C7).
type Notifier struct {
	opts     Options
	http     *resty.Client
	limiter  *ratelimiter.Limiter
	circuit  *circuitBreaker
	clk      clock.Clock
	redactor *redact.Redactor
}

func New(opts Options, limiter *ratelimiter.Limiter, clk clock.Clock, redactor *redact.Redactor) *Notifier {
	return &Notifier{
		opts: opts,
		http: resty.New().SetTimeout(opts.ConnectTimeout + opts.ReadTimeout),
		limiter:  limiter,
		circuit:  newCircuitBreaker(opts.CircuitEnabled, opts.CircuitThreshold, opts.CircuitOpenDuration, clk),
		clk:      clk,
		redactor: redactor,
	}
}

// Close releases the underlying HTTP client's idle connections.
func (n *Notifier) Close() { n.http.GetClient().CloseIdleConnections() }

// Send delivers payload through the webhook with retries, circuit
// breaking, and the global send rate limit (spec §4.4).
func (n *Notifier) Send(ctx context.Context, payload Payload) error {
	if !n.circuit.allow() {
		logger.EventAt(warnLevel, "notification.circuit.blocked")
		return apperr.New(apperr.KindCircuitOpen, "circuit_open", nil)
	}

	backoff := n.opts.RetryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= n.opts.MaxRetries; attempt++ {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}

		err := n.attempt(ctx, payload)
		if err == nil {
			n.circuit.recordSuccess()
			logger.Event("notification.sent", "attempt", attempt)
			return nil
		}
		lastErr = err

		if ae, ok := err.(*apperr.Error); ok && !apperr.Retriable(ae.Kind) {
			n.circuit.recordFailure()
			logger.EventAt(warnLevel, "notification.final_failure", "attempt", attempt, "error", n.redactor.Redact(err.Error()))
			return err
		}

		if attempt == n.opts.MaxRetries {
			break
		}
		logger.EventAt(warnLevel, "notification.retry", "attempt", attempt, "backoff_sec", backoff.Seconds(),
			"error", n.redactor.Redact(err.Error()))
		if backoff > 0 {
			if sleepErr := n.clk.Sleep(ctx, backoff); sleepErr != nil {
				return sleepErr
			}
		}
		backoff *= 2
		if backoff < n.opts.RetryBaseDelay {
			backoff = n.opts.RetryBaseDelay
		}
	}

	n.circuit.recordFailure()
	logger.EventAt(warnLevel, "notification.final_failure", "attempt", n.opts.MaxRetries, "error", n.redactor.Redact(lastErr.Error()))
	return lastErr
}

func (n *Notifier) attempt(ctx context.Context, payload Payload) error {
	resp, err := n.http.R().SetContext(ctx).SetHeader("Content-Type", "application/json").
		SetBody(payload).Post(n.opts.WebhookURL)
	if err != nil {
		return apperr.New(apperr.KindTransport, "webhook request failed", err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		var body webhookResponseBody
		if err := json.Unmarshal(resp.Body(), &body); err == nil && body.IsSuccessful != nil && !*body.IsSuccessful {
			return apperr.New(apperr.KindWebhookBusiness, "webhook reported isSuccessful=false", nil)
		}
		return nil
	case status >= 400 && status < 500:
		return apperr.New(apperr.KindHTTPClient, "webhook rejected payload", nil).WithCode(strconv.Itoa(status))
	default:
		return apperr.New(apperr.KindHTTPServer, "webhook server error", nil).WithCode(strconv.Itoa(status))
	}
}
