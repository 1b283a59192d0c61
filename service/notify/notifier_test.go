package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-alert-bridge/service/apperr"
	"weather-alert-bridge/service/clock"
	"weather-alert-bridge/service/ratelimiter"
	"weather-alert-bridge/service/redact"
)

func newTestNotifier(t *testing.T, handler http.HandlerFunc, opts Options) (*Notifier, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	opts.WebhookURL = srv.URL
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 1
	}
	n := New(opts, ratelimiter.New(0), clock.NewFake(time.Now()), redact.New("secret-key", srv.URL+"/services/t/c/token"))
	return n, srv
}

func TestSendSucceedsOn2xxWithoutSuccessFlag(t *testing.T) {
	n, srv := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, Options{ConnectTimeout: time.Second, ReadTimeout: time.Second, RetryBaseDelay: time.Millisecond})
	defer srv.Close()
	defer n.Close()

	err := n.Send(context.Background(), Payload{BotName: "bot", Text: "hi"})
	assert.NoError(t, err)
}

func TestSendTreatsExplicitIsSuccessfulFalseAsBusinessFailure(t *testing.T) {
	n, srv := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"isSuccessful":false}`))
	}, Options{ConnectTimeout: time.Second, ReadTimeout: time.Second, MaxRetries: 1, RetryBaseDelay: time.Millisecond})
	defer srv.Close()
	defer n.Close()

	err := n.Send(context.Background(), Payload{BotName: "bot", Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindWebhookBusiness, apperr.KindOf(err))
}

func TestSendRetriesOnServerErrorThenSucceeds(t *testing.T) {
	var calls int32
	n, srv := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}, Options{ConnectTimeout: time.Second, ReadTimeout: time.Second, MaxRetries: 3, RetryBaseDelay: time.Millisecond})
	defer srv.Close()
	defer n.Close()

	err := n.Send(context.Background(), Payload{BotName: "bot", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSendDoesNotRetryClientError(t *testing.T) {
	var calls int32
	n, srv := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}, Options{ConnectTimeout: time.Second, ReadTimeout: time.Second, MaxRetries: 3, RetryBaseDelay: time.Millisecond})
	defer srv.Close()
	defer n.Close()

	err := n.Send(context.Background(), Payload{BotName: "bot", Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a 4xx is not retriable")
}

func TestSendBlockedWhenCircuitOpen(t *testing.T) {
	var calls int32
	n, srv := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}, Options{
		ConnectTimeout: time.Second, ReadTimeout: time.Second, MaxRetries: 1, RetryBaseDelay: time.Millisecond,
		CircuitEnabled: true, CircuitThreshold: 1, CircuitOpenDuration: time.Hour,
	})
	defer srv.Close()
	defer n.Close()

	err := n.Send(context.Background(), Payload{BotName: "bot", Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	err = n.Send(context.Background(), Payload{BotName: "bot", Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindCircuitOpen, apperr.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "the circuit must fast-fail without hitting the server again")
}
