package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"

	"weather-alert-bridge/service/apperr"
	"weather-alert-bridge/service/clock"
	"weather-alert-bridge/service/ratelimiter"
)

func eucKR(t *testing.T, s string) []byte {
	t.Helper()
	out, _, err := transform.String(korean.EUCKR.NewEncoder(), s)
	require.NoError(t, err)
	return []byte(out)
}

func singlePageResponse(resultCode, totalCount string, items string) string {
	return fmt.Sprintf(`<response><header><resultCode>%s</resultCode><resultMsg>OK</resultMsg></header>`+
		`<body><items>%s</items><totalCount>%s</totalCount></body></response>`, resultCode, items, totalCount)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	opts.BaseURL = srv.URL
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 1
	}
	c := New(opts, ratelimiter.New(0), clock.NewFake(time.Now()))
	return c, srv
}

func TestFetchParsesEUCKRXMLAndResolvesEvent(t *testing.T) {
	item := `<item><areaName>서울</areaName><warnVar>8</warnVar><warnStress>1</warnStress>` +
		`<command>1</command><cancel>0</cancel><startTime>202403050900</startTime>` +
		`<endTime>202403061200</endTime><stnId>108</stnId><tmFc>202403050930</tmFc><tmSeq>1</tmSeq></item>`
	body := singlePageResponse("00", "1", item)

	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write(eucKR(t, body))
	}, Options{ConnectTimeout: time.Second, ReadTimeout: time.Second, RetryBaseDelay: time.Millisecond})
	defer srv.Close()
	defer c.Close()

	events, err := c.Fetch(context.Background(), "11", "서울", "20240301", "20240331")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "서울", events[0].RegionName)
	assert.Equal(t, "대설", events[0].KindCode)
	assert.Equal(t, "경보", events[0].LevelCode)
	assert.Equal(t, "발표", events[0].ActionCode)
	assert.False(t, events[0].CancelFlag)
	assert.Equal(t, "108", events[0].StationID)
}

func TestFetchReturnsEmptyOnNoDataResultCode(t *testing.T) {
	body := singlePageResponse("03", "0", "")
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(eucKR(t, body))
	}, Options{ConnectTimeout: time.Second, ReadTimeout: time.Second, RetryBaseDelay: time.Millisecond})
	defer srv.Close()
	defer c.Close()

	events, err := c.Fetch(context.Background(), "11", "서울", "20240301", "20240331")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFetchPaginatesWhenTotalCountExceedsOnePage(t *testing.T) {
	item := func(seq string) string {
		return fmt.Sprintf(`<item><areaName>서울</areaName><warnVar>8</warnVar><warnStress>1</warnStress>`+
			`<command>1</command><cancel>0</cancel><tmFc>2024030509%s</tmFc><tmSeq>%s</tmSeq><stnId>108</stnId></item>`, seq, seq)
	}
	// defaultPageSize is 100: totalCount=150 forces a second request
	// (pageNo*pageSize=100 < 150), and the second page's single item stops
	// pagination (pageNo*pageSize=200 is not < 150).
	var calls int32
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Write(eucKR(t, singlePageResponse("00", "150", item("01")+item("02"))))
			return
		}
		w.Write(eucKR(t, singlePageResponse("00", "150", item("03"))))
	}, Options{ConnectTimeout: time.Second, ReadTimeout: time.Second, RetryBaseDelay: time.Millisecond})
	defer srv.Close()
	defer c.Close()

	events, err := c.Fetch(context.Background(), "11", "서울", "20240301", "20240331")
	require.NoError(t, err)
	assert.Len(t, events, 3, "both pages' items must be aggregated")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchRetriesOnServerErrorThenSucceeds(t *testing.T) {
	item := `<item><areaName>서울</areaName><warnVar>7</warnVar><warnStress>0</warnStress>` +
		`<command>2</command><cancel>0</cancel><tmFc>202403050930</tmFc><tmSeq>1</tmSeq><stnId>108</stnId></item>`
	var calls int32
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(eucKR(t, singlePageResponse("00", "1", item)))
	}, Options{ConnectTimeout: time.Second, ReadTimeout: time.Second, MaxRetries: 3, RetryBaseDelay: time.Millisecond})
	defer srv.Close()
	defer c.Close()

	events, err := c.Fetch(context.Background(), "11", "서울", "20240301", "20240331")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchDoesNotRetryTerminalAPIResultError(t *testing.T) {
	body := singlePageResponse("20", "0", "")
	var calls int32
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(eucKR(t, body))
	}, Options{ConnectTimeout: time.Second, ReadTimeout: time.Second, MaxRetries: 3, RetryBaseDelay: time.Millisecond})
	defer srv.Close()
	defer c.Close()

	_, err := c.Fetch(context.Background(), "11", "서울", "20240301", "20240331")
	require.Error(t, err)
	assert.Equal(t, apperr.KindAPIResult, apperr.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a non-rate-limit API result code is terminal, not retried")
}

func TestFetchRetriesOnRateLimitResultCode(t *testing.T) {
	item := `<item><areaName>서울</areaName><warnVar>7</warnVar><warnStress>0</warnStress>` +
		`<command>2</command><cancel>0</cancel><tmFc>202403050930</tmFc><tmSeq>1</tmSeq><stnId>108</stnId></item>`
	var calls int32
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Write(eucKR(t, singlePageResponse("22", "0", "")))
			return
		}
		w.Write(eucKR(t, singlePageResponse("00", "1", item)))
	}, Options{ConnectTimeout: time.Second, ReadTimeout: time.Second, MaxRetries: 3, RetryBaseDelay: time.Millisecond})
	defer srv.Close()
	defer c.Close()

	events, err := c.Fetch(context.Background(), "11", "서울", "20240301", "20240331")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "resultCode 22 (rate limited) is the one API result code the client retries")
}
