// Package weather implements the WeatherClient component (C3): a
// paginated, retrying, rate-limited fetcher for one region's warning
// events over a date window. Grounded on
// original_source/app/services/weather_api.py's WeatherAlertClient, with
// the resty-based HTTP layer adapted from the sady37-owlBack/wisefido-data
// pack repo's per-call client pattern.
package weather

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"

	"weather-alert-bridge/logger"
	"weather-alert-bridge/service/apperr"
	"weather-alert-bridge/service/clock"
	"weather-alert-bridge/service/model"
	"weather-alert-bridge/service/ratelimiter"
)

const defaultPageSize = 100

// Error codes surfaced to the orchestrator (spec §4.1).
const (
	ErrTimeout      = "timeout"
	ErrConnection   = "connection"
	ErrHTTPStatus   = "http_status"
	ErrParse        = "parse_error"
	ErrAPIResult    = "api_result_error"
	ErrUnknown      = "unknown_error"
)

// Options configures one WeatherClient instance.
type Options struct {
	BaseURL          string
	ServiceAPIKey    string
	WarningType      string
	StationID        string
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
}

// Client fetches warning events for one region over one date window. Each
// call to NewWorkerClient returns an instance with its own resty.Client so
// concurrent workers never share connection-pool state (spec §4.1).
type Client struct {
	opts    Options
	http    *resty.Client
	limiter *ratelimiter.Limiter
	clk     clock.Clock
	codes   *unmappedCodeWarnings
}

// New builds the client used by the orchestrator's primary (or only)
// worker. Additional workers should call NewWorkerClient.
func New(opts Options, limiter *ratelimiter.Limiter, clk clock.Clock) *Client {
	return &Client{
		opts:    opts,
		http:    newHTTPClient(opts),
		limiter: limiter,
		clk:     clk,
		codes:   newUnmappedCodeWarnings(),
	}
}

func newHTTPClient(opts Options) *resty.Client {
	return resty.New().
		SetTimeout(opts.ConnectTimeout + opts.ReadTimeout).
		SetRetryCount(0) // client.go owns retries explicitly for backoff-event visibility
}

// NewWorkerClient returns an isolated client for a bounded-parallel fetch
// worker, sharing the same rate limiter and clock but a fresh HTTP client.
func (c *Client) NewWorkerClient() *Client {
	return &Client{
		opts:    c.opts,
		http:    newHTTPClient(c.opts),
		limiter: c.limiter,
		clk:     c.clk,
		codes:   c.codes,
	}
}

// Close releases the underlying HTTP client's idle connections.
func (c *Client) Close() {
	c.http.GetClient().CloseIdleConnections()
}

// Fetch retrieves every warning event for areaCode between fromDate and
// toDate (format YYYYMMDD), paginating as needed (spec §4.1).
func (c *Client) Fetch(ctx context.Context, areaCode, areaName, fromDate, toDate string) ([]model.WarningEvent, error) {
	pageNo := 1
	pageSize := defaultPageSize
	var totalCount *int
	var all []model.WarningEvent
	pageCount := 0

	for {
		root, err := c.fetchPage(ctx, areaCode, fromDate, toDate, pageNo, pageSize)
		if err != nil {
			return nil, err
		}

		resultCode := extractResultCode(root)
		if resultCode == "03" {
			if pageNo == 1 {
				logger.Event("area.fetch.summary",
					"area_code", areaCode, "area_name", areaName,
					"fetched_items", 0, "page_count", 1, "total_count", 0)
				return nil, nil
			}
			break
		}
		if resultCode != "00" && resultCode != "0" {
			return nil, apperr.New(apperr.KindAPIResult,
				fmt.Sprintf("%s %s: %s", ErrAPIResult, resultCode, resultCodeMessage(resultCode)), nil).
				WithCode(resultCode)
		}

		items := findItems(root)
		events := c.parseItems(items, areaCode, areaName)
		all = append(all, events...)
		pageCount++

		if totalCount == nil {
			tc := extractTotalCount(root)
			totalCount = &tc
		}
		if !hasNextPage(pageNo, pageSize, len(items), *totalCount) {
			break
		}
		pageNo++
	}

	if pageCount == 0 {
		pageCount = 1
	}
	tc := 0
	if totalCount != nil {
		tc = *totalCount
	}
	logger.Event("area.fetch.summary",
		"area_code", areaCode, "area_name", areaName,
		"fetched_items", len(all), "page_count", pageCount, "total_count", tc)
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, areaCode, fromDate, toDate string, pageNo, pageSize int) (*xmlRoot, error) {
	backoff := c.opts.RetryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		root, err := c.doRequest(ctx, areaCode, fromDate, toDate, pageNo, pageSize)
		if err == nil && extractResultCode(root) == "22" {
			err = apperr.New(apperr.KindAPIResult,
				fmt.Sprintf("%s 22: %s", ErrAPIResult, resultCodeMessage("22")), nil).WithCode("22")
		}
		if err == nil {
			return root, nil
		}
		lastErr = err

		if ae, ok := err.(*apperr.Error); ok && ae.Kind == apperr.KindAPIResult && ae.Code != "22" {
			return nil, err // terminal result code, not retriable
		}

		if attempt == c.opts.MaxRetries {
			break
		}
		logger.EventAt(warnLevel, "area.fetch.retry",
			"attempt", attempt, "max_retries", c.opts.MaxRetries,
			"area_code", areaCode, "error_code", apperr.KindOf(lastErr), "backoff_sec", backoff.Seconds())
		if backoff > 0 {
			if err := c.clk.Sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}
		backoff *= 2
		if backoff < c.opts.RetryBaseDelay {
			backoff = c.opts.RetryBaseDelay
		}
	}
	if lastErr == nil {
		return nil, apperr.New(apperr.KindUnknown, ErrUnknown, nil)
	}
	return nil, fmt.Errorf("failed to fetch area_code=%s: %w", areaCode, lastErr)
}

func (c *Client) doRequest(ctx context.Context, areaCode, fromDate, toDate string, pageNo, pageSize int) (*xmlRoot, error) {
	req := c.http.R().SetContext(ctx).SetQueryParams(map[string]string{
		"serviceKey": c.opts.ServiceAPIKey,
		"numOfRows":  strconv.Itoa(pageSize),
		"pageNo":     strconv.Itoa(pageNo),
		"dataType":   "XML",
		"fromTmFc":   fromDate,
		"toTmFc":     toDate,
		"areaCode":   areaCode,
	})
	if c.opts.WarningType != "" {
		req.SetQueryParam("warningType", c.opts.WarningType)
	}
	if c.opts.StationID != "" {
		req.SetQueryParam("stnId", c.opts.StationID)
	}

	resp, err := req.Get(c.opts.BaseURL)
	if err != nil {
		kind := apperr.KindTransport
		if isTimeout(err) {
			return nil, apperr.New(apperr.KindTransport, ErrTimeout, err)
		}
		return nil, apperr.New(kind, ErrConnection, err)
	}
	if resp.StatusCode() != 200 {
		kind := apperr.KindHTTPClient
		if resp.StatusCode() >= 500 {
			kind = apperr.KindHTTPServer
		}
		return nil, apperr.New(kind, fmt.Sprintf("%s: HTTP %d", ErrHTTPStatus, resp.StatusCode()), nil)
	}

	root, err := decodeXML(resp.Body())
	if err != nil {
		return nil, apperr.New(apperr.KindParse, ErrParse+": failed to parse XML", err)
	}
	return root, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return strings.Contains(err.Error(), "timeout")
}

// decodeXML transcodes EUC-KR bytes to UTF-8 before unmarshalling, since
// the upstream API returns Korean content in EUC-KR regardless of the
// dataType=XML parameter's declared encoding.
func decodeXML(body []byte) (*xmlRoot, error) {
	reader := transform.NewReader(strings.NewReader(string(body)), korean.EUCKR.NewDecoder())
	utf8Bytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	var root xmlRoot
	if err := xml.Unmarshal(utf8Bytes, &root); err != nil {
		return nil, err
	}
	return &root, nil
}

func (c *Client) parseItems(items []xmlItem, areaCode, areaName string) []model.WarningEvent {
	out := make([]model.WarningEvent, 0, len(items))
	for _, item := range items {
		resolvedName := resolveAreaName(areaCode, areaName, strings.TrimSpace(item.AreaName))
		out = append(out, model.WarningEvent{
			RegionCode: areaCode,
			RegionName: resolvedName,
			KindCode:   resolveCode(warnVarMap, "warnVar", item.WarnVar, areaCode, c.codes),
			LevelCode:  resolveCode(warnStressMap, "warnStress", item.WarnStress, areaCode, c.codes),
			ActionCode: resolveCode(commandMap, "command", item.Command, areaCode, c.codes),
			CancelFlag: resolveCode(cancelMap, "cancel", item.Cancel, areaCode, c.codes) == "취소된 특보",
			StartTime:  parseUpstreamTime(item.StartTime),
			EndTime:    parseUpstreamTime(item.EndTime),
			AnnounceTime: parseUpstreamTime(item.TmFc),
			StationID:    item.StnID,
			AnnounceSeq:  item.TmSeq,
		})
	}
	return out
}

var areaNameWarnings = newUnmappedCodeWarnings()

func resolveAreaName(areaCode, configured, response string) string {
	configured = strings.TrimSpace(configured)
	response = strings.TrimSpace(response)
	hasConfigured := configured != "" && configured != "알 수 없는 지역"
	hasResponse := response != ""

	switch {
	case hasConfigured:
		if hasResponse && configured != response && areaNameWarnings.shouldLog(areaCode, "mismatch", configured+"|"+response) {
			logger.EventAt(warnLevel, "area.name_mapping_warning",
				"area_code", areaCode, "reason", "mismatch",
				"configured_area_name", configured, "response_area_name", response, "resolved_area_name", configured)
		}
		return configured
	case hasResponse:
		if areaNameWarnings.shouldLog(areaCode, "missing_mapping", response) {
			logger.EventAt(warnLevel, "area.name_mapping_warning",
				"area_code", areaCode, "reason", "missing_mapping",
				"response_area_name", response, "resolved_area_name", response)
		}
		return response
	default:
		if areaNameWarnings.shouldLog(areaCode, "missing_mapping_and_response", "") {
			logger.EventAt(warnLevel, "area.name_mapping_warning",
				"area_code", areaCode, "reason", "missing_mapping_and_response", "resolved_area_name", areaCode)
		}
		return areaCode
	}
}

// parseUpstreamTime parses the upstream YYYYMMDDHHmm timestamp format,
// returning nil for empty/"0"/malformed values (spec §4.1 tolerates a
// missing announce time by falling back to the hashed fingerprint).
func parseUpstreamTime(raw string) *time.Time {
	if raw == "" || raw == "0" {
		return nil
	}
	t, err := time.ParseInLocation("200601021504", raw, time.Local)
	if err != nil {
		return nil
	}
	return &t
}

func hasNextPage(pageNo, pageSize, itemsOnPage, totalCount int) bool {
	if itemsOnPage <= 0 {
		return false
	}
	return pageNo*pageSize < totalCount
}
