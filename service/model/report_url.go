package model

import (
	"fmt"
	"net/url"
)

// BuildReportURL renders the public report link for a warning event,
// grounded on original_source/app/domain/models.py's AlertEvent.report_url.
// It returns ("", false) when StationID/AnnounceTime/AnnounceSeq are not
// all present; callers must then log notification.url_attachment_blocked
// and omit the attachment rather than fail the event (spec §3).
func BuildReportURL(e WarningEvent) (string, bool) {
	if e.StationID == "" || e.AnnounceTime == nil || e.AnnounceSeq == "" {
		return "", false
	}
	tmFc := e.AnnounceTime.Format("200601021504")
	dateStr := fmt.Sprintf("%s-%s-%s", tmFc[0:4], tmFc[4:6], tmFc[6:8])
	reportURL := "https://www.weather.go.kr/w/special-report/list.do" +
		"?prevStn=" + e.StationID +
		"&prevKind=met" +
		"&prevCmtCd=" +
		"&stn=" + e.StationID +
		"&kind=met" +
		"&date=" + dateStr +
		"&reportId=met%3A" + tmFc + "%3A" + e.AnnounceSeq
	if _, err := url.ParseRequestURI(reportURL); err != nil {
		return "", false
	}
	return reportURL, true
}
