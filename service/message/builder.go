// Package message implements the MessageBuilder component (C8): renders
// warning events and health events into the webhook payload format.
// Grounded on original_source/app/domain/message_builder.py (template
// selection) and app/domain/health_message_builder.py (health text) plus
// app/services/notifier.py (attachment shape).
package message

import (
	"fmt"
	"strings"
	"time"

	"weather-alert-bridge/logger"
	"weather-alert-bridge/service/model"
	"weather-alert-bridge/service/notify"
)

// Rules is the frozen set of template values, grounded on
// original_source/app/domain/alert_rules.py's default AlertMessageRules.
type Rules struct {
	NormalCancelValue        string
	PublishCommandValue      string
	PublishTemplate          string
	ReleaseOrUpdateTemplate  string
	CancelledTemplate        string
}

// DefaultRules mirrors alert_rules.py's _default_message_rules().
var DefaultRules = Rules{
	NormalCancelValue:       "정상",
	PublishCommandValue:     "발표",
	PublishTemplate:         "%[1]s %[2]s %[3]s%[4]s가 발표되었습니다.",
	ReleaseOrUpdateTemplate: "%[1]s %[2]s %[3]s%[4]s가 %[5]s되었습니다.",
	CancelledTemplate:       "%[1]s %[5]s되었던 %[2]s %[3]s%[4]s가 취소되었습니다.",
}

// Builder renders WarningEvent/health outcomes into notify.Payload.
type Builder struct {
	botName string
	rules   Rules
}

func NewBuilder(botName string, rules Rules) *Builder {
	return &Builder{botName: botName, rules: rules}
}

// BuildAlertMessage selects a template by comparing CancelFlag/ActionCode
// against the configured rule values (spec §3 "templated message
// assembly"), grounded exactly on message_builder.py's
// build_alert_message: cancelled first, then publish, then
// release-or-update.
func (b *Builder) BuildAlertMessage(e model.WarningEvent) string {
	timeText := formatKoreanTime(e.AnnounceTime)
	cancelLabel := cancelLabel(e.CancelFlag)

	if cancelLabel != b.rules.NormalCancelValue {
		return fmt.Sprintf(b.rules.CancelledTemplate, timeText, e.RegionName, e.KindCode, e.LevelCode, e.ActionCode)
	}
	if e.ActionCode == b.rules.PublishCommandValue {
		return fmt.Sprintf(b.rules.PublishTemplate, timeText, e.RegionName, e.KindCode, e.LevelCode)
	}
	return fmt.Sprintf(b.rules.ReleaseOrUpdateTemplate, timeText, e.RegionName, e.KindCode, e.LevelCode, e.ActionCode)
}

func cancelLabel(cancelled bool) string {
	if cancelled {
		return "취소된 특보"
	}
	return "정상"
}

// BuildAlertPayload assembles the full webhook payload for one warning
// event, including the report-url attachment when it can be built and
// validated; otherwise it logs the block and omits attachments (spec §3).
func (b *Builder) BuildAlertPayload(e model.WarningEvent) notify.Payload {
	text := b.BuildAlertMessage(e)
	payload := notify.Payload{BotName: b.botName, Text: text}

	reportURL, ok := model.BuildReportURL(e)
	if !ok {
		logger.Event("notification.url_attachment_blocked", "region_code", e.RegionCode, "reason", "missing_fields")
		return payload
	}
	payload.Attachments = []notify.Attachment{{
		Title:     "> 해당 특보 통보문 바로가기",
		TitleLink: reportURL,
		Color:     "blue",
	}}
	return payload
}

// BuildHealthPayload renders the outage/recovery/heartbeat notification
// text, grounded on app/domain/health_message_builder.py's structure
// (transition name, timestamp, and, for heartbeat, the running duration).
func (b *Builder) BuildHealthPayload(transition model.HealthTransition, at time.Time, incidentOpenedAt *time.Time) notify.Payload {
	var text string
	switch transition {
	case model.OutageDetected:
		text = fmt.Sprintf("[장애 감지] 기상 API 연동 장애가 감지되었습니다. (%s)", formatKoreanTime(&at))
	case model.OutageHeartbeat:
		duration := ""
		if incidentOpenedAt != nil {
			duration = at.Sub(*incidentOpenedAt).Round(time.Minute).String()
		}
		text = fmt.Sprintf("[장애 지속] 기상 API 연동 장애가 계속되고 있습니다. 경과 시간: %s", duration)
	case model.Recovered:
		text = fmt.Sprintf("[복구 완료] 기상 API 연동이 정상화되었습니다. (%s)", formatKoreanTime(&at))
	default:
		text = "[상태 알림] 알 수 없는 상태 전이"
	}
	return notify.Payload{BotName: b.botName, Text: text}
}

// formatKoreanTime renders an upstream timestamp the way
// app/services/weather_api.py's _format_datetime does: "YYYY년 M월 D일
// 오전/오후 H시[ m분]".
func formatKoreanTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	ampm := "오전"
	if t.Hour() >= 12 {
		ampm = "오후"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d년 %d월 %d일 %s %d시", t.Year(), int(t.Month()), t.Day(), ampm, hour)
	if t.Minute() != 0 {
		fmt.Fprintf(&b, " %d분", t.Minute())
	}
	return b.String()
}
