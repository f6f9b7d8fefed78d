package notification

import (
	"encoding/json"
	"fmt"

	"github.com/nao1215/alertpush/internal/push"
)

// emergencyVibration は緊急通知の振動パターン（ミリ秒）。
var emergencyVibration = []int{200, 100, 200, 100, 200, 100, 400}

const testTitlePrefix = "[TEST] "

// buildMessage は通知ログからプラットフォーム共通の配信内容を組み立てる。
func (s *Service) buildMessage(rec *Record) push.Message {
	title := rec.Title
	if rec.IsTestMode {
		title = testTitlePrefix + title
	}
	urgent := rec.IsEmergency || rec.Category == CategoryEmergency

	data := make(map[string]string, len(rec.Payload)+4)
	for k, v := range rec.Payload {
		data[k] = stringify(v)
	}
	data["type"] = string(rec.Type)
	data["category"] = string(rec.Category)
	data["notificationId"] = rec.ID
	data["url"] = s.cfg.AppURL

	msg := push.Message{
		Title:  title,
		Body:   rec.Body,
		Icon:   s.cfg.IconURL,
		Badge:  s.cfg.BadgeURL,
		Tag:    string(rec.Type),
		URL:    s.cfg.AppURL,
		Urgent: urgent,
		Data:   data,
		TTL:    s.cfg.MessageTTL,
	}
	if urgent {
		msg.RequireInteraction = true
		msg.Vibrate = append([]int(nil), emergencyVibration...)
	}
	return msg
}

// stringify はペイロードの値をプッシュのデータ部に入れられる文字列にする。
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
