package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"
)

// WebConfig はWeb Push（VAPID）の設定。
type WebConfig struct {
	// PublicKey はVAPID公開鍵。
	PublicKey string
	// PrivateKey はVAPID秘密鍵。
	PrivateKey string
	// Subject は連絡先（mailto: またはhttps: URL）。
	Subject string
}

// Configured は鍵ペアが揃っているかを返す。
func (c WebConfig) Configured() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

// WebDeliverer はWeb Pushプロトコルで配信する。
type WebDeliverer struct {
	cfg        WebConfig
	httpClient webpush.HTTPClient
}

// NewWebDeliverer は新しいWebDelivererを生成する。
// httpClientがnilの場合はwebpush-goの既定クライアントを使う。
func NewWebDeliverer(cfg WebConfig, httpClient webpush.HTTPClient) *WebDeliverer {
	return &WebDeliverer{cfg: cfg, httpClient: httpClient}
}

// Platform はwebを返す。
func (d *WebDeliverer) Platform() Platform { return PlatformWeb }

// webPayload はService Workerが受け取るJSON。
type webPayload struct {
	Title              string            `json:"title"`
	Body               string            `json:"body"`
	Icon               string            `json:"icon,omitempty"`
	Badge              string            `json:"badge,omitempty"`
	Tag                string            `json:"tag,omitempty"`
	URL                string            `json:"url,omitempty"`
	RequireInteraction bool              `json:"requireInteraction"`
	Vibrate            []int             `json:"vibrate,omitempty"`
	Data               map[string]string `json:"data,omitempty"`
}

// Deliver はWeb Pushを1件送信する。404 / 410応答はErrSubscriptionGoneとして返す。
func (d *WebDeliverer) Deliver(ctx context.Context, target Target, msg Message) error {
	if !d.cfg.Configured() {
		return &ConfigError{Platform: PlatformWeb, Missing: "VAPID_PUBLIC_KEY / VAPID_PRIVATE_KEY"}
	}
	if target.Endpoint == "" || target.P256dh == "" || target.Auth == "" {
		return fmt.Errorf("Web Pushの購読情報が不完全です: endpoint=%q", target.Endpoint)
	}

	body, err := json.Marshal(webPayload{
		Title:              msg.Title,
		Body:               msg.Body,
		Icon:               msg.Icon,
		Badge:              msg.Badge,
		Tag:                msg.Tag,
		URL:                msg.URL,
		RequireInteraction: msg.RequireInteraction,
		Vibrate:            msg.Vibrate,
		Data:               msg.Data,
	})
	if err != nil {
		return fmt.Errorf("Web Pushペイロードのシリアライズに失敗: %w", err)
	}

	urgency := webpush.UrgencyNormal
	if msg.Urgent {
		urgency = webpush.UrgencyHigh
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: target.Endpoint,
		Keys:     webpush.Keys{P256dh: target.P256dh, Auth: target.Auth},
	}, &webpush.Options{
		HTTPClient: d.httpClient,
		// webpush-goがmailto:を付与するため、設定値からは取り除いておく
		Subscriber:      strings.TrimPrefix(d.cfg.Subject, "mailto:"),
		VAPIDPublicKey:  d.cfg.PublicKey,
		VAPIDPrivateKey: d.cfg.PrivateKey,
		TTL:             int(msg.TTL.Seconds()),
		Urgency:         urgency,
	})
	if err != nil {
		return fmt.Errorf("Web Pushの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: status=%d", ErrSubscriptionGone, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("Web Push送信エラー: status=%d, body=%s", resp.StatusCode, string(respBody))
	}
	return nil
}
