package push

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// APNsConfig はAPNsのトークン認証設定。
type APNsConfig struct {
	// KeyFile は.p8署名鍵のパス。
	KeyFile string
	// KeyID は署名鍵のKey ID。
	KeyID string
	// TeamID はApple DeveloperのTeam ID。
	TeamID string
	// Topic はアプリのBundle ID。
	Topic string
	// Production は本番環境に送る場合にtrue。falseならsandbox。
	Production bool
}

// Configured は必要な項目が揃っているかを返す。
func (c APNsConfig) Configured() bool {
	return c.KeyFile != "" && c.KeyID != "" && c.TeamID != "" && c.Topic != ""
}

// NewAPNsClient は署名鍵からトークン認証のAPNsクライアントを生成する。
func NewAPNsClient(cfg APNsConfig) (*apns2.Client, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("APNs署名鍵の読み込みに失敗: %w", err)
	}
	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		return client.Production(), nil
	}
	return client.Development(), nil
}

// APNsPushFunc は1件のAPNs通知を送信する関数。
type APNsPushFunc func(ctx context.Context, n *apns2.Notification) (*apns2.Response, error)

// IOSDeliverer はAPNs経由でiOS端末に配信する。
type IOSDeliverer struct {
	push  APNsPushFunc
	topic string
}

// NewIOSDeliverer はAPNsクライアントからIOSDelivererを生成する。
// clientがnilの場合、配信は*ConfigErrorで失敗する。
func NewIOSDeliverer(client *apns2.Client, topic string) *IOSDeliverer {
	if client == nil {
		return &IOSDeliverer{topic: topic}
	}
	return NewIOSDelivererFunc(func(ctx context.Context, n *apns2.Notification) (*apns2.Response, error) {
		return client.PushWithContext(ctx, n)
	}, topic)
}

// NewIOSDelivererFunc は送信関数を直接指定してIOSDelivererを生成する。
func NewIOSDelivererFunc(push APNsPushFunc, topic string) *IOSDeliverer {
	return &IOSDeliverer{push: push, topic: topic}
}

// Platform はiosを返す。
func (d *IOSDeliverer) Platform() Platform { return PlatformIOS }

// Deliver はAPNsに通知を送信する。緊急通知は優先度10で送る。
// 410応答やBadDeviceTokenはErrSubscriptionGoneとして返す。
func (d *IOSDeliverer) Deliver(ctx context.Context, target Target, msg Message) error {
	if d.push == nil || d.topic == "" {
		return &ConfigError{Platform: PlatformIOS, Missing: "APNS_KEY_FILE / APNS_KEY_ID / APNS_TEAM_ID / APNS_TOPIC"}
	}
	if target.DeviceToken == "" {
		return fmt.Errorf("iOSのデバイストークンがありません")
	}

	p := payload.NewPayload().
		AlertTitle(msg.Title).
		AlertBody(msg.Body).
		Sound("default")
	if msg.Tag != "" {
		p = p.ThreadID(msg.Tag)
	}
	for k, v := range msg.Data {
		p = p.Custom(k, v)
	}
	if msg.URL != "" {
		p = p.Custom("url", msg.URL)
	}

	n := &apns2.Notification{
		DeviceToken: target.DeviceToken,
		Topic:       d.topic,
		Payload:     p,
		PushType:    apns2.PushTypeAlert,
		Priority:    apns2.PriorityLow,
	}
	if msg.Urgent {
		n.Priority = apns2.PriorityHigh
	}
	if msg.TTL > 0 {
		n.Expiration = time.Now().Add(msg.TTL)
	}

	res, err := d.push(ctx, n)
	if err != nil {
		return fmt.Errorf("APNsへの送信に失敗: %w", err)
	}
	if res.Sent() {
		return nil
	}
	if res.StatusCode == http.StatusGone ||
		res.Reason == apns2.ReasonBadDeviceToken ||
		res.Reason == apns2.ReasonUnregistered {
		return fmt.Errorf("%w: status=%d, reason=%s", ErrSubscriptionGone, res.StatusCode, res.Reason)
	}
	return fmt.Errorf("APNs送信エラー: status=%d, reason=%s", res.StatusCode, res.Reason)
}
