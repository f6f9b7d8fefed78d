package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMSender はFCMへのメッセージ送信を行う。*messaging.Clientが満たす。
type FCMSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// NewFCMClient はサービスアカウントJSONからFCMクライアントを生成する。
func NewFCMClient(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("Firebaseアプリの初期化に失敗: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("FCMクライアントの初期化に失敗: %w", err)
	}
	return client, nil
}

// AndroidDeliverer はFCM経由でAndroid端末に配信する。
type AndroidDeliverer struct {
	sender FCMSender
	// isUnregistered はトークン失効エラーを判定する。
	isUnregistered func(error) bool
}

// NewAndroidDeliverer は新しいAndroidDelivererを生成する。
// senderがnilの場合、配信は*ConfigErrorで失敗する。
func NewAndroidDeliverer(sender FCMSender) *AndroidDeliverer {
	return &AndroidDeliverer{sender: sender, isUnregistered: messaging.IsUnregistered}
}

// Platform はandroidを返す。
func (d *AndroidDeliverer) Platform() Platform { return PlatformAndroid }

// Deliver はFCMにdata + notificationメッセージを送信する。
// 緊急通知は高優先度チャンネルで送る。
func (d *AndroidDeliverer) Deliver(ctx context.Context, target Target, msg Message) error {
	if d.sender == nil {
		return &ConfigError{Platform: PlatformAndroid, Missing: "FCM_CREDENTIALS_FILE"}
	}
	if target.DeviceToken == "" {
		return fmt.Errorf("Androidのデバイストークンがありません")
	}

	data := make(map[string]string, len(msg.Data)+3)
	for k, v := range msg.Data {
		data[k] = v
	}
	data["title"] = msg.Title
	data["body"] = msg.Body
	if msg.URL != "" {
		data["url"] = msg.URL
	}

	priority := "normal"
	channelID := "default"
	notificationPriority := messaging.PriorityDefault
	if msg.Urgent {
		priority = "high"
		channelID = "emergency"
		notificationPriority = messaging.PriorityMax
	}

	android := &messaging.AndroidConfig{
		Priority: priority,
		Notification: &messaging.AndroidNotification{
			ChannelID: channelID,
			Sound:     "default",
			Tag:       msg.Tag,
			Priority:  notificationPriority,
		},
	}
	if msg.TTL > 0 {
		ttl := msg.TTL
		android.TTL = &ttl
	}

	_, err := d.sender.Send(ctx, &messaging.Message{
		Token: target.DeviceToken,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data:    data,
		Android: android,
	})
	if err != nil {
		if d.isUnregistered(err) {
			return fmt.Errorf("%w: %v", ErrSubscriptionGone, err)
		}
		return fmt.Errorf("FCMへの送信に失敗: %w", err)
	}
	return nil
}
