package push

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Platform は配信先のプラットフォームを表す。
type Platform string

const (
	// PlatformWeb はブラウザのWeb Push。
	PlatformWeb Platform = "web"
	// PlatformAndroid はFCM経由のAndroid端末。
	PlatformAndroid Platform = "android"
	// PlatformIOS はAPNs経由のiOS端末。
	PlatformIOS Platform = "ios"
)

// ParsePlatform は文字列をPlatformに変換する。未設定の場合はwebとして扱う。
func ParsePlatform(s string) Platform {
	if s == "" {
		return PlatformWeb
	}
	return Platform(s)
}

var (
	// ErrSubscriptionGone は配信先が期限切れ・無効であるとプロバイダが応答した場合に返される。
	// 呼び出し側は購読を削除し、以後の配信対象から外す。
	ErrSubscriptionGone = errors.New("購読が無効になっています")
	// ErrNotConfigured は*ConfigErrorとerrors.Isで一致する。
	ErrNotConfigured = errors.New("プッシュ配信が設定されていません")
)

// ConfigError はプラットフォームの認証情報が未設定の場合のエラー。
// 運用者が設定を修正するまで再試行しない。
type ConfigError struct {
	// Platform は設定が不足しているプラットフォーム。
	Platform Platform
	// Missing は不足している設定項目。
	Missing string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%sの配信設定がありません: %s", e.Platform, e.Missing)
}

// Is はErrNotConfiguredとの比較を可能にする。
func (e *ConfigError) Is(target error) bool {
	return target == ErrNotConfigured
}

// Target は1件の配信先。webはEndpointと暗号鍵、モバイルはDeviceTokenを使う。
type Target struct {
	// Endpoint はWeb PushのエンドポイントURL。
	Endpoint string
	// P256dh はWeb Push暗号化用の公開鍵。
	P256dh string
	// Auth はWeb Push暗号化用の認証シークレット。
	Auth string
	// DeviceToken はFCM / APNsのデバイストークン。
	DeviceToken string
}

// Message はプラットフォーム共通の通知内容。
type Message struct {
	// Title は通知のタイトル。
	Title string
	// Body は通知本文。
	Body string
	// Icon は通知アイコンのURL。
	Icon string
	// Badge はバッジ画像のURL。
	Badge string
	// Tag は同種の通知をまとめるためのタグ。
	Tag string
	// URL は通知タップ時に開くURL。
	URL string
	// Urgent は緊急通知として最優先で届ける場合にtrue。
	Urgent bool
	// RequireInteraction はユーザーが操作するまで通知を表示し続ける場合にtrue。
	RequireInteraction bool
	// Vibrate は振動パターン（ミリ秒）。
	Vibrate []int
	// Data はクライアントに渡す追加データ。
	Data map[string]string
	// TTL はプロバイダ側での保持期間。
	TTL time.Duration
}

// Deliverer は1つのプラットフォームへの配信を行う。
type Deliverer interface {
	// Platform は担当するプラットフォームを返す。
	Platform() Platform
	// Deliver は1件の配信を行う。
	// 配信先が無効な場合はErrSubscriptionGone、設定不足の場合は*ConfigErrorを返す。
	Deliver(ctx context.Context, target Target, msg Message) error
}

// Registry はプラットフォームごとのDelivererを保持する。
type Registry struct {
	deliverers map[Platform]Deliverer
}

// NewRegistry は与えられたDelivererを登録したRegistryを生成する。
// 同じプラットフォームが複数ある場合は後のものが優先される。
func NewRegistry(deliverers ...Deliverer) *Registry {
	r := &Registry{deliverers: make(map[Platform]Deliverer, len(deliverers))}
	for _, d := range deliverers {
		r.deliverers[d.Platform()] = d
	}
	return r
}

// Deliver はプラットフォームに対応するDelivererで配信する。
func (r *Registry) Deliver(ctx context.Context, platform Platform, target Target, msg Message) error {
	d, ok := r.deliverers[platform]
	if !ok {
		return &ConfigError{Platform: platform, Missing: "未対応のプラットフォーム"}
	}
	return d.Deliver(ctx, target, msg)
}

// Platforms は登録済みのプラットフォームを名前順に返す。
func (r *Registry) Platforms() []Platform {
	platforms := make([]Platform, 0, len(r.deliverers))
	for p := range r.deliverers {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
	return platforms
}
