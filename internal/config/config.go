// Package config は環境変数からアプリケーション設定を読み込む。
// カレントディレクトリに.envがあれば先に読み込み、既に設定済みの環境変数は上書きしない。
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/nao1215/alertpush/internal/notification"
	"github.com/nao1215/alertpush/internal/push"
)

// Config はalertpushの起動設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// DatabasePath はSQLiteファイルのパス。
	DatabasePath string
	// JWTSecret はBearerトークン検証用のHMAC秘密鍵。
	JWTSecret string

	// Web はWeb Push（VAPID）の設定。
	Web push.WebConfig
	// FCMCredentialsFile はFirebaseサービスアカウントJSONのパス。空ならAndroid配信は無効。
	FCMCredentialsFile string
	// APNs はAPNsトークン認証の設定。
	APNs push.APNsConfig

	// TestMode が有効な場合、すべての送信をテスト送信として扱う。
	TestMode bool
	// AckTimeout はコールアウトをエスカレーションするまでの待ち時間。
	AckTimeout time.Duration
	// SchedulerInterval は予約送信の確認間隔。
	SchedulerInterval time.Duration
	// EscalationInterval はエスカレーション監視の間隔。
	EscalationInterval time.Duration
	// MaxConcurrentDeliveries は1回の送信で同時に行う配信数の上限。
	MaxConcurrentDeliveries int

	IconURL  string
	BadgeURL string
	AppURL   string

	// RedisAddr が設定されている場合、定期処理の排他にRedisを使う。
	RedisAddr     string
	RedisPassword string
}

// Load は.envと環境変数から設定を読み込む。
// 数値・真偽値・期間の形式が不正な場合はエラーを返す。
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[Config] .envが見つからないため環境変数のみを使用します")
	}
	return FromEnv()
}

// FromEnv は現在の環境変数から設定を組み立てる。
func FromEnv() (Config, error) {
	defaults := notification.DefaultConfig()
	cfg := Config{
		Port:         getEnvOr("PORT", "8090"),
		DatabasePath: getEnvOr("DATABASE_PATH", "/data/alertpush.db"),
		JWTSecret:    getEnvOr("JWT_SECRET", "dev-secret-key"),
		Web: push.WebConfig{
			PublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
			PrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
			Subject:    getEnvOr("VAPID_SUBJECT", "mailto:admin@example.com"),
		},
		FCMCredentialsFile: os.Getenv("FCM_CREDENTIALS_FILE"),
		APNs: push.APNsConfig{
			KeyFile: os.Getenv("APNS_KEY_FILE"),
			KeyID:   os.Getenv("APNS_KEY_ID"),
			TeamID:  os.Getenv("APNS_TEAM_ID"),
			Topic:   os.Getenv("APNS_TOPIC"),
		},
		IconURL:       getEnvOr("NOTIFICATION_ICON_URL", defaults.IconURL),
		BadgeURL:      getEnvOr("NOTIFICATION_BADGE_URL", defaults.BadgeURL),
		AppURL:        getEnvOr("APP_URL", defaults.AppURL),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}

	var err error
	if cfg.APNs.Production, err = getBool("APNS_PRODUCTION", false); err != nil {
		return Config{}, err
	}
	if cfg.TestMode, err = getBool("NOTIFICATION_TEST_MODE", false); err != nil {
		return Config{}, err
	}

	minutes, err := getInt("ACK_TIMEOUT_MINUTES", 15)
	if err != nil {
		return Config{}, err
	}
	cfg.AckTimeout = time.Duration(minutes) * time.Minute

	if cfg.SchedulerInterval, err = getDuration("SCHEDULER_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.EscalationInterval, err = getDuration("ESCALATION_INTERVAL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.MaxConcurrentDeliveries, err = getInt("MAX_CONCURRENT_DELIVERIES", defaults.MaxConcurrentDeliveries); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Notification は通知サービス向けの設定を返す。
func (c Config) Notification() notification.Config {
	nc := notification.DefaultConfig()
	nc.TestMode = c.TestMode
	nc.MaxConcurrentDeliveries = c.MaxConcurrentDeliveries
	nc.IconURL = c.IconURL
	nc.BadgeURL = c.BadgeURL
	nc.AppURL = c.AppURL
	return nc
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%sの値が不正です: %q", key, v)
	}
	return b, nil
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%sは正の整数で指定してください: %q", key, v)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%sは正の期間で指定してください: %q", key, v)
	}
	return d, nil
}
