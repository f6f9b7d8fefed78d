// alertpushのエントリポイント。
// 通知配信サービス本体で、運用APIと予約送信・エスカレーション監視のタイマーを起動する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/alertpush/internal/audit"
	"github.com/nao1215/alertpush/internal/config"
	"github.com/nao1215/alertpush/internal/escalation"
	"github.com/nao1215/alertpush/internal/notification"
	notificationdb "github.com/nao1215/alertpush/internal/notification/db"
	"github.com/nao1215/alertpush/internal/push"
	"github.com/nao1215/alertpush/internal/scheduler"
	"github.com/nao1215/alertpush/internal/server"
	"github.com/nao1215/alertpush/internal/storage"
	"github.com/nao1215/alertpush/pkg/lease"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := storage.Open(ctx, storage.FileDSN(cfg.DatabasePath))
	if err != nil {
		log.Fatalf("データベースの初期化に失敗: %v", err)
	}
	defer sqlDB.Close()

	registry := push.NewRegistry(deliverers(ctx, cfg)...)
	log.Printf("有効な配信プラットフォーム: %v", registry.Platforms())

	auditLogger := audit.NewLogger(sqlDB)
	svc := notification.NewService(sqlDB, registry, auditLogger, cfg.Notification())

	locker := newLocker(ctx, cfg)
	sched := scheduler.New(svc, auditLogger,
		scheduler.WithInterval(cfg.SchedulerInterval),
		scheduler.WithLocker(locker),
	)
	monitor := escalation.New(svc, notificationdb.New(sqlDB), auditLogger,
		escalation.WithInterval(cfg.EscalationInterval),
		escalation.WithAckTimeout(cfg.AckTimeout),
		escalation.WithLocker(locker),
	)

	sched.Start(ctx)
	defer sched.Stop()
	monitor.Start(ctx)
	defer monitor.Stop()

	srv := server.NewServer(cfg.Port, cfg.JWTSecret, server.Deps{
		DB:            sqlDB,
		Notifications: svc,
		Scheduler:     sched,
		Audit:         auditLogger,
	})

	if cfg.TestMode {
		log.Println("テストモードで起動します: 匿名購読者には配信しません")
	}
	log.Printf("alertpushを起動します: :%s", cfg.Port)
	if err := srv.Run(ctx); err != nil {
		log.Printf("alertpushの実行に失敗: %v", err)
		return
	}
	log.Println("alertpushを停止しました")
}

// deliverers は認証情報が揃っているプラットフォームのDelivererを生成する。
// 認証情報がないプラットフォームは無効とし、そこへの配信はConfigErrorになる。
func deliverers(ctx context.Context, cfg config.Config) []push.Deliverer {
	var ds []push.Deliverer

	if cfg.Web.Configured() {
		ds = append(ds, push.NewWebDeliverer(cfg.Web, nil))
	} else {
		log.Println("Web Pushは無効です: VAPID_PUBLIC_KEY / VAPID_PRIVATE_KEY が未設定")
	}

	if cfg.FCMCredentialsFile != "" {
		client, err := push.NewFCMClient(ctx, cfg.FCMCredentialsFile)
		if err != nil {
			log.Printf("Android配信は無効です: %v", err)
		} else {
			ds = append(ds, push.NewAndroidDeliverer(client))
		}
	} else {
		log.Println("Android配信は無効です: FCM_CREDENTIALS_FILE が未設定")
	}

	if cfg.APNs.Configured() {
		client, err := push.NewAPNsClient(cfg.APNs)
		if err != nil {
			log.Printf("iOS配信は無効です: %v", err)
		} else {
			ds = append(ds, push.NewIOSDeliverer(client, cfg.APNs.Topic))
		}
	} else {
		log.Println("iOS配信は無効です: APNS_KEY_FILE / APNS_KEY_ID / APNS_TEAM_ID / APNS_TOPIC が未設定")
	}
	return ds
}

// newLocker はタイマー処理の排他に使うLockerを返す。
// REDIS_ADDRが設定されていればインスタンス間で共有するRedisを使う。
func newLocker(ctx context.Context, cfg config.Config) lease.Locker {
	if cfg.RedisAddr == "" {
		return lease.NewLocal()
	}
	client, err := lease.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Printf("Redisに接続できないためプロセス内ロックを使います: %v", err)
		return lease.NewLocal()
	}
	log.Printf("タイマー処理の排他にRedisを使います: %s", cfg.RedisAddr)
	return lease.NewRedis(client)
}
