package notification

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/alertpush/internal/audit"
	"github.com/nao1215/alertpush/internal/notification/db"
	"github.com/nao1215/alertpush/internal/push"
	"github.com/nao1215/alertpush/internal/push/pushtest"
	"github.com/nao1215/alertpush/internal/storage/storagetest"
)

var base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db      *sql.DB
	svc     *Service
	web     *pushtest.Fake
	android *pushtest.Fake
	ios     *pushtest.Fake
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	conn := storagetest.Open(t)
	f := &fixture{
		db:      conn,
		web:     pushtest.NewFake(push.PlatformWeb),
		android: pushtest.NewFake(push.PlatformAndroid),
		ios:     pushtest.NewFake(push.PlatformIOS),
	}
	registry := push.NewRegistry(f.web, f.android, f.ios)
	f.svc = NewService(conn, registry, audit.NewLogger(conn), cfg, WithClock(func() time.Time { return base }))
	return f
}

func (f *fixture) auditCount(t *testing.T, action audit.Action, notificationID string) int {
	t.Helper()
	return storagetest.Count(t, f.db,
		"SELECT COUNT(*) FROM notification_audit_logs WHERE action = ? AND notification_id = ?",
		string(action), notificationID)
}

func (f *fixture) deliveryCount(t *testing.T, notificationID string) int {
	t.Helper()
	return storagetest.Count(t, f.db,
		"SELECT COUNT(*) FROM notification_deliveries WHERE notification_id = ?", notificationID)
}

func calloutRequest(target TargetSpec) SendRequest {
	return SendRequest{
		Type:     TypePersonnelCallout,
		Category: CategoryEmergency,
		Title:    "MCI Drill",
		Message:  "Report now",
		Target:   target,
	}
}

func TestService_Send(t *testing.T) {
	t.Parallel()

	t.Run("部署指定では対象部署の職員だけに配信すること", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())

		storagetest.AddUser(t, f.db, 1, "佐藤", 3)
		storagetest.AddUser(t, f.db, 2, "鈴木", 3)
		storagetest.AddUser(t, f.db, 3, "高橋", 5)
		storagetest.AddWebSubscription(t, f.db, 1, "https://push.example/u1")
		storagetest.AddDeviceSubscription(t, f.db, 2, "android", "fcm-u2")
		storagetest.AddWebSubscription(t, f.db, 3, "https://push.example/u3")

		rec, err := f.svc.Send(t.Context(), calloutRequest(TargetSpec{Kind: TargetDepartment, IDs: []int64{3}}))
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		if rec.Status != StatusSent {
			t.Errorf("Status = %q, want %q", rec.Status, StatusSent)
		}
		if rec.TotalRecipients != 2 || rec.SuccessfulDeliveries != 2 || rec.FailedDeliveries != 0 {
			t.Errorf("集計: total=%d success=%d failed=%d, want 2/2/0",
				rec.TotalRecipients, rec.SuccessfulDeliveries, rec.FailedDeliveries)
		}

		deliveries, err := f.svc.Deliveries(t.Context(), rec.ID)
		if err != nil {
			t.Fatalf("Deliveries()でエラーが発生: %v", err)
		}
		var users []int64
		for _, d := range deliveries {
			if d.UserID == nil {
				t.Fatalf("ユーザーIDのない配信試行がある: %+v", d)
			}
			users = append(users, *d.UserID)
			if d.Status != DeliveryDelivered {
				t.Errorf("delivery %s Status = %q, want delivered", d.ID, d.Status)
			}
		}
		slices.Sort(users)
		if !slices.Equal(users, []int64{1, 2}) {
			t.Errorf("配信先ユーザー: got %v, want [1 2]", users)
		}
		if got := f.web.Keys(); !slices.Equal(got, []string{"https://push.example/u1"}) {
			t.Errorf("web配信先: got %v", got)
		}
		if got := f.android.Keys(); !slices.Equal(got, []string{"fcm-u2"}) {
			t.Errorf("android配信先: got %v", got)
		}
		if f.auditCount(t, audit.ActionSent, rec.ID) != 1 {
			t.Error("監査ログ(sent)が記録されていない")
		}

		stored, err := f.svc.Get(t.Context(), rec.ID)
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if stored.Status != StatusSent || stored.TotalRecipients != 2 || stored.SentAt == nil {
			t.Errorf("保存内容: %+v", stored)
		}
		if !slices.Equal(stored.Target.IDs, []int64{3}) || stored.Target.Kind != TargetDepartment {
			t.Errorf("Target = %+v", stored.Target)
		}
	})

	t.Run("失効した購読は削除され、他の受信者には配信されること", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())

		storagetest.AddPublicSubscription(t, f.db, "https://push.example/alive")
		goneID := storagetest.AddPublicSubscription(t, f.db, "https://push.example/gone")
		f.web.FailFor("https://push.example/gone", fmt.Errorf("%w: status=410", push.ErrSubscriptionGone))

		rec, err := f.svc.Send(t.Context(), SendRequest{
			Type:     TypePublicAlert,
			Category: CategoryAlert,
			Title:    "道路閉鎖",
			Message:  "国道1号線が通行止めです",
			Target:   TargetSpec{Kind: TargetPublic},
		})
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		if rec.SuccessfulDeliveries != 1 || rec.FailedDeliveries != 1 || rec.TotalRecipients != 2 {
			t.Errorf("集計: total=%d success=%d failed=%d, want 2/1/1",
				rec.TotalRecipients, rec.SuccessfulDeliveries, rec.FailedDeliveries)
		}
		if n := storagetest.Count(t, f.db, "SELECT COUNT(*) FROM push_subscriptions WHERE id = ?", goneID); n != 0 {
			t.Error("失効した購読が削除されていない")
		}
		if n := storagetest.Count(t, f.db, "SELECT COUNT(*) FROM push_subscriptions"); n != 1 {
			t.Errorf("残りの購読数: got %d, want 1", n)
		}

		deliveries, err := f.svc.Deliveries(t.Context(), rec.ID)
		if err != nil {
			t.Fatalf("Deliveries()でエラーが発生: %v", err)
		}
		for _, d := range deliveries {
			if d.Endpoint != "https://push.example/gone" {
				continue
			}
			if d.Status != DeliveryFailed || d.ErrorMessage != subscriptionExpired {
				t.Errorf("失効した配信試行: status=%q error=%q", d.Status, d.ErrorMessage)
			}
			if d.UserID != nil {
				t.Errorf("一般購読者にユーザーIDが記録されている: %v", *d.UserID)
			}
		}
	})

	t.Run("受信者がいない場合はfailedで0件の通知ログを返すこと", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())

		rec, err := f.svc.Send(t.Context(), calloutRequest(TargetSpec{Kind: TargetAll}))
		if err != nil {
			t.Fatalf("受信者0件でエラーが返された: %v", err)
		}
		if rec.Status != StatusFailed || rec.TotalRecipients != 0 {
			t.Errorf("Status=%q TotalRecipients=%d, want failed/0", rec.Status, rec.TotalRecipients)
		}
		if rec.ErrorMessage == "" {
			t.Error("理由が記録されていない")
		}

		stored, err := f.svc.Get(t.Context(), rec.ID)
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if stored.Status != StatusFailed || stored.FailedAt == nil || stored.ErrorMessage != rec.ErrorMessage {
			t.Errorf("保存内容: %+v", stored)
		}
	})

	t.Run("部署IDが空の場合は受信者0件として扱うこと", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())
		storagetest.AddUser(t, f.db, 1, "佐藤", 3)
		storagetest.AddWebSubscription(t, f.db, 1, "https://push.example/u1")

		for _, kind := range []TargetKind{TargetDepartment, TargetUser} {
			rec, err := f.svc.Send(t.Context(), calloutRequest(TargetSpec{Kind: kind}))
			if err != nil {
				t.Fatalf("%s: Send()でエラーが発生: %v", kind, err)
			}
			if rec.Status != StatusFailed || rec.TotalRecipients != 0 || rec.ErrorMessage == "" {
				t.Errorf("%s: Status=%q Total=%d Error=%q", kind, rec.Status, rec.TotalRecipients, rec.ErrorMessage)
			}
		}
		if len(f.web.Calls()) != 0 {
			t.Error("配信されてしまった")
		}
	})

	t.Run("allは一般購読者と職員の両方に配信すること", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())
		storagetest.AddUser(t, f.db, 1, "佐藤", 3)
		storagetest.AddWebSubscription(t, f.db, 1, "https://push.example/u1")
		storagetest.AddDeviceSubscription(t, f.db, 1, "ios", "apns-u1")
		storagetest.AddPublicSubscription(t, f.db, "https://push.example/p1")

		rec, err := f.svc.Send(t.Context(), SendRequest{
			Type: TypeSystemAlert, Category: CategoryInfo, Title: "点検", Message: "定期点検のお知らせ",
			Target: TargetSpec{Kind: TargetAll},
		})
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		if rec.TotalRecipients != 3 {
			t.Errorf("TotalRecipients = %d, want 3", rec.TotalRecipients)
		}
		if len(f.web.Calls()) != 2 || len(f.ios.Calls()) != 1 {
			t.Errorf("配信数: web=%d ios=%d, want 2/1", len(f.web.Calls()), len(f.ios.Calls()))
		}
	})

	t.Run("テストモードでは一般購読者に配信しないこと", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())
		storagetest.AddUser(t, f.db, 1, "佐藤", 3)
		storagetest.AddWebSubscription(t, f.db, 1, "https://push.example/u1")
		storagetest.AddPublicSubscription(t, f.db, "https://push.example/p1")
		storagetest.AddPublicSubscription(t, f.db, "https://push.example/p2")

		req := calloutRequest(TargetSpec{Kind: TargetAll})
		req.IsTestMode = true
		rec, err := f.svc.Send(t.Context(), req)
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		if rec.TotalRecipients != 1 {
			t.Errorf("TotalRecipients = %d, want 1", rec.TotalRecipients)
		}
		if n := storagetest.Count(t, f.db,
			"SELECT COUNT(*) FROM notification_deliveries WHERE notification_id = ? AND user_id IS NULL", rec.ID); n != 0 {
			t.Errorf("一般購読者への配信試行: %d件", n)
		}
		calls := f.web.Calls()
		if len(calls) != 1 || !strings.HasPrefix(calls[0].Message.Title, "[TEST] ") {
			t.Errorf("配信内容: %+v", calls)
		}
		if f.auditCount(t, audit.ActionTest, rec.ID) != 1 || f.auditCount(t, audit.ActionSent, rec.ID) != 0 {
			t.Error("監査ログがtestとして記録されていない")
		}
	})

	t.Run("グローバルのテストモードは全送信に適用されること", func(t *testing.T) {
		t.Parallel()
		cfg := DefaultConfig()
		cfg.TestMode = true
		f := newFixture(t, cfg)
		storagetest.AddPublicSubscription(t, f.db, "https://push.example/p1")

		rec, err := f.svc.Send(t.Context(), SendRequest{
			Type: TypePublicAlert, Category: CategoryAlert, Title: "t", Message: "m",
			Target: TargetSpec{Kind: TargetPublic},
		})
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		if !rec.IsTestMode {
			t.Error("IsTestModeが設定されていない")
		}
		if rec.Status != StatusFailed || rec.TotalRecipients != 0 {
			t.Errorf("Status=%q Total=%d, want failed/0", rec.Status, rec.TotalRecipients)
		}
		if len(f.web.Calls()) != 0 {
			t.Error("一般購読者に配信されてしまった")
		}
	})

	t.Run("タイトルや本文がない場合もfailedで記録してエラーを返すこと", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())

		req := calloutRequest(TargetSpec{Kind: TargetAll})
		req.Title = "  "
		rec, err := f.svc.Send(t.Context(), req)

		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("ValidationErrorではない: %v", err)
		}
		if verr.Field != "title" {
			t.Errorf("Field = %q, want %q", verr.Field, "title")
		}
		if rec == nil {
			t.Fatal("通知ログが返されていない")
		}
		stored, err := f.svc.Get(t.Context(), rec.ID)
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if stored.Status != StatusFailed || stored.ErrorMessage == "" {
			t.Errorf("保存内容: status=%q error=%q", stored.Status, stored.ErrorMessage)
		}

		req = calloutRequest(TargetSpec{Kind: TargetAll})
		req.Message = ""
		if _, err := f.svc.Send(t.Context(), req); !errors.As(err, &verr) || verr.Field != "message" {
			t.Errorf("本文なし: err = %v", err)
		}
	})

	t.Run("未来の予約日時はpendingのまま配信しないこと", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())
		storagetest.AddUser(t, f.db, 1, "佐藤", 3)
		storagetest.AddWebSubscription(t, f.db, 1, "https://push.example/u1")

		at := base.Add(10 * time.Minute)
		req := calloutRequest(TargetSpec{Kind: TargetPersonnel})
		req.ScheduledFor = &at
		rec, err := f.svc.Send(t.Context(), req)
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		if rec.Status != StatusPending || !rec.IsScheduled() {
			t.Errorf("Status = %q, want pending", rec.Status)
		}
		if n := f.deliveryCount(t, rec.ID); n != 0 {
			t.Errorf("配信試行: %d件, want 0", n)
		}
		if f.auditCount(t, audit.ActionScheduled, rec.ID) != 1 {
			t.Error("監査ログ(scheduled)が記録されていない")
		}

		early, err := f.svc.DueScheduled(t.Context(), base.Add(5*time.Minute))
		if err != nil {
			t.Fatalf("DueScheduled()でエラーが発生: %v", err)
		}
		if len(early) != 0 {
			t.Errorf("予約時刻前に対象になった: %d件", len(early))
		}

		due, err := f.svc.DueScheduled(t.Context(), base.Add(11*time.Minute))
		if err != nil {
			t.Fatalf("DueScheduled()でエラーが発生: %v", err)
		}
		if len(due) != 1 || due[0].ID != rec.ID {
			t.Fatalf("予約時刻後の対象: %+v", due)
		}

		sent, err := f.svc.DispatchScheduled(t.Context(), due[0])
		if err != nil {
			t.Fatalf("DispatchScheduled()でエラーが発生: %v", err)
		}
		if sent.Status != StatusSent || sent.ScheduledFor != nil {
			t.Errorf("Status=%q ScheduledFor=%v, want sent/nil", sent.Status, sent.ScheduledFor)
		}
		stored, err := f.svc.Get(t.Context(), rec.ID)
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if stored.ScheduledFor != nil || stored.Status != StatusSent {
			t.Errorf("保存内容: status=%q scheduled_for=%v", stored.Status, stored.ScheduledFor)
		}
	})

	t.Run("過去の予約日時は即時送信すること", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())
		storagetest.AddPublicSubscription(t, f.db, "https://push.example/p1")

		at := base.Add(-time.Minute)
		rec, err := f.svc.Send(t.Context(), SendRequest{
			Type: TypePublicAlert, Category: CategoryAlert, Title: "t", Message: "m",
			Target: TargetSpec{Kind: TargetPublic}, ScheduledFor: &at,
		})
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		if rec.Status != StatusSent || rec.ScheduledFor != nil {
			t.Errorf("Status=%q ScheduledFor=%v", rec.Status, rec.ScheduledFor)
		}
	})
}

func TestService_DeliveryOutcomes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	storagetest.AddUser(t, f.db, 1, "佐藤", 3)
	storagetest.AddUser(t, f.db, 2, "鈴木", 3)
	storagetest.AddUser(t, f.db, 3, "高橋", 3)
	storagetest.AddUser(t, f.db, 4, "田中", 3)
	storagetest.AddWebSubscription(t, f.db, 1, "https://push.example/ok")
	storagetest.AddDeviceSubscription(t, f.db, 2, "android", "fcm-unconfigured")
	storagetest.AddDeviceSubscription(t, f.db, 3, "ios", "apns-timeout")
	storagetest.AddDeviceSubscription(t, f.db, 4, "ios", "apns-ok")

	f.android.FailFor("fcm-unconfigured", &push.ConfigError{Platform: push.PlatformAndroid, Missing: "FCM_CREDENTIALS_FILE"})
	f.ios.FailFor("apns-timeout", errors.New("connection reset"))

	rec, err := f.svc.Send(t.Context(), calloutRequest(TargetSpec{Kind: TargetDepartment, IDs: []int64{3}}))
	if err != nil {
		t.Fatalf("Send()でエラーが発生: %v", err)
	}

	t.Run("成功数と失敗数の合計が受信者数に一致すること", func(t *testing.T) {
		if rec.SuccessfulDeliveries+rec.FailedDeliveries != rec.TotalRecipients {
			t.Errorf("success(%d) + failed(%d) != total(%d)",
				rec.SuccessfulDeliveries, rec.FailedDeliveries, rec.TotalRecipients)
		}
		if rec.SuccessfulDeliveries != 2 || rec.FailedDeliveries != 2 {
			t.Errorf("集計: success=%d failed=%d, want 2/2", rec.SuccessfulDeliveries, rec.FailedDeliveries)
		}
		if n := storagetest.Count(t, f.db,
			"SELECT COUNT(*) FROM notification_deliveries WHERE notification_id = ? AND status = 'delivered'", rec.ID); n != rec.SuccessfulDeliveries {
			t.Errorf("delivered件数: got %d, want %d", n, rec.SuccessfulDeliveries)
		}
		if n := storagetest.Count(t, f.db,
			"SELECT COUNT(*) FROM notification_deliveries WHERE notification_id = ? AND status = 'failed'", rec.ID); n != rec.FailedDeliveries {
			t.Errorf("failed件数: got %d, want %d", n, rec.FailedDeliveries)
		}
	})

	t.Run("設定不足は再送回数に数えず、通信エラーは数えること", func(t *testing.T) {
		deliveries, err := f.svc.Deliveries(t.Context(), rec.ID)
		if err != nil {
			t.Fatalf("Deliveries()でエラーが発生: %v", err)
		}
		byEndpoint := make(map[string]Delivery)
		for _, d := range deliveries {
			byEndpoint[d.Endpoint] = d
		}

		cfg := byEndpoint["fcm-unconfigured"]
		if cfg.Status != DeliveryFailed || cfg.RetryCount != 0 || cfg.Platform != "android" {
			t.Errorf("設定不足: %+v", cfg)
		}
		transport := byEndpoint["apns-timeout"]
		if transport.Status != DeliveryFailed || transport.RetryCount != 1 || !strings.Contains(transport.ErrorMessage, "connection reset") {
			t.Errorf("通信エラー: %+v", transport)
		}
		if n := storagetest.Count(t, f.db, "SELECT COUNT(*) FROM personnel_push_subscriptions"); n != 4 {
			t.Errorf("失効以外の失敗で購読が削除された: 残り%d件", n)
		}
	})
}

func TestService_DeliveryReconcile(t *testing.T) {
	t.Parallel()

	t.Run("配信成功を書き込めなかった配信試行は失敗として集計すること", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())
		storagetest.AddUser(t, f.db, 1, "佐藤", 3)
		storagetest.AddUser(t, f.db, 2, "鈴木", 3)
		storagetest.AddWebSubscription(t, f.db, 1, "https://push.example/ok")
		storagetest.AddWebSubscription(t, f.db, 2, "https://push.example/unrecorded")

		if _, err := f.db.ExecContext(t.Context(), `
CREATE TRIGGER block_delivered BEFORE UPDATE ON notification_deliveries
WHEN NEW.status = 'delivered' AND NEW.endpoint = 'https://push.example/unrecorded'
BEGIN SELECT RAISE(ABORT, 'write blocked'); END`); err != nil {
			t.Fatalf("トリガーの作成に失敗: %v", err)
		}

		rec, err := f.svc.Send(t.Context(), calloutRequest(TargetSpec{Kind: TargetDepartment, IDs: []int64{3}}))
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		if rec.TotalRecipients != 2 || rec.SuccessfulDeliveries != 1 || rec.FailedDeliveries != 1 {
			t.Errorf("集計: total=%d success=%d failed=%d, want 2/1/1",
				rec.TotalRecipients, rec.SuccessfulDeliveries, rec.FailedDeliveries)
		}
		if n := storagetest.Count(t, f.db,
			"SELECT COUNT(*) FROM notification_deliveries WHERE notification_id = ? AND status = 'pending'", rec.ID); n != 0 {
			t.Errorf("pendingのまま残った配信試行: %d件", n)
		}
		if n := storagetest.Count(t, f.db,
			"SELECT COUNT(*) FROM notification_deliveries WHERE notification_id = ? AND status = 'failed' AND error_message = ?",
			rec.ID, outcomeNotRecorded); n != rec.FailedDeliveries {
			t.Errorf("failed件数: got %d, want %d", n, rec.FailedDeliveries)
		}
	})
}

func TestService_BuildMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	storagetest.AddUser(t, f.db, 1, "佐藤", 3)
	storagetest.AddWebSubscription(t, f.db, 1, "https://push.example/u1")

	t.Run("緊急通知は振動パターンと操作待ちを付けること", func(t *testing.T) {
		req := calloutRequest(TargetSpec{Kind: TargetUser, IDs: []int64{1}})
		req.IsEmergency = true
		req.Payload = map[string]any{"callout_id": 42, "location": "東京"}
		rec, err := f.svc.Send(t.Context(), req)
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}

		calls := f.web.Calls()
		msg := calls[len(calls)-1].Message
		if !msg.Urgent || !msg.RequireInteraction {
			t.Errorf("Urgent=%v RequireInteraction=%v, want true/true", msg.Urgent, msg.RequireInteraction)
		}
		if !slices.Equal(msg.Vibrate, []int{200, 100, 200, 100, 200, 100, 400}) {
			t.Errorf("Vibrate = %v", msg.Vibrate)
		}
		want := map[string]string{
			"type":           "personnel_callout",
			"category":       "emergency",
			"notificationId": rec.ID,
			"url":            "/",
			"callout_id":     "42",
			"location":       "東京",
		}
		for k, v := range want {
			if msg.Data[k] != v {
				t.Errorf("Data[%s] = %q, want %q", k, msg.Data[k], v)
			}
		}
		if msg.Icon != "/icons/icon-192x192.png" || msg.Badge != "/icons/badge-72x72.png" {
			t.Errorf("Icon=%q Badge=%q", msg.Icon, msg.Badge)
		}
	})

	t.Run("通常の通知は振動しないこと", func(t *testing.T) {
		req := calloutRequest(TargetSpec{Kind: TargetUser, IDs: []int64{1}})
		req.Category = CategoryInfo
		if _, err := f.svc.Send(t.Context(), req); err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		calls := f.web.Calls()
		msg := calls[len(calls)-1].Message
		if msg.Urgent || msg.RequireInteraction || len(msg.Vibrate) != 0 {
			t.Errorf("通常通知に緊急設定が付いている: %+v", msg)
		}
	})
}

func TestService_ScheduledLifecycle(t *testing.T) {
	t.Parallel()

	schedule := func(t *testing.T, f *fixture) *Record {
		t.Helper()
		at := base.Add(30 * time.Minute)
		req := calloutRequest(TargetSpec{Kind: TargetPersonnel})
		req.ScheduledFor = &at
		rec, err := f.svc.Send(t.Context(), req)
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		return rec
	}

	t.Run("予約中の通知を取り消せること", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())
		rec := schedule(t, f)

		cancelled, err := f.svc.CancelScheduled(t.Context(), rec.ID)
		if err != nil {
			t.Fatalf("CancelScheduled()でエラーが発生: %v", err)
		}
		if cancelled.Status != StatusCancelled || cancelled.CancelledAt == nil {
			t.Errorf("Status=%q CancelledAt=%v", cancelled.Status, cancelled.CancelledAt)
		}

		due, err := f.svc.DueScheduled(t.Context(), base.Add(time.Hour))
		if err != nil {
			t.Fatalf("DueScheduled()でエラーが発生: %v", err)
		}
		if len(due) != 0 {
			t.Error("取り消した通知が送信対象になった")
		}

		if _, err := f.svc.CancelScheduled(t.Context(), rec.ID); !errors.Is(err, ErrNotCancellable) {
			t.Errorf("2回目の取り消し: err = %v, want ErrNotCancellable", err)
		}
	})

	t.Run("即時送信した通知や存在しない通知は取り消せないこと", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())

		rec, err := f.svc.Send(t.Context(), calloutRequest(TargetSpec{Kind: TargetAll}))
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		if _, err := f.svc.CancelScheduled(t.Context(), rec.ID); !errors.Is(err, ErrNotCancellable) {
			t.Errorf("err = %v, want ErrNotCancellable", err)
		}
		if _, err := f.svc.CancelScheduled(t.Context(), "no-such-id"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("予約中の通知を編集できること", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())
		rec := schedule(t, f)

		title := "訓練（時刻変更）"
		at := base.Add(2 * time.Hour)
		edited, err := f.svc.EditScheduled(t.Context(), rec.ID, EditRequest{
			Title:        &title,
			ScheduledFor: &at,
			Meta:         audit.Meta{Actor: "7"},
		})
		if err != nil {
			t.Fatalf("EditScheduled()でエラーが発生: %v", err)
		}
		if edited.Title != title || edited.ScheduledFor == nil || !edited.ScheduledFor.Equal(at) {
			t.Errorf("編集結果: title=%q scheduled_for=%v", edited.Title, edited.ScheduledFor)
		}
		if edited.Body != "Report now" {
			t.Errorf("未指定の本文が変わった: %q", edited.Body)
		}
		if f.auditCount(t, audit.ActionEdited, rec.ID) != 1 {
			t.Error("監査ログ(edited)が記録されていない")
		}

		past := base.Add(-time.Minute)
		var verr *ValidationError
		if _, err := f.svc.EditScheduled(t.Context(), rec.ID, EditRequest{ScheduledFor: &past}); !errors.As(err, &verr) {
			t.Errorf("過去日時への変更: err = %v, want ValidationError", err)
		}
	})

	t.Run("一覧の取得後に取り消された通知は送信しないこと", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())
		storagetest.AddUser(t, f.db, 1, "佐藤", 3)
		storagetest.AddWebSubscription(t, f.db, 1, "https://push.example/u1")
		rec := schedule(t, f)

		due, err := f.svc.DueScheduled(t.Context(), base.Add(time.Hour))
		if err != nil {
			t.Fatalf("DueScheduled()でエラーが発生: %v", err)
		}
		if len(due) != 1 {
			t.Fatalf("送信対象: %d件, want 1", len(due))
		}
		if _, err := f.svc.CancelScheduled(t.Context(), rec.ID); err != nil {
			t.Fatalf("CancelScheduled()でエラーが発生: %v", err)
		}

		if _, err := f.svc.DispatchScheduled(t.Context(), due[0]); !errors.Is(err, ErrNotDispatchable) {
			t.Errorf("err = %v, want ErrNotDispatchable", err)
		}
		if got := f.web.Keys(); len(got) != 0 {
			t.Errorf("取り消した通知が配信された: %v", got)
		}
		if n := f.deliveryCount(t, rec.ID); n != 0 {
			t.Errorf("配信試行: %d件, want 0", n)
		}
		stored, err := f.svc.Get(t.Context(), rec.ID)
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if stored.Status != StatusCancelled {
			t.Errorf("Status = %q, want cancelled", stored.Status)
		}
	})

	t.Run("同じ予約通知を2回送信しないこと", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())
		storagetest.AddUser(t, f.db, 1, "佐藤", 3)
		storagetest.AddWebSubscription(t, f.db, 1, "https://push.example/u1")
		schedule(t, f)

		due, err := f.svc.DueScheduled(t.Context(), base.Add(time.Hour))
		if err != nil {
			t.Fatalf("DueScheduled()でエラーが発生: %v", err)
		}
		if len(due) != 1 {
			t.Fatalf("送信対象: %d件, want 1", len(due))
		}
		stale := *due[0]

		if _, err := f.svc.DispatchScheduled(t.Context(), due[0]); err != nil {
			t.Fatalf("DispatchScheduled()でエラーが発生: %v", err)
		}
		if _, err := f.svc.DispatchScheduled(t.Context(), &stale); !errors.Is(err, ErrNotDispatchable) {
			t.Errorf("2回目: err = %v, want ErrNotDispatchable", err)
		}
		if got := f.web.Keys(); len(got) != 1 {
			t.Errorf("配信回数: got %d, want 1", len(got))
		}
	})

	t.Run("一覧の取得後に編集された内容で送信すること", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())
		storagetest.AddUser(t, f.db, 1, "佐藤", 3)
		storagetest.AddWebSubscription(t, f.db, 1, "https://push.example/u1")
		rec := schedule(t, f)

		due, err := f.svc.DueScheduled(t.Context(), base.Add(time.Hour))
		if err != nil {
			t.Fatalf("DueScheduled()でエラーが発生: %v", err)
		}
		if len(due) != 1 {
			t.Fatalf("送信対象: %d件, want 1", len(due))
		}
		title := "訓練（集合場所変更）"
		if _, err := f.svc.EditScheduled(t.Context(), rec.ID, EditRequest{Title: &title}); err != nil {
			t.Fatalf("EditScheduled()でエラーが発生: %v", err)
		}

		sent, err := f.svc.DispatchScheduled(t.Context(), due[0])
		if err != nil {
			t.Fatalf("DispatchScheduled()でエラーが発生: %v", err)
		}
		if sent.Title != title {
			t.Errorf("Title = %q, want %q", sent.Title, title)
		}
		calls := f.web.Calls()
		if len(calls) != 1 || calls[0].Message.Title != title {
			t.Errorf("配信内容: %+v", calls)
		}
	})

	t.Run("送信中の予約通知は取り消しも編集もできないこと", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())
		rec := schedule(t, f)

		n, err := f.svc.queries.ClaimScheduledNotification(t.Context(), db.ClaimScheduledNotificationParams{
			UpdatedAt: base,
			ID:        rec.ID,
		})
		if err != nil || n != 1 {
			t.Fatalf("ClaimScheduledNotification(): n=%d err=%v", n, err)
		}
		if _, err := f.svc.CancelScheduled(t.Context(), rec.ID); !errors.Is(err, ErrNotCancellable) {
			t.Errorf("取り消し: err = %v, want ErrNotCancellable", err)
		}
		title := "x"
		if _, err := f.svc.EditScheduled(t.Context(), rec.ID, EditRequest{Title: &title}); !errors.Is(err, ErrNotEditable) {
			t.Errorf("編集: err = %v, want ErrNotEditable", err)
		}
	})

	t.Run("送信済みの通知は編集できないこと", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, DefaultConfig())

		rec, err := f.svc.Send(t.Context(), calloutRequest(TargetSpec{Kind: TargetAll}))
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		title := "x"
		if _, err := f.svc.EditScheduled(t.Context(), rec.ID, EditRequest{Title: &title}); !errors.Is(err, ErrNotEditable) {
			t.Errorf("err = %v, want ErrNotEditable", err)
		}
	})
}

func TestService_Resend(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	storagetest.AddUser(t, f.db, 1, "佐藤", 3)
	storagetest.AddWebSubscription(t, f.db, 1, "https://push.example/u1")

	t.Run("同じ内容で新しい通知として送信すること", func(t *testing.T) {
		orig, err := f.svc.Send(t.Context(), calloutRequest(TargetSpec{Kind: TargetDepartment, IDs: []int64{3}}))
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}

		sender := int64(9)
		rec, err := f.svc.Resend(t.Context(), orig.ID, &sender, audit.Meta{Actor: "9"})
		if err != nil {
			t.Fatalf("Resend()でエラーが発生: %v", err)
		}
		if rec.ID == orig.ID {
			t.Error("元の通知が再利用された")
		}
		if rec.Title != orig.Title || rec.Target.Kind != TargetDepartment || rec.Status != StatusSent {
			t.Errorf("再送内容: %+v", rec)
		}
		if rec.Payload["resend_of"] != orig.ID {
			t.Errorf("resend_of = %v, want %s", rec.Payload["resend_of"], orig.ID)
		}
		if rec.SenderName() != "9" {
			t.Errorf("SenderName() = %q, want %q", rec.SenderName(), "9")
		}
		if f.auditCount(t, audit.ActionRetry, rec.ID) != 1 {
			t.Error("監査ログ(retry)が記録されていない")
		}
		if f.deliveryCount(t, orig.ID) != 1 || f.deliveryCount(t, rec.ID) != 1 {
			t.Error("再送で元の配信試行が変更された")
		}
	})

	t.Run("予約中の通知は再送できないこと", func(t *testing.T) {
		at := base.Add(time.Hour)
		req := calloutRequest(TargetSpec{Kind: TargetAll})
		req.ScheduledFor = &at
		rec, err := f.svc.Send(t.Context(), req)
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		if _, err := f.svc.Resend(t.Context(), rec.ID, nil, audit.Meta{}); !errors.Is(err, ErrNotResendable) {
			t.Errorf("err = %v, want ErrNotResendable", err)
		}
	})
}

func TestRecord_SenderName(t *testing.T) {
	t.Parallel()

	if got := (&Record{}).SenderName(); got != SystemSender {
		t.Errorf("SenderName() = %q, want %q", got, SystemSender)
	}
}
