// Package storagetest はテスト用のデータベース生成と周辺テーブルへのデータ投入を提供する。
package storagetest

import (
	"database/sql"
	"testing"
	"time"

	"github.com/nao1215/alertpush/internal/storage"
)

// Open はマイグレーション適用済みのインメモリDBを作成し、テスト終了時に閉じる。
func Open(t *testing.T) *sql.DB {
	t.Helper()

	db, err := storage.Open(t.Context(), storage.MemoryDSN)
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// AddUser は部署に所属するユーザーを投入する。部署が未登録なら作成する。
func AddUser(t *testing.T, db *sql.DB, id int64, name string, departmentID int64) {
	t.Helper()

	if _, err := db.Exec("INSERT OR IGNORE INTO departments (id, name) VALUES (?, ?)", departmentID, "dept"); err != nil {
		t.Fatalf("部署の投入に失敗: %v", err)
	}
	if _, err := db.Exec("INSERT INTO users (id, name, department_id) VALUES (?, ?, ?)", id, name, departmentID); err != nil {
		t.Fatalf("ユーザーの投入に失敗: %v", err)
	}
}

// AddPublicSubscription は一般購読者のWeb Push購読を投入し、IDを返す。
func AddPublicSubscription(t *testing.T, db *sql.DB, endpoint string) int64 {
	t.Helper()

	res, err := db.Exec(
		"INSERT INTO push_subscriptions (endpoint, p256dh, auth, created_at) VALUES (?, ?, ?, ?)",
		endpoint, "p256dh-key", "auth-key", time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("一般購読の投入に失敗: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// AddWebSubscription は職員のWeb Push購読を投入し、IDを返す。
func AddWebSubscription(t *testing.T, db *sql.DB, userID int64, endpoint string) int64 {
	t.Helper()

	res, err := db.Exec(
		"INSERT INTO personnel_push_subscriptions (user_id, platform, endpoint, p256dh, auth, created_at) VALUES (?, 'web', ?, ?, ?, ?)",
		userID, endpoint, "p256dh-key", "auth-key", time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("職員購読の投入に失敗: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// AddDeviceSubscription は職員のモバイル端末購読（android / ios）を投入し、IDを返す。
func AddDeviceSubscription(t *testing.T, db *sql.DB, userID int64, platform, deviceToken string) int64 {
	t.Helper()

	res, err := db.Exec(
		"INSERT INTO personnel_push_subscriptions (user_id, platform, device_token, created_at) VALUES (?, ?, ?, ?)",
		userID, platform, deviceToken, time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("端末購読の投入に失敗: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// AddCallout はコールアウトを投入し、IDを返す。notificationIDが空の場合は通知と紐づけない。
func AddCallout(t *testing.T, db *sql.DB, departmentID int64, title, notificationID string, createdAt time.Time) int64 {
	t.Helper()

	var link any
	if notificationID != "" {
		link = notificationID
	}
	res, err := db.Exec(
		"INSERT INTO callouts (department_id, title, message, status, notification_id, created_at) VALUES (?, ?, ?, 'active', ?, ?)",
		departmentID, title, title, link, createdAt.UTC(),
	)
	if err != nil {
		t.Fatalf("コールアウトの投入に失敗: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// AddAcknowledgement はコールアウトへの応答を投入する。
func AddAcknowledgement(t *testing.T, db *sql.DB, calloutID, userID int64) {
	t.Helper()

	if _, err := db.Exec(
		"INSERT INTO notification_acknowledgements (callout_id, user_id, acknowledged_at) VALUES (?, ?, ?)",
		calloutID, userID, time.Now().UTC(),
	); err != nil {
		t.Fatalf("応答の投入に失敗: %v", err)
	}
}

// Count は任意のSQLで件数を取得する。
func Count(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()

	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("件数の取得に失敗: %v", err)
	}
	return n
}
