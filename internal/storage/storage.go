// Package storage はSQLiteデータベースの接続とスキーマ管理を提供する。
//
// 通知ログ・配信試行・監査ログのテーブルと、周辺システムが所有する
// 購読・ユーザー・コールアウト系テーブルを、embedされたマイグレーションで作成する。
package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nao1215/alertpush/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MemoryDSN はテストで使うインメモリデータベースのDSN。
const MemoryDSN = ":memory:"

// FileDSN はファイルパスからWALモード・ビジータイムアウト付きのDSNを組み立てる。
func FileDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Open はSQLiteデータベースに接続し、未適用のマイグレーションを適用する。
// インメモリDBは接続ごとに別のDBになるため、接続数を1に制限する。
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}

	if _, err := migration.Run(ctx, db, migrations, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return db, nil
}

// IsTransient はタイマー処理で握りつぶして次回に再試行してよいエラーかを判定する。
// データベースのロック競合、切断された接続、タイムアウトが該当する。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}
