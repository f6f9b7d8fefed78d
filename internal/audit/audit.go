package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/alertpush/internal/audit/db"
	"github.com/nao1215/alertpush/pkg/envelope"
)

// Action は監査対象の操作種別。
type Action string

const (
	ActionSent               Action = "sent"
	ActionScheduled          Action = "scheduled"
	ActionCancelled          Action = "cancelled"
	ActionEdited             Action = "edited"
	ActionViewed             Action = "viewed"
	ActionTest               Action = "test"
	ActionPreferencesUpdated Action = "preferences_updated"
	ActionAcknowledged       Action = "acknowledged"
	ActionEscalated          Action = "escalated"
	ActionRetry              Action = "retry"
	ActionSystemError        Action = "system_error"
)

var actions = map[Action]bool{
	ActionSent: true, ActionScheduled: true, ActionCancelled: true, ActionEdited: true,
	ActionViewed: true, ActionTest: true, ActionPreferencesUpdated: true, ActionAcknowledged: true,
	ActionEscalated: true, ActionRetry: true, ActionSystemError: true,
}

// Valid は定義済みの操作種別かを返す。
func (a Action) Valid() bool {
	return actions[a]
}

// Meta は操作を行ったリクエストの情報。
type Meta struct {
	// Actor は操作者の識別子。システムによる操作の場合は"system"などを入れる。
	Actor string
	// IPAddress はリクエスト元のIPアドレス。
	IPAddress string
	// UserAgent はリクエスト元のUser-Agent。
	UserAgent string
}

// Entry は監査ログの1件。
type Entry struct {
	ID             string         `json:"id"`
	Action         Action         `json:"action"`
	NotificationID string         `json:"notification_id,omitempty"`
	Actor          string         `json:"actor"`
	Details        map[string]any `json:"details,omitempty"`
	IPAddress      string         `json:"ip_address,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NewEntry はMetaの情報を埋めたEntryを生成する。
func (m Meta) NewEntry(action Action, notificationID string, details map[string]any) Entry {
	return Entry{
		Action:         action,
		NotificationID: notificationID,
		Actor:          m.Actor,
		Details:        details,
		IPAddress:      m.IPAddress,
		UserAgent:      m.UserAgent,
	}
}

// Filter は監査ログの検索条件。ゼロ値の項目は条件に含めない。
type Filter struct {
	Action         Action
	Actor          string
	NotificationID string
	Since          *time.Time
	Until          *time.Time
	// Limit は取得件数。0の場合はDefaultLimit。
	Limit int
	// Offset は読み飛ばす件数。
	Offset int
}

const (
	// DefaultLimit はLimit未指定時の取得件数。
	DefaultLimit = 100
	// MaxLimit は1回の検索で取得できる最大件数。
	MaxLimit = 1000
)

// Stat は操作種別ごとの集計結果。
type Stat struct {
	Action       Action `json:"action"`
	Count        int64  `json:"count"`
	UniqueActors int64  `json:"unique_actors"`
}

// Logger は監査ログの書き込みと検索を行う。
type Logger struct {
	queries *db.Queries
	now     func() time.Time
}

// Option はLoggerの設定を変更する。
type Option func(*Logger)

// WithClock は記録時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// NewLogger は新しいLoggerを生成する。
func NewLogger(conn db.DBTX, opts ...Option) *Logger {
	l := &Logger{queries: db.New(conn), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogAction は監査ログを1件記録する。
// 失敗はログ出力のみで握りつぶし、呼び出し元の処理には影響させない。
// リクエストのキャンセルに巻き込まれないよう、キャンセルを切り離したコンテキストで書き込む。
func (l *Logger) LogAction(ctx context.Context, e Entry) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Audit] 監査ログの記録中にパニックが発生: action=%s, panic=%v", e.Action, r)
		}
	}()

	details, err := envelope.Encode(e.Details)
	if err != nil {
		log.Printf("[Audit] 詳細のシリアライズに失敗: action=%s, err=%v", e.Action, err)
		details = ""
	}

	if err := l.queries.CreateAuditLog(context.WithoutCancel(ctx), db.CreateAuditLogParams{
		ID:             uuid.New().String(),
		Action:         string(e.Action),
		NotificationID: nullString(e.NotificationID),
		Actor:          e.Actor,
		Details:        details,
		IpAddress:      e.IPAddress,
		UserAgent:      e.UserAgent,
		CreatedAt:      l.now().UTC(),
	}); err != nil {
		log.Printf("[Audit] 監査ログの記録に失敗: action=%s, notification=%s, err=%v", e.Action, e.NotificationID, err)
	}
}

// Query は条件に一致する監査ログを新しい順に返す。
func (l *Logger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := l.queries.ListAuditLogs(ctx, db.ListAuditLogsParams{
		Action:         nullString(string(f.Action)),
		Actor:          nullString(f.Actor),
		NotificationID: nullString(f.NotificationID),
		Since:          nullTime(f.Since),
		Until:          nullTime(f.Until),
		Limit:          int64(limit),
		Offset:         int64(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("監査ログの検索に失敗: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		details, err := envelope.Decode[map[string]any](row.Details)
		if err != nil {
			// 読めない詳細があっても一覧は返す
			log.Printf("[Audit] 詳細のデシリアライズに失敗: id=%s, err=%v", row.ID, err)
		}
		entries = append(entries, Entry{
			ID:             row.ID,
			Action:         Action(row.Action),
			NotificationID: row.NotificationID.String,
			Actor:          row.Actor,
			Details:        details,
			IPAddress:      row.IpAddress,
			UserAgent:      row.UserAgent,
			CreatedAt:      row.CreatedAt,
		})
	}
	return entries, nil
}

// Count は条件に一致する監査ログの件数を返す。LimitとOffsetは無視する。
func (l *Logger) Count(ctx context.Context, f Filter) (int64, error) {
	n, err := l.queries.CountAuditLogs(ctx, db.CountAuditLogsParams{
		Action:         nullString(string(f.Action)),
		Actor:          nullString(f.Actor),
		NotificationID: nullString(f.NotificationID),
		Since:          nullTime(f.Since),
		Until:          nullTime(f.Until),
	})
	if err != nil {
		return 0, fmt.Errorf("監査ログの件数取得に失敗: %w", err)
	}
	return n, nil
}

// Stats は期間内の操作種別ごとの件数と操作者数を返す。
// toがゼロ値の場合は現在時刻までを対象とする。
func (l *Logger) Stats(ctx context.Context, from, to time.Time) ([]Stat, error) {
	if to.IsZero() {
		to = l.now()
	}
	rows, err := l.queries.AuditStats(ctx, db.AuditStatsParams{
		Since: from.UTC(),
		Until: to.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("監査ログの集計に失敗: %w", err)
	}

	stats := make([]Stat, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, Stat{
			Action:       Action(row.Action),
			Count:        row.Count,
			UniqueActors: row.UniqueActors,
		})
	}
	return stats, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
