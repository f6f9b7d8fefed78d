package notification

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nao1215/alertpush/internal/audit"
	"github.com/nao1215/alertpush/internal/notification/db"
	"github.com/nao1215/alertpush/pkg/envelope"
)

// Type は通知の発生元となるイベントの種類。
type Type string

const (
	TypePublicAlert      Type = "public_alert"
	TypePersonnelCallout Type = "personnel_callout"
	TypeChatMessage      Type = "chat_message"
	TypeTrainingReminder Type = "training_reminder"
	TypeSystemAlert      Type = "system_alert"
)

// Valid は定義済みの種類かを返す。
func (t Type) Valid() bool {
	switch t {
	case TypePublicAlert, TypePersonnelCallout, TypeChatMessage, TypeTrainingReminder, TypeSystemAlert:
		return true
	}
	return false
}

// Category は通知の重要度・区分。
type Category string

const (
	CategoryEmergency   Category = "emergency"
	CategoryAlert       Category = "alert"
	CategoryWarning     Category = "warning"
	CategoryInfo        Category = "info"
	CategoryOperational Category = "operational"
	CategoryTraining    Category = "training"
	CategoryMaintenance Category = "maintenance"
	CategorySystem      Category = "system"
)

// Valid は定義済みの区分かを返す。
func (c Category) Valid() bool {
	switch c {
	case CategoryEmergency, CategoryAlert, CategoryWarning, CategoryInfo,
		CategoryOperational, CategoryTraining, CategoryMaintenance, CategorySystem:
		return true
	}
	return false
}

// TargetKind は宛先指定の種類。
type TargetKind string

const (
	// TargetAll は一般購読者と職員の全員。
	TargetAll TargetKind = "all"
	// TargetPublic は未ログインの一般購読者のみ。
	TargetPublic TargetKind = "public"
	// TargetPersonnel は職員の全員。
	TargetPersonnel TargetKind = "personnel"
	// TargetDepartment はIDsで指定した部署に所属する職員。
	TargetDepartment TargetKind = "department"
	// TargetUser はIDsで指定した職員。
	TargetUser TargetKind = "user"
)

// Valid は定義済みの宛先種類かを返す。
func (k TargetKind) Valid() bool {
	switch k {
	case TargetAll, TargetPublic, TargetPersonnel, TargetDepartment, TargetUser:
		return true
	}
	return false
}

// TargetSpec は宛先指定。IDsはKindがdepartment / userの場合のみ使う。
type TargetSpec struct {
	Kind TargetKind `json:"kind"`
	IDs  []int64    `json:"ids,omitempty"`
}

// Status は通知のライフサイクル状態。
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// SystemSender は送信者がいない通知の表示名。
const SystemSender = "System"

// Record は1件の論理的な通知（即時または予約）。
type Record struct {
	ID                   string         `json:"id"`
	Type                 Type           `json:"type"`
	Category             Category       `json:"category"`
	Title                string         `json:"title"`
	Body                 string         `json:"body"`
	Target               TargetSpec     `json:"target"`
	Payload              map[string]any `json:"payload,omitempty"`
	SentBy               *int64         `json:"sent_by"`
	IsTestMode           bool           `json:"is_test_mode"`
	IsEmergency          bool           `json:"is_emergency"`
	ScheduledFor         *time.Time     `json:"scheduled_for"`
	Status               Status         `json:"status"`
	TotalRecipients      int            `json:"total_recipients"`
	SuccessfulDeliveries int            `json:"successful_deliveries"`
	FailedDeliveries     int            `json:"failed_deliveries"`
	ErrorMessage         string         `json:"error_message,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	SentAt               *time.Time     `json:"sent_at"`
	FailedAt             *time.Time     `json:"failed_at"`
	CancelledAt          *time.Time     `json:"cancelled_at"`
}

// SenderName は送信者の表示名を返す。送信者がいない場合は"System"。
func (r *Record) SenderName() string {
	if r.SentBy == nil {
		return SystemSender
	}
	return fmt.Sprintf("%d", *r.SentBy)
}

// IsScheduled は予約中（pendingかつ予約日時あり）かを返す。
func (r *Record) IsScheduled() bool {
	return r.Status == StatusPending && r.ScheduledFor != nil
}

// DeliveryStatus は配信試行の状態。
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery は通知と受信者の組ごとの配信試行。
type Delivery struct {
	ID                 string             `json:"id"`
	NotificationID     string             `json:"notification_id"`
	UserID             *int64             `json:"user_id"`
	SubscriptionSource SubscriptionSource `json:"subscription_source"`
	SubscriptionID     int64              `json:"subscription_id"`
	Endpoint           string             `json:"endpoint"`
	Platform           string             `json:"platform"`
	Status             DeliveryStatus     `json:"status"`
	ErrorMessage       string             `json:"error_message,omitempty"`
	RetryCount         int                `json:"retry_count"`
	CreatedAt          time.Time          `json:"created_at"`
	DeliveredAt        *time.Time         `json:"delivered_at"`
	FailedAt           *time.Time         `json:"failed_at"`
}

// SendRequest は送信リクエスト。
type SendRequest struct {
	Type     Type
	Category Category
	Title    string
	Message  string
	Target   TargetSpec
	// SentBy は送信者のユーザーID。nilの場合はシステム送信。
	SentBy *int64
	// Payload はプッシュのデータ部に埋め込む追加情報。
	Payload     map[string]any
	IsEmergency bool
	IsTestMode  bool
	// ScheduledFor が未来の日時の場合、Schedulerが送信するまでpendingのまま保持する。
	ScheduledFor *time.Time
	// Meta は監査ログに記録するリクエスト情報。
	Meta audit.Meta
}

// validate は入力の不備を最初の1件だけ返す。
func (r *SendRequest) validate() *ValidationError {
	switch {
	case strings.TrimSpace(r.Title) == "":
		return &ValidationError{Field: "title", Reason: "必須です"}
	case strings.TrimSpace(r.Message) == "":
		return &ValidationError{Field: "message", Reason: "必須です"}
	case !r.Type.Valid():
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("未定義の種類です: %q", r.Type)}
	case !r.Category.Valid():
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("未定義の区分です: %q", r.Category)}
	case !r.Target.Kind.Valid():
		return &ValidationError{Field: "target", Reason: fmt.Sprintf("未定義の宛先種類です: %q", r.Target.Kind)}
	}
	return nil
}

// EditRequest は予約中の通知の編集内容。nilの項目は変更しない。
type EditRequest struct {
	Title        *string
	Message      *string
	Category     *Category
	ScheduledFor *time.Time
	Meta         audit.Meta
}

func toRecord(row db.NotificationLog) (*Record, error) {
	ids, err := envelope.Decode[[]int64](row.TargetIds)
	if err != nil {
		return nil, fmt.Errorf("宛先IDの読み込みに失敗: %w", err)
	}
	payload, err := envelope.Decode[map[string]any](row.Payload)
	if err != nil {
		return nil, fmt.Errorf("ペイロードの読み込みに失敗: %w", err)
	}

	return &Record{
		ID:                   row.ID,
		Type:                 Type(row.Type),
		Category:             Category(row.Category),
		Title:                row.Title,
		Body:                 row.Body,
		Target:               TargetSpec{Kind: TargetKind(row.TargetKind), IDs: ids},
		Payload:              payload,
		SentBy:               int64Ptr(row.SentBy),
		IsTestMode:           row.IsTestMode,
		IsEmergency:          row.IsEmergency,
		ScheduledFor:         timePtr(row.ScheduledFor),
		Status:               Status(row.Status),
		TotalRecipients:      int(row.TotalRecipients),
		SuccessfulDeliveries: int(row.SuccessfulDeliveries),
		FailedDeliveries:     int(row.FailedDeliveries),
		ErrorMessage:         row.ErrorMessage,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
		SentAt:               timePtr(row.SentAt),
		FailedAt:             timePtr(row.FailedAt),
		CancelledAt:          timePtr(row.CancelledAt),
	}, nil
}

func toDelivery(row db.NotificationDelivery) Delivery {
	return Delivery{
		ID:                 row.ID,
		NotificationID:     row.NotificationID,
		UserID:             int64Ptr(row.UserID),
		SubscriptionSource: SubscriptionSource(row.SubscriptionSource),
		SubscriptionID:     row.SubscriptionID,
		Endpoint:           row.Endpoint,
		Platform:           row.Platform,
		Status:             DeliveryStatus(row.Status),
		ErrorMessage:       row.ErrorMessage,
		RetryCount:         int(row.RetryCount),
		CreatedAt:          row.CreatedAt,
		DeliveredAt:        timePtr(row.DeliveredAt),
		FailedAt:           timePtr(row.FailedAt),
	}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func validTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}
