package notification

import (
	"context"
	"fmt"

	"github.com/nao1215/alertpush/internal/notification/db"
	"github.com/nao1215/alertpush/internal/push"
)

// SubscriptionSource は購読が保存されているテーブルの区別。
type SubscriptionSource string

const (
	// SourcePublic は一般購読者（push_subscriptions）。
	SourcePublic SubscriptionSource = "public"
	// SourcePersonnel は職員の購読（personnel_push_subscriptions）。
	SourcePersonnel SubscriptionSource = "personnel"
)

// Recipient は購読と所有ユーザーを結合した受信者。
// 購読は送信の合間に変わるため、解決のたびに作り直し、キャッシュしない。
type Recipient struct {
	Source         SubscriptionSource
	SubscriptionID int64
	// UserID は所有ユーザーのID。一般購読者の場合は0。
	UserID       int64
	UserName     string
	DepartmentID int64
	Platform     push.Platform
	Target       push.Target
}

// HasUser はログイン済みユーザーに紐づく受信者かを返す。
func (r Recipient) HasUser() bool {
	return r.Source == SourcePersonnel && r.UserID != 0
}

// address は配信試行に記録する宛先（エンドポイントまたはデバイストークン）。
func (r Recipient) address() string {
	if r.Target.Endpoint != "" {
		return r.Target.Endpoint
	}
	return r.Target.DeviceToken
}

// Resolver は宛先指定を受信者の一覧に変換する。
type Resolver struct {
	queries *db.Queries
}

// NewResolver は新しいResolverを生成する。
func NewResolver(queries *db.Queries) *Resolver {
	return &Resolver{queries: queries}
}

// Resolve は宛先指定に一致する受信者を返す。
// 受信者が0件の場合は、その理由を2番目の戻り値で返す。
func (r *Resolver) Resolve(ctx context.Context, target TargetSpec) ([]Recipient, string, error) {
	var (
		recipients []Recipient
		err        error
	)

	switch target.Kind {
	case TargetAll:
		var public, personnel []Recipient
		if public, err = r.public(ctx); err != nil {
			return nil, "", err
		}
		if personnel, err = r.personnel(ctx); err != nil {
			return nil, "", err
		}
		recipients = append(public, personnel...)
	case TargetPublic:
		recipients, err = r.public(ctx)
	case TargetPersonnel:
		recipients, err = r.personnel(ctx)
	case TargetDepartment:
		if len(target.IDs) == 0 {
			return nil, "部署IDが指定されていません", nil
		}
		var rows []db.ListPersonnelSubscriptionsRow
		rows, err = r.queries.ListPersonnelSubscriptionsByDepartments(ctx, target.IDs)
		recipients = personnelRecipients(rows)
	case TargetUser:
		if len(target.IDs) == 0 {
			return nil, "ユーザーIDが指定されていません", nil
		}
		var rows []db.ListPersonnelSubscriptionsRow
		rows, err = r.queries.ListPersonnelSubscriptionsByUsers(ctx, target.IDs)
		recipients = personnelRecipients(rows)
	default:
		return nil, fmt.Sprintf("未定義の宛先種類です: %q", target.Kind), nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("購読の取得に失敗: %w", err)
	}

	if len(recipients) == 0 {
		return nil, fmt.Sprintf("宛先（%s）に一致する購読がありません", describeTarget(target)), nil
	}
	return recipients, "", nil
}

func (r *Resolver) public(ctx context.Context) ([]Recipient, error) {
	rows, err := r.queries.ListPublicSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("一般購読の取得に失敗: %w", err)
	}
	recipients := make([]Recipient, 0, len(rows))
	for _, row := range rows {
		recipients = append(recipients, Recipient{
			Source:         SourcePublic,
			SubscriptionID: row.ID,
			Platform:       push.PlatformWeb,
			Target: push.Target{
				Endpoint: row.Endpoint,
				P256dh:   row.P256dh,
				Auth:     row.Auth,
			},
		})
	}
	return recipients, nil
}

func (r *Resolver) personnel(ctx context.Context) ([]Recipient, error) {
	rows, err := r.queries.ListPersonnelSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("職員購読の取得に失敗: %w", err)
	}
	return personnelRecipients(rows), nil
}

func personnelRecipients(rows []db.ListPersonnelSubscriptionsRow) []Recipient {
	recipients := make([]Recipient, 0, len(rows))
	for _, row := range rows {
		recipients = append(recipients, Recipient{
			Source:         SourcePersonnel,
			SubscriptionID: row.ID,
			UserID:         row.UserID,
			UserName:       row.UserName,
			DepartmentID:   row.DepartmentID.Int64,
			Platform:       push.ParsePlatform(row.Platform.String),
			Target: push.Target{
				Endpoint:    row.Endpoint.String,
				P256dh:      row.P256dh.String,
				Auth:        row.Auth.String,
				DeviceToken: row.DeviceToken.String,
			},
		})
	}
	return recipients
}

func describeTarget(target TargetSpec) string {
	if len(target.IDs) == 0 {
		return string(target.Kind)
	}
	return fmt.Sprintf("%s:%v", target.Kind, target.IDs)
}
