package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/alertpush/internal/audit"
	"github.com/nao1215/alertpush/internal/notification/db"
	"github.com/nao1215/alertpush/internal/push"
	"github.com/nao1215/alertpush/internal/storage"
	"github.com/nao1215/alertpush/pkg/envelope"
)

// ErrNotResendable は予約中や取り消し済みの通知を再送しようとした場合に返される。
var ErrNotResendable = errors.New("送信済みまたは失敗した通知のみ再送できます")

// subscriptionExpired は購読の失効による配信失敗の記録内容。
const subscriptionExpired = "subscription expired"

// outcomeNotRecorded は配信結果を書き込めなかった配信試行の記録内容。
const outcomeNotRecorded = "delivery outcome not recorded"

// Pusher はプラットフォームを指定して1件の配信を行う。*push.Registryが満たす。
type Pusher interface {
	Deliver(ctx context.Context, platform push.Platform, target push.Target, msg push.Message) error
}

// AuditLogger は監査ログの書き込み先。*audit.Loggerが満たす。
type AuditLogger interface {
	LogAction(ctx context.Context, e audit.Entry)
}

// Config はDispatch Serviceの設定。
type Config struct {
	// TestMode が有効な場合、すべての送信をテスト送信として扱う。
	TestMode bool
	// MaxConcurrentDeliveries は1回の送信で同時に行う配信数の上限。
	MaxConcurrentDeliveries int
	// IconURL は通知アイコンのURL。
	IconURL string
	// BadgeURL はバッジ画像のURL。
	BadgeURL string
	// AppURL は通知タップ時に開くURL。
	AppURL string
	// MessageTTL はプロバイダ側で配信を保持する期間。
	MessageTTL time.Duration
}

// DefaultConfig は既定の設定を返す。
func DefaultConfig() Config {
	return Config{
		MaxConcurrentDeliveries: 50,
		IconURL:                 "/icons/icon-192x192.png",
		BadgeURL:                "/icons/badge-72x72.png",
		AppURL:                  "/",
		MessageTTL:              24 * time.Hour,
	}
}

// Service は通知の記録・受信者解決・並行配信・集計を行う。
type Service struct {
	queries  *db.Queries
	resolver *Resolver
	pusher   Pusher
	audit    AuditLogger
	cfg      Config
	now      func() time.Time
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService は新しいServiceを生成する。
func NewService(conn db.DBTX, pusher Pusher, auditLogger AuditLogger, cfg Config, opts ...Option) *Service {
	if cfg.MaxConcurrentDeliveries <= 0 {
		cfg.MaxConcurrentDeliveries = DefaultConfig().MaxConcurrentDeliveries
	}
	queries := db.New(conn)
	s := &Service{
		queries:  queries,
		resolver: NewResolver(queries),
		pusher:   pusher,
		audit:    auditLogger,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Send は通知を記録し、即時送信の場合は受信者の解決と配信まで同期的に行う。
//
// 通知ログは入力不備の場合も含めて必ず保存される。入力不備の場合はfailedで保存した上で
// *ValidationErrorを返す。未来の予約日時が指定された場合はpendingのまま返す。
// 受信者が0件の場合はエラーではなく、failedの通知ログを返す。
func (s *Service) Send(ctx context.Context, req SendRequest) (*Record, error) {
	now := s.clock()
	rec := &Record{
		ID:          uuid.New().String(),
		Type:        req.Type,
		Category:    req.Category,
		Title:       req.Title,
		Body:        req.Message,
		Target:      req.Target,
		Payload:     req.Payload,
		SentBy:      req.SentBy,
		IsTestMode:  req.IsTestMode || s.cfg.TestMode,
		IsEmergency: req.IsEmergency,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.ScheduledFor != nil {
		t := req.ScheduledFor.UTC()
		rec.ScheduledFor = &t
	}

	if verr := req.validate(); verr != nil {
		rec.Status = StatusFailed
		rec.ErrorMessage = verr.Error()
		rec.FailedAt = &now
		if err := s.insert(ctx, rec); err != nil {
			return nil, err
		}
		s.logAction(ctx, req.Meta, audit.ActionSystemError, rec, map[string]any{"reason": verr.Error()})
		return rec, verr
	}

	if err := s.insert(ctx, rec); err != nil {
		return nil, err
	}

	if rec.ScheduledFor != nil && rec.ScheduledFor.After(now) {
		s.logAction(ctx, req.Meta, audit.ActionScheduled, rec, map[string]any{
			"title":         rec.Title,
			"scheduled_for": rec.ScheduledFor.Format(time.RFC3339),
		})
		return rec, nil
	}

	if err := s.dispatch(ctx, rec, req.Meta); err != nil {
		if rec.Status == StatusPending {
			if ferr := s.markFailed(ctx, rec, 0, err.Error()); ferr != nil {
				log.Printf("[Dispatch] 失敗状態の記録に失敗: id=%s, err=%v", rec.ID, ferr)
			}
		}
		return rec, err
	}
	return rec, nil
}

// DispatchScheduled は送信時刻を過ぎた予約通知を送信する。
//
// 送信前に予約日時を外して通知を確保し、確保後の内容を読み直して送信する。
// 一覧の取得後に取り消しや他のインスタンスの確保で送信対象でなくなった通知はErrNotDispatchableを返す。
// 一時的なストレージエラーの場合は予約日時を戻してpendingのまま残し、次回の処理に回す。
func (s *Service) DispatchScheduled(ctx context.Context, rec *Record) (*Record, error) {
	n, err := s.queries.ClaimScheduledNotification(ctx, db.ClaimScheduledNotificationParams{
		UpdatedAt: s.clock(),
		ID:        rec.ID,
	})
	if err != nil {
		return rec, fmt.Errorf("予約通知の確保に失敗: %w", err)
	}
	if n == 0 {
		return rec, ErrNotDispatchable
	}

	claimed, err := s.Get(ctx, rec.ID)
	if err != nil {
		s.release(ctx, rec.ID, rec.ScheduledFor)
		return rec, err
	}

	err = s.dispatch(ctx, claimed, audit.Meta{Actor: "scheduler"})
	if err == nil {
		return claimed, nil
	}
	if storage.IsTransient(err) && claimed.Status == StatusPending {
		s.release(ctx, rec.ID, rec.ScheduledFor)
		return claimed, err
	}
	if claimed.Status == StatusPending {
		if ferr := s.markFailed(ctx, claimed, 0, err.Error()); ferr != nil {
			log.Printf("[Dispatch] 失敗状態の記録に失敗: id=%s, err=%v", claimed.ID, ferr)
		}
	}
	return claimed, err
}

// release は確保した予約通知に予約日時を戻し、次回のSchedulerの処理対象にする。
func (s *Service) release(ctx context.Context, id string, scheduledFor *time.Time) {
	if err := s.queries.ReleaseScheduledNotification(context.WithoutCancel(ctx), db.ReleaseScheduledNotificationParams{
		ScheduledFor: nullTime(scheduledFor),
		UpdatedAt:    s.clock(),
		ID:           id,
	}); err != nil {
		log.Printf("[Dispatch] 予約通知の確保の解除に失敗: id=%s, err=%v", id, err)
	}
}

// dispatch は受信者を解決して配信し、結果を通知ログに書き込む。
// 受信者解決でエラーになった場合は通知ログを変更せずにエラーを返す。
func (s *Service) dispatch(ctx context.Context, rec *Record, meta audit.Meta) error {
	recipients, reason, err := s.resolver.Resolve(ctx, rec.Target)
	if err != nil {
		return fmt.Errorf("受信者の解決に失敗: %w", err)
	}

	action := audit.ActionSent
	excluded := 0
	if rec.IsTestMode {
		action = audit.ActionTest
		recipients, excluded = withoutAnonymous(recipients)
		if len(recipients) == 0 && reason == "" {
			reason = "テスト送信のため一般購読者を除外した結果、受信者がいません"
		}
	}

	if len(recipients) == 0 {
		if err := s.markFailed(ctx, rec, 0, reason); err != nil {
			return err
		}
		log.Printf("[Dispatch] 受信者がいないため送信しませんでした: id=%s, reason=%s", rec.ID, reason)
		s.logAction(ctx, meta, action, rec, map[string]any{
			"status": string(StatusFailed),
			"reason": reason,
		})
		return nil
	}

	successful, failed := s.sendToRecipients(ctx, rec, recipients)
	successful, failed = s.reconcile(ctx, rec.ID, len(recipients), successful, failed)
	if err := s.markSent(ctx, rec, len(recipients), successful, failed); err != nil {
		return err
	}

	details := map[string]any{
		"title":                 rec.Title,
		"sender":                rec.SenderName(),
		"total_recipients":      len(recipients),
		"successful_deliveries": successful,
		"failed_deliveries":     failed,
	}
	if rec.IsTestMode {
		details["excluded_anonymous"] = excluded
	}
	s.logAction(ctx, meta, action, rec, details)
	return nil
}

// withoutAnonymous はユーザーに紐づかない受信者を除外し、除外件数とともに返す。
func withoutAnonymous(recipients []Recipient) ([]Recipient, int) {
	kept := make([]Recipient, 0, len(recipients))
	for _, r := range recipients {
		if r.HasUser() {
			kept = append(kept, r)
		}
	}
	return kept, len(recipients) - len(kept)
}

// sendToRecipients は全受信者へ並行に配信し、成功数と失敗数を返す。
// 個々の失敗は他の配信を止めず、全ての配信が終わるまで待つ。
// 呼び出し元のキャンセルで一括処理が途中で止まらないよう、キャンセルを切り離して配信する。
func (s *Service) sendToRecipients(ctx context.Context, rec *Record, recipients []Recipient) (int, int) {
	ctx = context.WithoutCancel(ctx)
	msg := s.buildMessage(rec)

	results := make([]error, len(recipients))
	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrentDeliveries)
	for i, r := range recipients {
		g.Go(func() error {
			results[i] = s.sendToRecipient(ctx, rec.ID, r, msg)
			return nil
		})
	}
	_ = g.Wait()

	var successful, failed int
	for _, err := range results {
		if err != nil {
			failed++
			continue
		}
		successful++
	}
	return successful, failed
}

// reconcile は全配信の完了後に配信試行の記録から成功数と失敗数を数え直す。
//
// 結果を書き込めずpendingのまま残った配信試行はfailedにする。配信試行を記録できなかった受信者は
// 失敗として数える。配信試行を集計できない場合は配信時の集計をそのまま使う。
func (s *Service) reconcile(ctx context.Context, notificationID string, total, successful, failed int) (int, int) {
	ctx = context.WithoutCancel(ctx)
	if err := s.queries.FailPendingDeliveries(ctx, db.FailPendingDeliveriesParams{
		ErrorMessage:   outcomeNotRecorded,
		FailedAt:       validTime(s.clock()),
		NotificationID: notificationID,
	}); err != nil {
		log.Printf("[Dispatch] 未確定の配信試行の更新に失敗: id=%s, err=%v", notificationID, err)
		return successful, failed
	}
	rows, err := s.queries.CountDeliveriesByStatus(ctx, notificationID)
	if err != nil {
		log.Printf("[Dispatch] 配信試行の集計に失敗: id=%s, err=%v", notificationID, err)
		return successful, failed
	}

	delivered := 0
	for _, row := range rows {
		if row.Status == string(DeliveryDelivered) {
			delivered = int(row.Count)
		}
	}
	if delivered != successful {
		log.Printf("[Dispatch] 配信試行の記録と集計が一致しません: id=%s, delivered=%d, counted=%d",
			notificationID, delivered, successful)
	}
	return delivered, total - delivered
}

// sendToRecipient は配信試行を記録してから1件の配信を行う。
// 配信に失敗した場合は配信試行にその内容を記録し、エラーを返す。
func (s *Service) sendToRecipient(ctx context.Context, notificationID string, r Recipient, msg push.Message) error {
	deliveryID := uuid.New().String()
	var userID sql.NullInt64
	if r.HasUser() {
		userID = sql.NullInt64{Int64: r.UserID, Valid: true}
	}
	if err := s.queries.CreateDelivery(ctx, db.CreateDeliveryParams{
		ID:                 deliveryID,
		NotificationID:     notificationID,
		UserID:             userID,
		SubscriptionSource: string(r.Source),
		SubscriptionID:     r.SubscriptionID,
		Endpoint:           r.address(),
		Platform:           string(r.Platform),
		CreatedAt:          s.clock(),
	}); err != nil {
		return fmt.Errorf("配信試行の記録に失敗: %w", err)
	}

	deliverErr := s.pusher.Deliver(ctx, r.Platform, r.Target, msg)
	if deliverErr == nil {
		if err := s.queries.MarkDeliveryDelivered(ctx, db.MarkDeliveryDeliveredParams{
			DeliveredAt: validTime(s.clock()),
			ID:          deliveryID,
		}); err != nil {
			log.Printf("[Dispatch] 配信成功の記録に失敗: delivery=%s, err=%v", deliveryID, err)
		}
		return nil
	}

	errorMessage := deliverErr.Error()
	var retryIncrement int64
	switch {
	case errors.Is(deliverErr, push.ErrSubscriptionGone):
		errorMessage = subscriptionExpired
		s.pruneSubscription(ctx, r)
	case errors.Is(deliverErr, push.ErrNotConfigured):
		// 設定を直すまで再送しても失敗するため、再送回数には数えない
	default:
		retryIncrement = 1
	}

	if err := s.queries.MarkDeliveryFailed(ctx, db.MarkDeliveryFailedParams{
		ErrorMessage: errorMessage,
		RetryCount:   retryIncrement,
		FailedAt:     validTime(s.clock()),
		ID:           deliveryID,
	}); err != nil {
		log.Printf("[Dispatch] 配信失敗の記録に失敗: delivery=%s, err=%v", deliveryID, err)
	}
	return fmt.Errorf("%sへの配信に失敗: %w", r.Platform, deliverErr)
}

// pruneSubscription は失効した購読を削除し、以後の送信で対象にしないようにする。
func (s *Service) pruneSubscription(ctx context.Context, r Recipient) {
	var err error
	switch r.Source {
	case SourcePublic:
		err = s.queries.DeletePublicSubscription(ctx, r.SubscriptionID)
	case SourcePersonnel:
		err = s.queries.DeletePersonnelSubscription(ctx, r.SubscriptionID)
	}
	if err != nil {
		log.Printf("[Dispatch] 失効した購読の削除に失敗: source=%s, id=%d, err=%v", r.Source, r.SubscriptionID, err)
		return
	}
	log.Printf("[Dispatch] 失効した購読を削除しました: source=%s, id=%d", r.Source, r.SubscriptionID)
}

// Get は通知ログを取得する。
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	row, err := s.queries.GetNotification(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return toRecord(row)
}

// Deliveries は通知の配信試行を作成順に返す。
func (s *Service) Deliveries(ctx context.Context, id string) ([]Delivery, error) {
	rows, err := s.queries.ListDeliveries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("配信試行の取得に失敗: %w", err)
	}
	deliveries := make([]Delivery, 0, len(rows))
	for _, row := range rows {
		deliveries = append(deliveries, toDelivery(row))
	}
	return deliveries, nil
}

// DueScheduled はnow時点で送信時刻を過ぎた予約通知を返す。
func (s *Service) DueScheduled(ctx context.Context, now time.Time) ([]*Record, error) {
	rows, err := s.queries.ListDueScheduledNotifications(ctx, validTime(now.UTC()))
	if err != nil {
		return nil, fmt.Errorf("予約通知の取得に失敗: %w", err)
	}
	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec, err := toRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// CancelScheduled は予約中の通知を取り消す。
// pendingかつ予約日時がある通知以外はErrNotCancellableを返す。
func (s *Service) CancelScheduled(ctx context.Context, id string) (*Record, error) {
	now := s.clock()
	n, err := s.queries.CancelScheduledNotification(ctx, db.CancelScheduledNotificationParams{
		CancelledAt: validTime(now),
		UpdatedAt:   now,
		ID:          id,
	})
	if err != nil {
		return nil, fmt.Errorf("通知の取り消しに失敗: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotCancellable
	}
	return s.Get(ctx, id)
}

// EditScheduled は予約中の通知のタイトル・本文・区分・予約日時を変更する。
func (s *Service) EditScheduled(ctx context.Context, id string, req EditRequest) (*Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsScheduled() {
		return nil, ErrNotEditable
	}

	var changed []string
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return nil, &ValidationError{Field: "title", Reason: "必須です"}
		}
		rec.Title = *req.Title
		changed = append(changed, "title")
	}
	if req.Message != nil {
		if strings.TrimSpace(*req.Message) == "" {
			return nil, &ValidationError{Field: "message", Reason: "必須です"}
		}
		rec.Body = *req.Message
		changed = append(changed, "message")
	}
	if req.Category != nil {
		if !req.Category.Valid() {
			return nil, &ValidationError{Field: "category", Reason: fmt.Sprintf("未定義の区分です: %q", *req.Category)}
		}
		rec.Category = *req.Category
		changed = append(changed, "category")
	}
	if req.ScheduledFor != nil {
		if !req.ScheduledFor.After(s.clock()) {
			return nil, &ValidationError{Field: "scheduled_for", Reason: "未来の日時を指定してください"}
		}
		t := req.ScheduledFor.UTC()
		rec.ScheduledFor = &t
		changed = append(changed, "scheduled_for")
	}

	n, err := s.queries.UpdateScheduledNotification(ctx, db.UpdateScheduledNotificationParams{
		Title:        rec.Title,
		Body:         rec.Body,
		Category:     string(rec.Category),
		ScheduledFor: nullTime(rec.ScheduledFor),
		UpdatedAt:    s.clock(),
		ID:           id,
	})
	if err != nil {
		return nil, fmt.Errorf("予約通知の更新に失敗: %w", err)
	}
	if n == 0 {
		// 読み込み後にSchedulerが送信したか、取り消された
		return nil, ErrNotEditable
	}

	s.logAction(ctx, req.Meta, audit.ActionEdited, rec, map[string]any{"changed": changed})
	return s.Get(ctx, id)
}

// Resend は送信済みまたは失敗した通知と同じ内容・宛先で、新しい通知として送信し直す。
// 配信の失敗はその場で再試行せず、この操作による別の送信として扱う。
func (s *Service) Resend(ctx context.Context, id string, sentBy *int64, meta audit.Meta) (*Record, error) {
	orig, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Status != StatusSent && orig.Status != StatusFailed {
		return nil, ErrNotResendable
	}

	payload := make(map[string]any, len(orig.Payload)+1)
	for k, v := range orig.Payload {
		payload[k] = v
	}
	payload["resend_of"] = orig.ID

	rec, err := s.Send(ctx, SendRequest{
		Type:        orig.Type,
		Category:    orig.Category,
		Title:       orig.Title,
		Message:     orig.Body,
		Target:      orig.Target,
		SentBy:      sentBy,
		Payload:     payload,
		IsEmergency: orig.IsEmergency,
		IsTestMode:  orig.IsTestMode,
		Meta:        meta,
	})
	if rec != nil {
		s.logAction(ctx, meta, audit.ActionRetry, rec, map[string]any{"original_id": orig.ID})
	}
	return rec, err
}

func (s *Service) insert(ctx context.Context, rec *Record) error {
	targetIDs, err := envelope.Encode(rec.Target.IDs)
	if err != nil {
		return err
	}
	payload, err := envelope.Encode(rec.Payload)
	if err != nil {
		return err
	}
	if err := s.queries.CreateNotification(ctx, db.CreateNotificationParams{
		ID:           rec.ID,
		Type:         string(rec.Type),
		Category:     string(rec.Category),
		Title:        rec.Title,
		Body:         rec.Body,
		TargetKind:   string(rec.Target.Kind),
		TargetIds:    targetIDs,
		Payload:      payload,
		SentBy:       nullInt64(rec.SentBy),
		IsTestMode:   rec.IsTestMode,
		IsEmergency:  rec.IsEmergency,
		ScheduledFor: nullTime(rec.ScheduledFor),
		Status:       string(rec.Status),
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("通知ログの保存に失敗: %w", err)
	}
	return nil
}

// markSent は全配信の完了後に集計値を書き込む。
func (s *Service) markSent(ctx context.Context, rec *Record, total, successful, failed int) error {
	now := s.clock()
	n, err := s.queries.MarkNotificationSent(ctx, db.MarkNotificationSentParams{
		TotalRecipients:      int64(total),
		SuccessfulDeliveries: int64(successful),
		FailedDeliveries:     int64(failed),
		SentAt:               validTime(now),
		UpdatedAt:            now,
		ID:                   rec.ID,
	})
	if err != nil {
		return fmt.Errorf("送信結果の保存に失敗: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("送信結果の保存に失敗: id=%s: %w", rec.ID, ErrNotPending)
	}
	rec.Status = StatusSent
	rec.TotalRecipients = total
	rec.SuccessfulDeliveries = successful
	rec.FailedDeliveries = failed
	rec.ScheduledFor = nil
	rec.SentAt = &now
	rec.UpdatedAt = now
	return nil
}

func (s *Service) markFailed(ctx context.Context, rec *Record, total int, reason string) error {
	now := s.clock()
	n, err := s.queries.MarkNotificationFailed(ctx, db.MarkNotificationFailedParams{
		TotalRecipients: int64(total),
		ErrorMessage:    reason,
		FailedAt:        validTime(now),
		UpdatedAt:       now,
		ID:              rec.ID,
	})
	if err != nil {
		return fmt.Errorf("失敗状態の保存に失敗: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("失敗状態の保存に失敗: id=%s: %w", rec.ID, ErrNotPending)
	}
	rec.Status = StatusFailed
	rec.TotalRecipients = total
	rec.ErrorMessage = reason
	rec.ScheduledFor = nil
	rec.FailedAt = &now
	rec.UpdatedAt = now
	return nil
}

func (s *Service) logAction(ctx context.Context, meta audit.Meta, action audit.Action, rec *Record, details map[string]any) {
	if s.audit == nil {
		return
	}
	if meta.Actor == "" {
		meta.Actor = rec.SenderName()
	}
	s.audit.LogAction(ctx, meta.NewEntry(action, rec.ID, details))
}
