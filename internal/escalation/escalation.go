// Package escalation は応答が不十分なコールアウトを再通知するEscalation Monitorを提供する。
//
// 一定間隔（既定5分）で、作成から応答期限（既定15分）を過ぎたactiveなコールアウトを調べる。
//   - 応答が1件もない場合は必ずエスカレーションする
//   - 応答がある場合は、コールアウト作成時の通知の配信先ユーザーのうち
//     未応答の割合が半数を超えた場合のみエスカレーションする
//
// エスカレーションは未応答のユーザー（特定できない場合や購読がない場合は部署全体）に
// 緊急通知として送信し、同じコールアウトを再度エスカレーションしないよう記録する。
// 部署全体にも届かなかった場合は記録せず、次回に再度試みる。
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nao1215/alertpush/internal/audit"
	"github.com/nao1215/alertpush/internal/notification"
	"github.com/nao1215/alertpush/internal/notification/db"
	"github.com/nao1215/alertpush/internal/storage"
	"github.com/nao1215/alertpush/pkg/lease"
)

const (
	// DefaultInterval は既定のポーリング間隔。
	DefaultInterval = 5 * time.Minute
	// DefaultAckTimeout は既定の応答期限。
	DefaultAckTimeout = 15 * time.Minute
	// unackedThreshold を未応答の割合が超えた場合にエスカレーションする。
	unackedThreshold = 0.5

	titlePrefix = "[ESCALATION] "
	leaseKey    = "escalation"
	actor       = "escalation-monitor"
)

// ErrNoRecipients は部署全体に送信しても受信者がいなかった場合に返される。
// エスカレーションは記録されず、次回のTickで再度試みる。
var ErrNoRecipients = errors.New("エスカレーション先の受信者がいません")

// Sender は通知を送信する。*notification.Serviceが満たす。
type Sender interface {
	Send(ctx context.Context, req notification.SendRequest) (*notification.Record, error)
}

// Queries はコールアウトと応答状況の参照を行う。*db.Queriesが満たす。
type Queries interface {
	ListEscalationCandidates(ctx context.Context, createdAt time.Time) ([]db.ListEscalationCandidatesRow, error)
	ListAcknowledgedUserIDs(ctx context.Context, calloutID int64) ([]int64, error)
	ListDeliveryUserIDs(ctx context.Context, notificationID string) ([]int64, error)
	CreateEscalation(ctx context.Context, arg db.CreateEscalationParams) error
}

// AuditLogger は監査ログの書き込み先。
type AuditLogger interface {
	LogAction(ctx context.Context, e audit.Entry)
}

// Monitor は未応答のコールアウトを監視してエスカレーションする。
type Monitor struct {
	sender     Sender
	queries    Queries
	audit      AuditLogger
	interval   time.Duration
	ackTimeout time.Duration
	locker     lease.Locker
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option はMonitorの設定を変更する。
type Option func(*Monitor)

// WithInterval はポーリング間隔を変更する。
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithAckTimeout は応答期限を変更する。
func WithAckTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.ackTimeout = d
		}
	}
}

// WithLocker はインスタンス間の排他に使うLockerを設定する。
func WithLocker(l lease.Locker) Option {
	return func(m *Monitor) { m.locker = l }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New は新しいMonitorを生成する。
func New(sender Sender, queries Queries, auditLogger AuditLogger, opts ...Option) *Monitor {
	m := &Monitor{
		sender:     sender,
		queries:    queries,
		audit:      auditLogger,
		interval:   DefaultInterval,
		ackTimeout: DefaultAckTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start はバックグラウンドで監視を開始する。
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		log.Printf("[Escalation] 監視を開始します: interval=%s, timeout=%s", m.interval, m.ackTimeout)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[Escalation] 監視を停止しました")
				return
			case <-ticker.C:
				if _, err := m.Tick(ctx); err != nil && !storage.IsTransient(err) {
					log.Printf("[Escalation] 監視エラー: %v", err)
				}
			}
		}
	}(m.done)
}

// Stop は監視を停止し、処理中のTickが終わるまで待つ。
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick は期限切れのコールアウトを1回分処理し、エスカレーションした件数を返す。
// コールアウトごとに独立して処理し、1件の失敗で他のコールアウトを止めない。
func (m *Monitor) Tick(ctx context.Context) (int, error) {
	if m.locker != nil {
		unlock, ok, err := m.locker.TryLock(ctx, leaseKey, m.interval)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.Printf("[Escalation] ロックの解放に失敗: %v", err)
			}
		}()
	}

	cutoff := m.now().UTC().Add(-m.ackTimeout)
	candidates, err := m.queries.ListEscalationCandidates(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("エスカレーション候補の取得に失敗: %w", err)
	}

	escalated := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		ok, err := m.process(ctx, c)
		if err != nil {
			log.Printf("[Escalation] コールアウトの処理に失敗: callout=%d, err=%v", c.ID, err)
			m.audit.LogAction(ctx, audit.Meta{Actor: actor}.NewEntry(audit.ActionSystemError, c.NotificationID.String, map[string]any{
				"component":  "escalation",
				"callout_id": c.ID,
				"error":      err.Error(),
			}))
			continue
		}
		if ok {
			escalated++
		}
	}
	return escalated, nil
}

// decision はエスカレーションの判定結果。
type decision struct {
	escalate bool
	// targets は再通知する未応答ユーザー。空の場合は部署全体に送る。
	targets []int64
	// unacked は未応答数。
	unacked int
	// recipients は元の通知の配信先ユーザー数。不明な場合は0。
	recipients int
}

// process は1件のコールアウトを判定し、必要ならエスカレーションする。
// パニックもエラーとして回収する。
func (m *Monitor) process(ctx context.Context, c db.ListEscalationCandidatesRow) (escalated bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("パニックが発生: %v", r)
		}
	}()

	d, err := m.decide(ctx, c)
	if err != nil {
		return false, err
	}
	if !d.escalate {
		return false, nil
	}

	target := notification.TargetSpec{Kind: notification.TargetDepartment, IDs: []int64{c.DepartmentID}}
	if len(d.targets) > 0 {
		target = notification.TargetSpec{Kind: notification.TargetUser, IDs: d.targets}
	}

	rec, err := m.send(ctx, c, d, target)
	if err != nil {
		return false, err
	}
	if rec.TotalRecipients == 0 && target.Kind == notification.TargetUser {
		log.Printf("[Escalation] 未応答ユーザーに購読がないため部署全体に送信します: callout=%d, notification=%s", c.ID, rec.ID)
		target = notification.TargetSpec{Kind: notification.TargetDepartment, IDs: []int64{c.DepartmentID}}
		if rec, err = m.send(ctx, c, d, target); err != nil {
			return false, err
		}
	}
	if rec.TotalRecipients == 0 {
		// 記録を残さず、次回のTickで再度エスカレーションする
		return false, fmt.Errorf("%w: callout=%d, notification=%s", ErrNoRecipients, c.ID, rec.ID)
	}

	if err := m.queries.CreateEscalation(ctx, db.CreateEscalationParams{
		CalloutID:           c.ID,
		NotificationID:      rec.ID,
		UnacknowledgedCount: int64(d.unacked),
		EscalatedAt:         m.now().UTC(),
	}); err != nil {
		return false, fmt.Errorf("エスカレーション記録の保存に失敗: %w", err)
	}

	m.audit.LogAction(ctx, audit.Meta{Actor: actor}.NewEntry(audit.ActionEscalated, rec.ID, map[string]any{
		"callout_id":       c.ID,
		"target":           string(target.Kind),
		"unacknowledged":   d.unacked,
		"recipients":       d.recipients,
		"acknowledgements": c.AckCount,
		"total_recipients": rec.TotalRecipients,
		"successful":       rec.SuccessfulDeliveries,
	}))
	log.Printf("[Escalation] コールアウトをエスカレーションしました: callout=%d, notification=%s, target=%s, unacked=%d",
		c.ID, rec.ID, target.Kind, d.unacked)
	return true, nil
}

// send はエスカレーション通知を緊急通知として送信する。
func (m *Monitor) send(ctx context.Context, c db.ListEscalationCandidatesRow, d decision, target notification.TargetSpec) (*notification.Record, error) {
	payload := map[string]any{
		"callout_id":     c.ID,
		"escalation":     true,
		"unacknowledged": d.unacked,
	}
	if c.NotificationID.Valid {
		payload["original_notification_id"] = c.NotificationID.String
	}

	rec, err := m.sender.Send(ctx, notification.SendRequest{
		Type:        notification.TypePersonnelCallout,
		Category:    notification.CategoryEmergency,
		Title:       titlePrefix + c.Title,
		Message:     escalationMessage(c),
		Target:      target,
		Payload:     payload,
		IsEmergency: true,
		Meta:        audit.Meta{Actor: actor},
	})
	if err != nil {
		return nil, fmt.Errorf("エスカレーション通知の送信に失敗: %w", err)
	}
	return rec, nil
}

// decide はエスカレーションするかどうかと再通知先を決める。
func (m *Monitor) decide(ctx context.Context, c db.ListEscalationCandidatesRow) (decision, error) {
	var recipients []int64
	if c.NotificationID.Valid {
		var err error
		recipients, err = m.queries.ListDeliveryUserIDs(ctx, c.NotificationID.String)
		if err != nil {
			return decision{}, fmt.Errorf("配信先ユーザーの取得に失敗: %w", err)
		}
	}

	if c.AckCount == 0 {
		// 応答がなければ必ずエスカレーションする
		return decision{escalate: true, targets: recipients, unacked: len(recipients), recipients: len(recipients)}, nil
	}

	// 元の通知が分からなければ未応答の割合も分からないため見送る
	if len(recipients) == 0 {
		return decision{}, nil
	}

	acked, err := m.queries.ListAcknowledgedUserIDs(ctx, c.ID)
	if err != nil {
		return decision{}, fmt.Errorf("応答済みユーザーの取得に失敗: %w", err)
	}
	ackedSet := make(map[int64]struct{}, len(acked))
	for _, id := range acked {
		ackedSet[id] = struct{}{}
	}

	var unacked []int64
	for _, id := range recipients {
		if _, ok := ackedSet[id]; !ok {
			unacked = append(unacked, id)
		}
	}

	ratio := float64(len(unacked)) / float64(len(recipients))
	if ratio <= unackedThreshold {
		return decision{}, nil
	}
	return decision{escalate: true, targets: unacked, unacked: len(unacked), recipients: len(recipients)}, nil
}

func escalationMessage(c db.ListEscalationCandidatesRow) string {
	msg := c.Message
	if msg == "" {
		msg = c.Title
	}
	return fmt.Sprintf("応答がありません。至急確認してください: %s", msg)
}
