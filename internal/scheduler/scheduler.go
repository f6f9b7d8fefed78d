// Package scheduler は予約送信の通知を定期的に送信するバックグラウンド処理を提供する。
//
// 一定間隔（既定1分）で送信時刻を過ぎたpendingの通知を探し、
// 即時送信と同じ経路で配信する。データベースの一時的なエラーは握りつぶし、
// 通知をpendingのまま残して次回に再試行する。
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/nao1215/alertpush/internal/audit"
	"github.com/nao1215/alertpush/internal/notification"
	"github.com/nao1215/alertpush/internal/storage"
	"github.com/nao1215/alertpush/pkg/lease"
)

// DefaultInterval は既定のポーリング間隔。
const DefaultInterval = time.Minute

// leaseKey は複数インスタンスで同時に処理しないためのロックキー。
const leaseKey = "scheduler"

// Dispatcher は予約通知の取得・送信・取り消しを行う。*notification.Serviceが満たす。
type Dispatcher interface {
	DueScheduled(ctx context.Context, now time.Time) ([]*notification.Record, error)
	DispatchScheduled(ctx context.Context, rec *notification.Record) (*notification.Record, error)
	CancelScheduled(ctx context.Context, id string) (*notification.Record, error)
}

// AuditLogger は監査ログの書き込み先。
type AuditLogger interface {
	LogAction(ctx context.Context, e audit.Entry)
}

// Scheduler は予約通知をポーリングして送信する。
type Scheduler struct {
	// dispatcher は予約通知の送信を行う。
	dispatcher Dispatcher
	// audit は監査ログの書き込み先。
	audit AuditLogger
	// interval はポーリング間隔。
	interval time.Duration
	// locker はnilでなければ、ロックを取得できたインスタンスだけが処理する。
	locker lease.Locker
	now    func() time.Time

	// mu はcancelとdoneを保護する。
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option はSchedulerの設定を変更する。
type Option func(*Scheduler)

// WithInterval はポーリング間隔を変更する。
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLocker はインスタンス間の排他に使うLockerを設定する。
func WithLocker(l lease.Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New は新しいSchedulerを生成する。
func New(dispatcher Dispatcher, auditLogger AuditLogger, opts ...Option) *Scheduler {
	s := &Scheduler{
		dispatcher: dispatcher,
		audit:      auditLogger,
		interval:   DefaultInterval,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start はバックグラウンドでポーリングを開始する。
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		log.Printf("[Scheduler] 予約通知のポーリングを開始します: interval=%s", s.interval)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[Scheduler] ポーリングを停止しました")
				return
			case <-ticker.C:
				if _, err := s.Tick(ctx); err != nil && !storage.IsTransient(err) {
					log.Printf("[Scheduler] ポーリングエラー: %v", err)
				}
			}
		}
	}(s.done)
}

// Stop はポーリングを停止し、処理中のTickが終わるまで待つ。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick は送信時刻を過ぎた予約通知を1回分処理し、処理した件数を返す。
// 1件の失敗で他の通知の処理は止めない。
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, leaseKey, s.interval)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.Printf("[Scheduler] ロックの解放に失敗: %v", err)
			}
		}()
	}

	due, err := s.dispatcher.DueScheduled(ctx, s.now())
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, rec := range due {
		if ctx.Err() != nil {
			break
		}
		sent, err := s.dispatcher.DispatchScheduled(ctx, rec)
		if err != nil {
			if storage.IsTransient(err) {
				continue
			}
			if errors.Is(err, notification.ErrNotDispatchable) {
				log.Printf("[Scheduler] 送信対象でなくなった予約通知を見送りました: id=%s", rec.ID)
				continue
			}
			log.Printf("[Scheduler] 予約通知の送信に失敗: id=%s, err=%v", rec.ID, err)
			s.audit.LogAction(ctx, audit.Meta{Actor: "scheduler"}.NewEntry(audit.ActionSystemError, rec.ID, map[string]any{
				"component": "scheduler",
				"error":     err.Error(),
			}))
			continue
		}
		processed++
		log.Printf("[Scheduler] 予約通知を処理しました: id=%s, status=%s, total=%d, success=%d, failed=%d",
			sent.ID, sent.Status, sent.TotalRecipients, sent.SuccessfulDeliveries, sent.FailedDeliveries)
	}
	return processed, nil
}

// Cancel は予約中の通知を取り消す。pendingかつ予約日時がある通知のみ取り消せる。
func (s *Scheduler) Cancel(ctx context.Context, id string, meta audit.Meta) (*notification.Record, error) {
	rec, err := s.dispatcher.CancelScheduled(ctx, id)
	if err != nil {
		return nil, err
	}
	s.audit.LogAction(ctx, meta.NewEntry(audit.ActionCancelled, rec.ID, map[string]any{
		"title": rec.Title,
	}))
	log.Printf("[Scheduler] 予約通知を取り消しました: id=%s", rec.ID)
	return rec, nil
}
