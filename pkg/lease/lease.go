// Package lease はバックグラウンド処理の多重実行を防ぐための期限付きロックを提供する。
//
// 複数インスタンスで同じタイマー処理を動かす場合はRedisを、
// 単一プロセスの場合はLocalを使う。ロックは期限付きで、保持したまま
// プロセスが落ちても期限切れで自動的に解放される。
package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotHeld は自分が保持していないロックを解放しようとした場合に返される。
var ErrNotHeld = errors.New("ロックを保持していません")

// Locker は期限付きロックの取得を行う。
type Locker interface {
	// TryLock はkeyのロックを待たずに取得する。取得できなかった場合はfalseを返す。
	// 取得できた場合は解放用の関数を返す。
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, bool, error)
}

// Unlock は取得したロックを解放する。
type Unlock func(ctx context.Context) error

// Local はプロセス内で完結するLocker。
type Local struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

// NewLocal は新しいLocalを生成する。
func NewLocal() *Local {
	return &Local{held: make(map[string]localEntry), now: time.Now}
}

// TryLock はkeyのロックを取得する。期限切れのロックは取得済みとみなさない。
func (l *Local) TryLock(_ context.Context, key string, ttl time.Duration) (Unlock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, false, nil
	}

	token := uuid.New().String()
	l.held[key] = localEntry{token: token, expires: now.Add(ttl)}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if e, ok := l.held[key]; !ok || e.token != token {
			return ErrNotHeld
		}
		delete(l.held, key)
		return nil
	}, true, nil
}
