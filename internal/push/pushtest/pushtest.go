// Package pushtest はテスト用のDeliverer実装を提供する。
package pushtest

import (
	"context"
	"sync"

	"github.com/nao1215/alertpush/internal/push"
)

// Call はFakeが受け取った1回の配信。
type Call struct {
	Target  push.Target
	Message push.Message
}

// Fake は配信内容を記録し、宛先ごとに設定された結果を返すDeliverer。
// 宛先はEndpoint、空ならDeviceTokenで識別する。
type Fake struct {
	platform push.Platform

	mu       sync.Mutex
	calls    []Call
	outcomes map[string]error
}

var _ push.Deliverer = (*Fake)(nil)

// NewFake は指定プラットフォームのFakeを生成する。既定ではすべて成功する。
func NewFake(platform push.Platform) *Fake {
	return &Fake{platform: platform, outcomes: make(map[string]error)}
}

// FailFor は宛先keyへの配信でerrを返すように設定する。
func (f *Fake) FailFor(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[key] = err
}

// Platform は生成時に指定したプラットフォームを返す。
func (f *Fake) Platform() push.Platform { return f.platform }

// Deliver は呼び出しを記録し、設定された結果を返す。
func (f *Fake) Deliver(_ context.Context, target push.Target, msg push.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Target: target, Message: msg})
	return f.outcomes[key(target)]
}

// Calls は記録された呼び出しのコピーを返す。
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([]Call, len(f.calls))
	copy(calls, f.calls)
	return calls
}

// Keys は呼び出された宛先を記録順に返す。
func (f *Fake) Keys() []string {
	calls := f.Calls()
	keys := make([]string, len(calls))
	for i, c := range calls {
		keys[i] = key(c.Target)
	}
	return keys
}

func key(t push.Target) string {
	if t.Endpoint != "" {
		return t.Endpoint
	}
	return t.DeviceToken
}
