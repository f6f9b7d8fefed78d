package notification

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound は指定IDの通知が存在しない場合に返される。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrNotCancellable は予約中（pendingかつ予約日時あり）でない通知を取り消そうとした場合に返される。
	ErrNotCancellable = errors.New("予約中の通知ではないため取り消せません")
	// ErrNotEditable は予約中でない通知を編集しようとした場合に返される。
	ErrNotEditable = errors.New("予約中の通知ではないため編集できません")
	// ErrNotDispatchable は取り消しや他のインスタンスによる送信で、予約通知が送信対象でなくなった場合に返される。
	ErrNotDispatchable = errors.New("予約中の通知ではないため送信しません")
	// ErrNotPending は送信結果を書き込む前に通知がpendingでなくなった場合に返される。
	ErrNotPending = errors.New("pendingではない通知に送信結果は書き込めません")
)

// ValidationError は送信リクエストの入力不備。
// 通知ログはfailedとして保存された上で、このエラーが返される。
type ValidationError struct {
	// Field は不備のある項目名。
	Field string
	// Reason は不備の内容。
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("入力が不正です: %s: %s", e.Field, e.Reason)
}
