// Package audit は通知操作の監査ログを提供する。
//
// 送信・予約・取消・エスカレーションなどの操作を追記専用のテーブルに記録する。
// 書き込みはベストエフォートで、失敗してもログに出力するだけで呼び出し元には返さない。
// 監査ログの書き込み失敗によって通知の配信処理が止まることはない。
//
// 記録した監査ログは運用者向けのHTTP APIとauditctlコマンドからのみ参照される。
package audit
