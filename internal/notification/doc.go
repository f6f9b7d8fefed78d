// Package notification は通知配信の中核となるDispatch Serviceを提供する。
//
// 1件の論理的な通知を記録し、宛先指定から受信者（購読）を解決して、
// プラットフォームごとのプッシュ配信を並行に行い、結果を集計する。
// 予約送信の記録はSchedulerが、未応答コールアウトの再通知は
// Escalation Monitorが、同じ配信経路を通じて処理する。
//
// 送信の流れ:
//  1. 通知ログ（notification_logs）をpendingで保存する
//  2. 宛先指定から受信者を解決する
//  3. 受信者ごとに配信試行（notification_deliveries）を作成してから送信する
//  4. 全ての配信が終わった後に集計値を書き込み、sentにする
//
// 個々の配信の失敗は配信試行に記録され、他の受信者への配信を止めない。
// sentは一括処理が完了したことを表し、全員に届いたことは意味しない。
package notification
