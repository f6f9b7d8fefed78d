// Package push はプラットフォームごとのプッシュ配信を提供する。
//
// Web Push（VAPID）、Android（FCM）、iOS（APNs）の3種類の配信を
// 共通のDelivererインターフェースで扱う。配信側のファンアウト処理は
// プラットフォームを意識せず、Registryに登録された実装へ委譲する。
package push
