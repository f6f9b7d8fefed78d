// Package server は通知配信の運用API（HTTP）を提供する。
//
// 通知の送信・参照・予約の編集と取消・再送、監査ログの検索と集計を
// JWT認証付きのGinルーターで公開する。書き込み系の操作には
// admin または dispatcher ロールが必要。
package server
