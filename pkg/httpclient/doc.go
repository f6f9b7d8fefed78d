// Package httpclient はalertpushの運用APIを呼び出すHTTPクライアントを提供する。
//
// Bearerトークンの付与、クエリパラメータの組み立て、JSONレスポンスの
// デシリアライズ、エラーレスポンスの解釈を共通化する。
package httpclient
