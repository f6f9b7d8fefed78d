// Package middleware は運用APIで使用するGinミドルウェアを提供する。
//
// Bearerトークン（HS256署名のJWT）の発行と検証、ロールによる認可、
// パニックリカバリを含む。
package middleware
