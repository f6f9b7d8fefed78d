package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ロール名。
const (
	// RoleAdmin は全操作を行える管理者。
	RoleAdmin = "admin"
	// RoleDispatcher は通知の送信・編集・取消を行う指令員。
	RoleDispatcher = "dispatcher"
	// RoleViewer は閲覧のみ行える。
	RoleViewer = "viewer"
)

// issuer はトークンの発行者。
const issuer = "alertpush"

// contextKeyIdentity はGinコンテキストに認証情報を格納するキー。
const contextKeyIdentity = "identity"

// Identity はトークンが表す操作者。
type Identity struct {
	// UserID は職員のユーザーID。システム連携用トークンでは0。
	UserID int64 `json:"user_id"`
	// Name は監査ログに記録する操作者名。
	Name string `json:"name"`
	// Email は操作者のメールアドレス。
	Email string `json:"email,omitempty"`
	// Role は操作者のロール。
	Role string `json:"role"`
}

// Actor は監査ログに記録する操作者名を返す。
func (i Identity) Actor() string {
	if i.Name != "" {
		return i.Name
	}
	if i.Email != "" {
		return i.Email
	}
	if i.UserID != 0 {
		return fmt.Sprintf("user:%d", i.UserID)
	}
	return "unknown"
}

// Claims はJWTトークンのクレーム。
type Claims struct {
	jwt.RegisteredClaims
	Identity
}

// GenerateJWT は操作者の情報から有効期間ttlのトークンを生成する。
func GenerateJWT(secret string, id Identity, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("JWTシークレットが空です")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   id.Actor(),
		},
		Identity: id,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseJWT はトークンを検証し、クレームを返す。HS256以外の署名は受け付けない。
func ParseJWT(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("トークンが無効です")
	}
	return claims, nil
}

// JWTAuth はBearerトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに操作者の情報を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims, err := ParseJWT(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set(contextKeyIdentity, claims.Identity)
		c.Next()
	}
}

// RequireRole は指定したロールのいずれかを持つ操作者だけを通すミドルウェアを返す。
// JWTAuthの後に適用する。
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "認証が必要です",
			})
			return
		}
		if !slices.Contains(roles, id.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "この操作を行う権限がありません",
			})
			return
		}
		c.Next()
	}
}

// GetIdentity はGinコンテキストから操作者の情報を取得する。
func GetIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// GetUserID はGinコンテキストから操作者のユーザーIDを取得する。未認証や連携用トークンでは0。
func GetUserID(c *gin.Context) int64 {
	id, _ := GetIdentity(c)
	return id.UserID
}
