package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/alertpush/internal/audit"
	"github.com/nao1215/alertpush/internal/notification"
	"github.com/nao1215/alertpush/pkg/middleware"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// defaultStatsWindow はstatsで期間の開始が省略された場合の集計期間。
const defaultStatsWindow = 7 * 24 * time.Hour

// NotificationService は通知の送信と参照を行う。*notification.Serviceが満たす。
type NotificationService interface {
	Send(ctx context.Context, req notification.SendRequest) (*notification.Record, error)
	Get(ctx context.Context, id string) (*notification.Record, error)
	Deliveries(ctx context.Context, id string) ([]notification.Delivery, error)
	EditScheduled(ctx context.Context, id string, req notification.EditRequest) (*notification.Record, error)
	Resend(ctx context.Context, id string, sentBy *int64, meta audit.Meta) (*notification.Record, error)
}

// Canceller は予約通知を取り消す。*scheduler.Schedulerが満たす。
type Canceller interface {
	Cancel(ctx context.Context, id string, meta audit.Meta) (*notification.Record, error)
}

// AuditStore は監査ログの記録と検索を行う。*audit.Loggerが満たす。
type AuditStore interface {
	LogAction(ctx context.Context, e audit.Entry)
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
	Count(ctx context.Context, f audit.Filter) (int64, error)
	Stats(ctx context.Context, from, to time.Time) ([]audit.Stat, error)
}

// Pinger はヘルスチェックでデータベースの疎通を確認する。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps はServerが利用するコンポーネント。
type Deps struct {
	DB            Pinger
	Notifications NotificationService
	Scheduler     Canceller
	Audit         AuditStore
}

// Server は運用APIのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// jwtSecret はBearerトークン検証用の秘密鍵。
	jwtSecret string
	deps      Deps
	now       func() time.Time
}

// NewServer は新しいServerを生成し、ルーティングを設定する。
func NewServer(port, jwtSecret string, deps Deps) *Server {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:    router,
		port:      port,
		jwtSecret: jwtSecret,
		deps:      deps,
		now:       time.Now,
	}
	s.setupRoutes()
	return s
}

// Handler はルーターをhttp.Handlerとして返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルにシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		log.Println("[Server] シャットダウンします")
		return srv.Shutdown(shutdownCtx)
	}
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	writer := middleware.RequireRole(middleware.RoleAdmin, middleware.RoleDispatcher)

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		notifications := api.Group("/notifications")
		{
			notifications.POST("", writer, s.handleSend())
			notifications.GET("/:id", s.handleGet())
			notifications.PUT("/:id", writer, s.handleEdit())
			notifications.POST("/:id/cancel", writer, s.handleCancel())
			notifications.POST("/:id/resend", writer, s.handleResend())
		}

		auditLogs := api.Group("/audit")
		{
			auditLogs.GET("", s.handleAuditList())
			auditLogs.GET("/stats", s.handleAuditStats())
		}
	}

	s.router.GET("/health", s.handleHealth())
}

// requestMeta はリクエストから監査ログ用の情報を取り出す。
func requestMeta(c *gin.Context) audit.Meta {
	id, _ := middleware.GetIdentity(c)
	return audit.Meta{
		Actor:     id.Actor(),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// senderID は操作者のユーザーIDを返す。連携用トークンではnil（システム送信）。
func senderID(c *gin.Context) *int64 {
	id := middleware.GetUserID(c)
	if id == 0 {
		return nil
	}
	return &id
}

// writeError はサービスのエラーをHTTPステータスに対応づけて返す。
func writeError(c *gin.Context, err error, fallback string) {
	var verr *notification.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, notification.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, notification.ErrNotCancellable),
		errors.Is(err, notification.ErrNotEditable),
		errors.Is(err, notification.ErrNotResendable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("[Server] %s: %v", fallback, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.PingContext(ctx); err != nil {
			log.Printf("[Server] ヘルスチェックでDB疎通に失敗: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "alertpush"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "alertpush"})
	}
}

// parseTimeQuery はRFC3339形式のクエリパラメータを読み取る。未指定ならnil。
func parseTimeQuery(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%sはRFC3339形式で指定してください", key)
	}
	return &t, nil
}

// parseIntQuery は0以上の整数のクエリパラメータを読み取る。未指定なら0。
func parseIntQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%sは0以上の整数で指定してください", key)
	}
	return n, nil
}
