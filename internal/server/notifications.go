package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/alertpush/internal/audit"
	"github.com/nao1215/alertpush/internal/notification"
)

// sendRequest は通知送信リクエストのJSON構造。
// 入力の検証は通知サービスが行い、不備があっても通知ログはfailedとして残る。
type sendRequest struct {
	Type     string `json:"type"`
	Category string `json:"category"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Target   struct {
		Kind string  `json:"kind"`
		IDs  []int64 `json:"ids"`
	} `json:"target"`
	Payload     map[string]any `json:"payload"`
	IsEmergency bool           `json:"is_emergency"`
	IsTestMode  bool           `json:"is_test_mode"`
	// ScheduledFor はRFC3339形式の予約日時。
	ScheduledFor *time.Time `json:"scheduled_for"`
}

// editRequest は予約通知の編集リクエスト。省略した項目は変更しない。
type editRequest struct {
	Title        *string    `json:"title"`
	Message      *string    `json:"message"`
	Category     *string    `json:"category"`
	ScheduledFor *time.Time `json:"scheduled_for"`
}

// handleSend は通知を送信（または予約）するハンドラ。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		rec, err := s.deps.Notifications.Send(c.Request.Context(), notification.SendRequest{
			Type:         notification.Type(req.Type),
			Category:     notification.Category(req.Category),
			Title:        req.Title,
			Message:      req.Message,
			Target:       notification.TargetSpec{Kind: notification.TargetKind(req.Target.Kind), IDs: req.Target.IDs},
			SentBy:       senderID(c),
			Payload:      req.Payload,
			IsEmergency:  req.IsEmergency,
			IsTestMode:   req.IsTestMode,
			ScheduledFor: req.ScheduledFor,
			Meta:         requestMeta(c),
		})
		if err != nil {
			var verr *notification.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field, "notification": rec})
				return
			}
			if rec != nil {
				// 通知ログはfailedとして保存済み
				c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の送信に失敗しました", "notification": rec})
				return
			}
			writeError(c, err, "通知の送信に失敗しました")
			return
		}

		c.JSON(http.StatusCreated, rec)
	}
}

// handleGet は通知と配信試行を返すハンドラ。参照は監査ログに記録する。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		rec, err := s.deps.Notifications.Get(ctx, c.Param("id"))
		if err != nil {
			writeError(c, err, "通知の取得に失敗しました")
			return
		}
		deliveries, err := s.deps.Notifications.Deliveries(ctx, rec.ID)
		if err != nil {
			writeError(c, err, "配信試行の取得に失敗しました")
			return
		}

		s.deps.Audit.LogAction(ctx, requestMeta(c).NewEntry(audit.ActionViewed, rec.ID, nil))
		c.JSON(http.StatusOK, gin.H{
			"notification": rec,
			"sender":       rec.SenderName(),
			"deliveries":   deliveries,
		})
	}
}

// handleEdit は予約中の通知を編集するハンドラ。
func (s *Server) handleEdit() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req editRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		edit := notification.EditRequest{
			Title:        req.Title,
			Message:      req.Message,
			ScheduledFor: req.ScheduledFor,
			Meta:         requestMeta(c),
		}
		if req.Category != nil {
			category := notification.Category(*req.Category)
			edit.Category = &category
		}

		rec, err := s.deps.Notifications.EditScheduled(c.Request.Context(), c.Param("id"), edit)
		if err != nil {
			writeError(c, err, "予約通知の編集に失敗しました")
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// handleCancel は予約中の通知を取り消すハンドラ。
func (s *Server) handleCancel() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := s.deps.Scheduler.Cancel(c.Request.Context(), c.Param("id"), requestMeta(c))
		if err != nil {
			writeError(c, err, "予約通知の取り消しに失敗しました")
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// handleResend は送信済みまたは失敗した通知を新しい通知として送り直すハンドラ。
func (s *Server) handleResend() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := s.deps.Notifications.Resend(c.Request.Context(), c.Param("id"), senderID(c), requestMeta(c))
		if err != nil {
			if rec != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の再送に失敗しました", "notification": rec})
				return
			}
			writeError(c, err, "通知の再送に失敗しました")
			return
		}
		c.JSON(http.StatusCreated, rec)
	}
}
