package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/alertpush/internal/audit"
)

// handleAuditList は監査ログを新しい順に返すハンドラ。
// クエリ: action, actor, notification_id, since, until, limit, offset
func (s *Server) handleAuditList() gin.HandlerFunc {
	return func(c *gin.Context) {
		f := audit.Filter{
			Action:         audit.Action(c.Query("action")),
			Actor:          c.Query("actor"),
			NotificationID: c.Query("notification_id"),
		}
		if f.Action != "" && !f.Action.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "未定義の操作種別です: " + string(f.Action)})
			return
		}

		var err error
		if f.Since, err = parseTimeQuery(c, "since"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if f.Until, err = parseTimeQuery(c, "until"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if f.Limit, err = parseIntQuery(c, "limit"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if f.Offset, err = parseIntQuery(c, "offset"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if f.Limit == 0 {
			f.Limit = audit.DefaultLimit
		}
		f.Limit = min(f.Limit, audit.MaxLimit)

		ctx := c.Request.Context()
		logs, err := s.deps.Audit.Query(ctx, f)
		if err != nil {
			writeError(c, err, "監査ログの取得に失敗しました")
			return
		}
		total, err := s.deps.Audit.Count(ctx, f)
		if err != nil {
			writeError(c, err, "監査ログの件数取得に失敗しました")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"logs":   logs,
			"total":  total,
			"limit":  f.Limit,
			"offset": f.Offset,
		})
	}
}

// handleAuditStats は期間内の操作種別ごとの件数を返すハンドラ。
// sinceを省略した場合は直近7日間、untilを省略した場合は現在時刻まで。
func (s *Server) handleAuditStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		since, err := parseTimeQuery(c, "since")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		until, err := parseTimeQuery(c, "until")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		to := s.now().UTC()
		if until != nil {
			to = until.UTC()
		}
		from := to.Add(-defaultStatsWindow)
		if since != nil {
			from = since.UTC()
		}
		if from.After(to) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sinceはuntil以前の日時を指定してください"})
			return
		}

		stats, err := s.deps.Audit.Stats(c.Request.Context(), from, to)
		if err != nil {
			writeError(c, err, "監査ログの集計に失敗しました")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"since": from,
			"until": to,
			"stats": stats,
		})
	}
}
