// auditctl は運用APIから監査ログを検索・集計するコマンド。
//
// 使い方:
//
//	auditctl [-url URL] [-secret SECRET] [-operator NAME] list [-action A] [-actor A] [-notification ID] [-since T] [-until T] [-limit N] [-offset N]
//	auditctl [-url URL] [-secret SECRET] [-operator NAME] stats [-since T] [-until T]
//
// 日時はRFC3339形式で指定する。JWT_SECRETとALERTPUSH_URLは.envからも読み込む。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/nao1215/alertpush/internal/audit"
	"github.com/nao1215/alertpush/pkg/httpclient"
	"github.com/nao1215/alertpush/pkg/middleware"
)

// tokenTTL は発行する操作用トークンの有効期間。
const tokenTTL = 5 * time.Minute

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("auditctl: %v", err)
	}
}

// run はコマンドライン引数を解釈してサブコマンドを実行する。
func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("auditctl", flag.ContinueOnError)
	baseURL := global.String("url", getEnvOr("ALERTPUSH_URL", "http://localhost:8090"), "alertpushのベースURL")
	secret := global.String("secret", getEnvOr("JWT_SECRET", "dev-secret-key"), "トークン署名用のJWTシークレット")
	operator := global.String("operator", getEnvOr("USER", "auditctl"), "トークンに記録する操作者名")
	if err := global.Parse(args); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		return errors.New("サブコマンドを指定してください: list / stats")
	}

	token, err := middleware.GenerateJWT(*secret, middleware.Identity{Name: *operator, Role: middleware.RoleViewer}, tokenTTL)
	if err != nil {
		return err
	}
	client := httpclient.New(*baseURL, httpclient.WithToken(token))

	switch rest[0] {
	case "list":
		return runList(ctx, client, rest[1:], out)
	case "stats":
		return runStats(ctx, client, rest[1:], out)
	default:
		return fmt.Errorf("未知のサブコマンドです: %s", rest[0])
	}
}

// listResponse はGET /api/v1/auditのレスポンス。
type listResponse struct {
	Logs   []audit.Entry `json:"logs"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func runList(ctx context.Context, client *httpclient.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	action := fs.String("action", "", "操作種別（sent, scheduled, cancelled, ...）")
	actor := fs.String("actor", "", "操作者")
	notificationID := fs.String("notification", "", "通知ID")
	since := fs.String("since", "", "この日時以降（RFC3339）")
	until := fs.String("until", "", "この日時以前（RFC3339）")
	limit := fs.Int("limit", 50, "取得件数")
	offset := fs.Int("offset", 0, "読み飛ばす件数")
	if err := fs.Parse(args); err != nil {
		return err
	}

	query := url.Values{}
	setIf(query, "action", *action)
	setIf(query, "actor", *actor)
	setIf(query, "notification_id", *notificationID)
	setIf(query, "since", *since)
	setIf(query, "until", *until)
	query.Set("limit", strconv.Itoa(*limit))
	query.Set("offset", strconv.Itoa(*offset))

	var resp listResponse
	if err := client.GetJSON(ctx, "/api/v1/audit", query, &resp); err != nil {
		return fmt.Errorf("監査ログの取得に失敗: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED_AT\tACTION\tACTOR\tNOTIFICATION\tIP")
	for _, e := range resp.Logs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format(time.RFC3339), e.Action, e.Actor, orDash(e.NotificationID), orDash(e.IPAddress))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d件中 %d-%d件目\n", resp.Total, min(int64(resp.Offset+1), resp.Total), int64(resp.Offset)+int64(len(resp.Logs)))
	return nil
}

// statsResponse はGET /api/v1/audit/statsのレスポンス。
type statsResponse struct {
	Since time.Time    `json:"since"`
	Until time.Time    `json:"until"`
	Stats []audit.Stat `json:"stats"`
}

func runStats(ctx context.Context, client *httpclient.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	since := fs.String("since", "", "集計期間の開始（RFC3339、省略時は7日前）")
	until := fs.String("until", "", "集計期間の終了（RFC3339、省略時は現在）")
	if err := fs.Parse(args); err != nil {
		return err
	}

	query := url.Values{}
	setIf(query, "since", *since)
	setIf(query, "until", *until)

	var resp statsResponse
	if err := client.GetJSON(ctx, "/api/v1/audit/stats", query, &resp); err != nil {
		return fmt.Errorf("監査ログの集計に失敗: %w", err)
	}

	fmt.Fprintf(out, "期間: %s - %s\n", resp.Since.Format(time.RFC3339), resp.Until.Format(time.RFC3339))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tCOUNT\tACTORS")
	for _, s := range resp.Stats {
		fmt.Fprintf(w, "%s\t%d\t%d\n", s.Action, s.Count, s.UniqueActors)
	}
	return w.Flush()
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
