// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/joinauth/internal/auth"
	"github.com/hitoshi/joinauth/internal/metrics"
	"github.com/hitoshi/joinauth/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey  = contextKey("user_id")
	isAdminContextKey = contextKey("is_admin")
)

// Authenticator はAuthorizationヘッダーを検証するインターフェース。
// auth.TokenServiceが実装する。
type Authenticator interface {
	Authenticate(header string) (*auth.Identity, error)
}

// NewAuthMiddleware は有効なIDトークンを要求するミドルウェアを返す。
// 検証済みユーザーIDと管理者フラグをリクエストコンテキストに注入する。
// トークンの欠落・不正・期限切れはすべて401 UNAUTHORIZEDとなる。
func NewAuthMiddleware(authenticator Authenticator, m metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return newGate(authenticator, m, false)
}

// NewAdminMiddleware は管理者のIDトークンを要求するミドルウェアを返す。
// 管理者でない場合も呼び出し元には同じ401を返す。
func NewAdminMiddleware(authenticator Authenticator, m metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return newGate(authenticator, m, true)
}

func newGate(authenticator Authenticator, m metrics.MetricsCollector, requireAdmin bool) func(next http.Handler) http.Handler {
	if m == nil {
		m = metrics.NopCollector{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := authenticator.Authenticate(r.Header.Get("Authorization"))
			if err == nil && requireAdmin && !identity.IsAdmin {
				err = auth.ErrNotAdmin
			}
			if err != nil {
				reason := auth.FailureReason(err)
				m.RecordAuthFailure(reason)
				slog.Warn("access denied",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			setRequestUserID(r.Context(), identity.UserID)
			ctx := context.WithValue(r.Context(), userIDContextKey, identity.UserID)
			ctx = context.WithValue(ctx, isAdminContextKey, identity.IsAdmin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// IsAdminFromContext は呼び出し元が管理者かどうかを返す。
func IsAdminFromContext(ctx context.Context) bool {
	isAdmin, _ := ctx.Value(isAdminContextKey).(bool)
	return isAdmin
}

// ContextWithUserID はコンテキストにユーザーIDと管理者フラグを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string, isAdmin bool) context.Context {
	ctx = context.WithValue(ctx, userIDContextKey, userID)
	return context.WithValue(ctx, isAdminContextKey, isAdmin)
}
