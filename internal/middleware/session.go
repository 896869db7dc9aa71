// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/timelog/internal/model"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// ownerIDContextKey はリクエストコンテキストにオーナーIDを格納するためのキー。
var ownerIDContextKey = contextKey("owner_id")

// errNoOwner はコンテキストにオーナーIDがないことを示す。
var errNoOwner = errors.New("owner ID not found in context")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryが満たす。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 認証済みユーザーのIDをエントリのオーナーIDとしてリクエストコンテキストに注入する。
// セッションは外部の認証サービスが発行したものを参照するだけで、発行や延長は行わない。
// 未認証リクエストには401 UNAUTHORIZEDを返す。
func NewSessionMiddleware(sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("セッションの取得に失敗しました",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if session == nil || session.UserID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithOwnerID(r.Context(), session.UserID)))
		})
	}
}

// OwnerIDFromContext はリクエストコンテキストからオーナーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func OwnerIDFromContext(ctx context.Context) (string, error) {
	ownerID, ok := ctx.Value(ownerIDContextKey).(string)
	if !ok || ownerID == "" {
		return "", errNoOwner
	}
	return ownerID, nil
}

// ContextWithOwnerID はコンテキストにオーナーIDを注入する。
func ContextWithOwnerID(ctx context.Context, ownerID string) context.Context {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		info.ownerID = ownerID
	}
	return context.WithValue(ctx, ownerIDContextKey, ownerID)
}
