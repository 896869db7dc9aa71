// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/timelog/internal/aggregate"
	"github.com/hitoshi/timelog/internal/middleware"
	"github.com/hitoshi/timelog/internal/model"
)

// maxRequestBodyBytes はリクエストボディの上限サイズ。
const maxRequestBodyBytes = 64 << 10

// entryResponse はエントリのレスポンス。
// duration_secondsはレスポンス生成時点の経過時間で、計測中のエントリでは呼び出しごとに増える。
type entryResponse struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	Tags            []string   `json:"tags"`
	Metadata        []string   `json:"metadata"`
	Active          bool       `json:"active"`
	DurationSeconds int64      `json:"duration_seconds"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toEntryResponse(e *model.TimeLogEntry, now time.Time) entryResponse {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	metadata := e.Metadata
	if metadata == nil {
		metadata = []string{}
	}
	return entryResponse{
		ID:              e.ID,
		Title:           e.Title,
		StartTime:       e.StartTime,
		EndTime:         e.EndTime,
		Tags:            tags,
		Metadata:        metadata,
		Active:          e.IsActive(),
		DurationSeconds: int64(aggregate.Duration(e, now) / time.Second),
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func toEntryResponses(entries []*model.TimeLogEntry, now time.Time) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e, now))
	}
	return out
}

// ownerFromRequest はセッションミドルウェアが注入したオーナーIDを取得する。
// 取得できない場合は401を書き込んでfalseを返す。
func ownerFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID, err := middleware.OwnerIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return ownerID, true
}

// decodeJSONBody はリクエストボディをJSONとして読み取る。
// 解析に失敗した場合は400 INVALID_REQUESTを書き込んでfalseを返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	reason := "リクエストボディの解析に失敗しました"
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		reason = "リクエストボディが大きすぎます"
	}
	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(reason))
	return false
}
