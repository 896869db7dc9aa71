package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/timelog/internal/middleware"
	"github.com/hitoshi/timelog/internal/model"
)

// TagServiceInterface はタグハンドラーが必要とするサービスインターフェース。
type TagServiceInterface interface {
	// Stats はオーナーのタグごとの使用回数とレガシー扱いかどうかを返す。
	Stats(ctx context.Context, ownerID string) ([]model.TagStat, error)
	// MarkLegacy はタグをレガシー扱いにする。冪等。
	MarkLegacy(ctx context.Context, ownerID, tagName string) error
	// UnmarkLegacy はレガシー扱いを解除する。冪等。
	UnmarkLegacy(ctx context.Context, ownerID, tagName string) error
}

// TagHandler はタグ管理のHTTPハンドラー。
type TagHandler struct {
	service TagServiceInterface
}

// NewTagHandler はTagHandlerを生成する。
func NewTagHandler(service TagServiceInterface) *TagHandler {
	return &TagHandler{service: service}
}

type tagStatResponse struct {
	Tag      string `json:"tag"`
	Count    int    `json:"count"`
	IsLegacy bool   `json:"is_legacy"`
}

type tagListResponse struct {
	Tags []tagStatResponse `json:"tags"`
}

// ListTags はタグの使用統計を返す。
// GET /api/tags
func (h *TagHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), ownerID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	resp := tagListResponse{Tags: make([]tagStatResponse, 0, len(stats))}
	for _, s := range stats {
		resp.Tags = append(resp.Tags, tagStatResponse{Tag: s.Tag, Count: s.Count, IsLegacy: s.IsLegacy})
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// MarkLegacy はタグをレガシー扱いにする。
// PUT /api/tags/{tag}/legacy
func (h *TagHandler) MarkLegacy(w http.ResponseWriter, r *http.Request) {
	h.changeLegacy(w, r, h.service.MarkLegacy)
}

// UnmarkLegacy はタグのレガシー扱いを解除する。
// DELETE /api/tags/{tag}/legacy
func (h *TagHandler) UnmarkLegacy(w http.ResponseWriter, r *http.Request) {
	h.changeLegacy(w, r, h.service.UnmarkLegacy)
}

func (h *TagHandler) changeLegacy(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, ownerID, tagName string) error) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	// パスパラメータはエスケープされたまま渡ることがある
	tag := chi.URLParam(r, "tag")
	if unescaped, err := url.PathUnescape(tag); err == nil {
		tag = unescaped
	}

	if err := op(r.Context(), ownerID, tag); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
