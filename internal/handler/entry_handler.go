package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/timelog/internal/middleware"
	"github.com/hitoshi/timelog/internal/model"
	"github.com/hitoshi/timelog/internal/timelog"
)

// 一覧取得で範囲指定を省略した場合の既定値。
// SQLiteは時刻をUnixナノ秒で保存するため、上限は2262年より前にしている。
var (
	defaultListFrom = time.Unix(0, 0).UTC()
	defaultListTo   = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)
)

// EntryServiceInterface はエントリハンドラーが必要とするサービスインターフェース。
type EntryServiceInterface interface {
	// Start は計測を開始する。計測中のエントリは自動停止される。
	Start(ctx context.Context, ownerID, title string, tags, metadata []string) (*model.TimeLogEntry, error)
	// Continue は既存エントリのタイトルとタグで新しい計測を開始する。
	Continue(ctx context.Context, ownerID, sourceEntryID string) (*model.TimeLogEntry, error)
	// Stop は計測中のエントリを停止する。
	Stop(ctx context.Context, ownerID string) (*timelog.StopResult, error)
	Edit(ctx context.Context, ownerID, entryID string, in timelog.EditInput) (*model.TimeLogEntry, error)
	GroupEdit(ctx context.Context, ownerID string, entryIDs []string, title string, tags []string) ([]*model.TimeLogEntry, error)
	Delete(ctx context.Context, ownerID, entryID string) error
	// GetActive は計測中のエントリを返す。存在しない場合はnil。
	GetActive(ctx context.Context, ownerID string) (*model.TimeLogEntry, error)
	List(ctx context.Context, ownerID string, from, to time.Time, page, pageSize int) (*timelog.ListResult, error)
}

// QueryServiceInterface は日別・週別集計のサービスインターフェース。
type QueryServiceInterface interface {
	Days(ctx context.Context, ownerID string, query timelog.DaysQuery) (*timelog.DaysResult, error)
	Week(ctx context.Context, ownerID string, query timelog.WeekQuery) (*timelog.DaysResult, error)
}

// EntryHandler はタイムログエントリのHTTPハンドラー。
type EntryHandler struct {
	service EntryServiceInterface
	query   QueryServiceInterface
	now     func() time.Time
}

// NewEntryHandler はEntryHandlerを生成する。
func NewEntryHandler(service EntryServiceInterface, query QueryServiceInterface) *EntryHandler {
	return &EntryHandler{
		service: service,
		query:   query,
		now:     time.Now,
	}
}

// --- リクエスト・レスポンス型 ---

type startEntryRequest struct {
	Title    string   `json:"title"`
	Tags     []string `json:"tags"`
	Metadata []string `json:"metadata"`
}

// editEntryRequest は部分更新リクエスト。省略したフィールドは変更しない。
type editEntryRequest struct {
	Title     *string    `json:"title,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Tags      *[]string  `json:"tags,omitempty"`
}

type groupEditRequest struct {
	EntryIDs []string `json:"entry_ids"`
	Title    string   `json:"title"`
	Tags     []string `json:"tags"`
}

type stopResponse struct {
	Stopped bool           `json:"stopped"`
	Entry   *entryResponse `json:"entry,omitempty"`
}

type listResponse struct {
	Entries  []entryResponse `json:"entries"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	HasMore  bool            `json:"has_more"`
}

type groupEditResponse struct {
	Entries []entryResponse `json:"entries"`
}

// --- ライフサイクル ---

// Start は新しいエントリの計測を開始する。
// POST /api/time-log-entries/start
func (h *EntryHandler) Start(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	var req startEntryRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	entry, err := h.service.Start(r.Context(), ownerID, req.Title, req.Tags, req.Metadata)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, toEntryResponse(entry, h.now()))
}

// Continue は指定エントリのタイトルとタグで計測を開始する。
// POST /api/time-log-entries/{id}/continue
func (h *EntryHandler) Continue(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	entry, err := h.service.Continue(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, toEntryResponse(entry, h.now()))
}

// Stop は計測中のエントリを停止する。計測中のエントリがなくても200を返す。
// POST /api/time-log-entries/stop
func (h *EntryHandler) Stop(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	result, err := h.service.Stop(r.Context(), ownerID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	resp := stopResponse{Stopped: result.Stopped}
	if result.Entry != nil {
		e := toEntryResponse(result.Entry, h.now())
		resp.Entry = &e
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// --- 編集・削除 ---

// Edit はエントリを部分更新する。
// PATCH /api/time-log-entries/{id}
func (h *EntryHandler) Edit(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	var req editEntryRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Title == nil && req.StartTime == nil && req.EndTime == nil && req.Tags == nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("更新するフィールドを指定してください"))
		return
	}

	in := timelog.EditInput{
		Title:     req.Title,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}
	if req.Tags != nil {
		// 空配列はタグの全削除として扱う
		in.Tags = append([]string{}, (*req.Tags)...)
	}

	entry, err := h.service.Edit(r.Context(), ownerID, chi.URLParam(r, "id"), in)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toEntryResponse(entry, h.now()))
}

// GroupEdit は複数エントリのタイトルとタグを一括更新する。
// PUT /api/time-log-entries/group
func (h *EntryHandler) GroupEdit(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	var req groupEditRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	entries, err := h.service.GroupEdit(r.Context(), ownerID, req.EntryIDs, req.Title, req.Tags)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, groupEditResponse{Entries: toEntryResponses(entries, h.now())})
}

// Delete はエントリを削除する。
// DELETE /api/time-log-entries/{id}
func (h *EntryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), ownerID, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- 参照 ---

// GetActive は計測中のエントリを返す。計測中のエントリがない場合は204。
// GET /api/time-log-entries/active
func (h *EntryHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	entry, err := h.service.GetActive(r.Context(), ownerID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if entry == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toEntryResponse(entry, h.now()))
}

// List は開始時刻の範囲でエントリを新しい順に返す。
// GET /api/time-log-entries?start_time_from=...&start_time_to=...&page=1&page_size=100
func (h *EntryHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	from, err := parseRFC3339Param(q.Get("start_time_from"), "start_time_from", defaultListFrom)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	to, err := parseRFC3339Param(q.Get("start_time_to"), "start_time_to", defaultListTo)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	page, err := parseIntParam(q.Get("page"), "page")
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	pageSize, err := parseIntParam(q.Get("page_size"), "page_size")
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	result, err := h.service.List(r.Context(), ownerID, from, to, page, pageSize)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, listResponse{
		Entries:  toEntryResponses(result.Entries, h.now()),
		Page:     result.Page,
		PageSize: result.PageSize,
		HasMore:  result.HasMore,
	})
}

// Days は期間内のエントリを日別にまとめて返す。
// GET /api/time-log-entries/days?from=...&to=...&tz=Asia/Tokyo&week_start=monday
func (h *EntryHandler) Days(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	result, err := h.query.Days(r.Context(), ownerID, timelog.DaysQuery{
		From:      q.Get("from"),
		To:        q.Get("to"),
		Timezone:  q.Get("tz"),
		WeekStart: q.Get("week_start"),
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toDaysResponse(result))
}

// Week は基準日を含む週の日別集計を返す。
// GET /api/time-log-entries/week?date=2024-01-15&tz=UTC&week_start=sunday
func (h *EntryHandler) Week(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	result, err := h.query.Week(r.Context(), ownerID, timelog.WeekQuery{
		Date:      q.Get("date"),
		Timezone:  q.Get("tz"),
		WeekStart: q.Get("week_start"),
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toDaysResponse(result))
}

func parseRFC3339Param(value, name string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, model.NewInvalidRequestError(name + "はRFC3339形式で指定してください")
	}
	return t, nil
}

// parseIntParam は整数のクエリパラメータを解釈する。空の場合は0（既定値）。
func parseIntParam(value, name string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, model.NewInvalidPaginationError(name + "は整数で指定してください")
	}
	return n, nil
}
