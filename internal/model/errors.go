// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, not_found, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryAuth       = "auth"
	CategoryValidation = "validation"
	CategoryNotFound   = "not_found"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeInvalidTitle      = "INVALID_TITLE"
	ErrCodeInvalidTags       = "INVALID_TAGS"
	ErrCodeInvalidTimeRange  = "INVALID_TIME_RANGE"
	ErrCodeInvalidPagination = "INVALID_PAGINATION"
	ErrCodeInvalidGroupEdit  = "INVALID_GROUP_EDIT"
	ErrCodeInvalidTimezone   = "INVALID_TIMEZONE"
	ErrCodeInvalidWeekStart  = "INVALID_WEEK_START"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeEntryNotFound     = "ENTRY_NOT_FOUND"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeCSRFInvalid       = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimitExceeded = "rate_limit_exceeded"
)

// IsValidation はエラーがバリデーションエラーかどうかを返す。
func IsValidation(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Category == CategoryValidation
}

// IsNotFound はエラーが未検出エラーかどうかを返す。
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Category == CategoryNotFound
}

// NewInvalidTitleError はタイトル不正エラーを生成する。
func NewInvalidTitleError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTitle,
		Message:  fmt.Sprintf("タイトルが不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "1文字以上1000文字以内のタイトルを入力してください。",
	}
}

// NewInvalidTagsError はタグ不正エラーを生成する。
func NewInvalidTagsError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTags,
		Message:  fmt.Sprintf("タグが不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "タグは100文字以内で指定してください。",
	}
}

// NewInvalidTimeRangeError は時間範囲不正エラーを生成する。
func NewInvalidTimeRangeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTimeRange,
		Message:  fmt.Sprintf("時間範囲が不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "終了時刻は開始時刻以降を指定してください。",
	}
}

// NewInvalidPaginationError はページネーション指定不正エラーを生成する。
func NewInvalidPaginationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPagination,
		Message:  fmt.Sprintf("ページ指定が不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "pageは1以上、page_sizeは1から500の範囲で指定してください。",
	}
}

// NewInvalidGroupEditError はグループ編集の対象不正エラーを生成する。
// 1件でも不正なIDが含まれる場合、どのエントリも更新しない。
func NewInvalidGroupEditError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidGroupEdit,
		Message:  fmt.Sprintf("グループ編集の対象が不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "一覧を再読み込みしてから再度編集してください。",
	}
}

// NewInvalidTimezoneError はタイムゾーン不正エラーを生成する。
func NewInvalidTimezoneError(tz string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTimezone,
		Message:  fmt.Sprintf("無効なタイムゾーンです: %s", tz),
		Category: CategoryValidation,
		Action:   "IANAタイムゾーン名（例: Asia/Tokyo）を指定してください。",
	}
}

// NewInvalidWeekStartError は週の開始曜日不正エラーを生成する。
func NewInvalidWeekStartError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidWeekStart,
		Message:  fmt.Sprintf("無効な週の開始曜日です: %s", value),
		Category: CategoryValidation,
		Action:   "monday から sunday のいずれかを指定してください。",
	}
}

// NewInvalidRequestError はリクエスト形式不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "正しい形式でリクエストしてください。",
	}
}

// NewEntryNotFoundError はエントリ未検出エラーを生成する。
// 存在しないIDと他ユーザーのIDは区別しない。
func NewEntryNotFoundError(entryID string) *APIError {
	return &APIError{
		Code:     ErrCodeEntryNotFound,
		Message:  fmt.Sprintf("指定されたエントリが見つかりません: %s", entryID),
		Category: CategoryNotFound,
		Action:   "一覧を再読み込みしてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: CategoryAuth,
		Action:   "ログインしてください。",
	}
}

// NewCSRFInvalidError はCSRFトークン検証エラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: CategoryAuth,
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: CategorySystem,
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}
