package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hitoshi/keihi/internal/model"
	"github.com/hitoshi/keihi/internal/usage"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// RateLimitResponseBody は利用上限超過時のレスポンス。統一フォーマットに判定結果を加える。
type RateLimitResponseBody struct {
	ErrorResponseBody
	Allowed           bool   `json:"allowed"`
	LimitHit          string `json:"limitHit"`
	Current           int    `json:"current"`
	Limit             int    `json:"limit"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, toBody(apiErr))
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// WriteRateLimitExceeded は利用上限超過の429レスポンスを書き込む。
// Retry-Afterには超過したウィンドウの長さ（秒）を設定する。
func WriteRateLimitExceeded(w http.ResponseWriter, d usage.Decision) {
	w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds))
	writeJSON(w, http.StatusTooManyRequests, RateLimitResponseBody{
		ErrorResponseBody: toBody(model.NewRateLimitExceededError(d.LimitHit)),
		Allowed:           false,
		LimitHit:          d.LimitHit,
		Current:           d.Current,
		Limit:             d.Limit,
		RetryAfterSeconds: d.RetryAfterSeconds,
	})
}

func toBody(apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
