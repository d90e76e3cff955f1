package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/keihi/internal/middleware"
	"github.com/hitoshi/keihi/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeTenantRequired, model.ErrCodeTenantNotFound, model.ErrCodeInvalidUpload:
		return http.StatusBadRequest
	case model.ErrCodeTenantAccessDenied, model.ErrCodeNotProvisioned, model.ErrCodeCSRFInvalid:
		return http.StatusForbidden
	case model.ErrCodeUnknownAction, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimitExceeded, model.ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	case model.ErrCodeScanFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
