package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/keihi/internal/usage"
)

// errUnsuccessfulResponse はハンドラーが2xx以外で終了したことを表す。利用は記録しない。
var errUnsuccessfulResponse = errors.New("handler did not succeed")

// NewUsageGateMiddleware はテナント単位の利用上限を適用するミドルウェアを返す。
// ハンドラーはgate.Doの中で実行し、2xxで完了した場合のみ利用を記録する。
// 上限超過時はハンドラーを実行せず429を返す。
// テナント認可ミドルウェアの後に配置する。
func NewUsageGateMiddleware(gate *usage.Gate, cfg usage.ActionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := TenantIDFromContext(r.Context())
			if tenantID == "" {
				slog.Error("usage gate reached without tenant context",
					slog.String("path", r.URL.Path),
				)
				WriteInternalServerError(w)
				return
			}

			served := false
			err := gate.Do(r.Context(), tenantID, cfg, func(ctx context.Context) error {
				served = true
				rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
				next.ServeHTTP(rec, r.WithContext(ctx))
				if rec.statusCode < 200 || rec.statusCode >= 300 {
					return errUnsuccessfulResponse
				}
				return nil
			})
			if err == nil || errors.Is(err, errUnsuccessfulResponse) {
				return
			}

			// レスポンスは送信済みのため記録失敗はログのみ
			if served {
				slog.Error("failed to record usage",
					slog.String("tenant_id", tenantID),
					slog.String("action", cfg.Action),
					slog.String("error", err.Error()),
				)
				return
			}

			var limitErr *usage.LimitError
			if errors.As(err, &limitErr) {
				d := limitErr.Decision
				slog.Warn("usage limit exceeded",
					slog.String("tenant_id", tenantID),
					slog.String("action", cfg.Action),
					slog.String("window", d.LimitHit),
					slog.Int("current", d.Current),
					slog.Int("limit", d.Limit),
					slog.Int("retry_after", d.RetryAfterSeconds),
				)
				WriteRateLimitExceeded(w, d)
				return
			}

			slog.Error("failed to check usage limit",
				slog.String("tenant_id", tenantID),
				slog.String("action", cfg.Action),
				slog.String("error", err.Error()),
			)
			WriteInternalServerError(w)
		})
	}
}
