package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/keihi/internal/middleware"
	"github.com/hitoshi/keihi/internal/model"
	"github.com/hitoshi/keihi/internal/scan"
)

// maxUploadSize はアップロードを受け付ける画像の最大サイズ。
const maxUploadSize = 10 << 20

var allowedImageTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"image/heic":      true,
	"application/pdf": true,
}

// ScanMetrics は読み取り処理の所要時間を記録する。
type ScanMetrics interface {
	RecordScanLatency(d time.Duration)
}

// ReceiptHandler はレシート読み取りのHTTPハンドラー。
// 利用上限の適用と記録はルーター側の利用ゲートミドルウェアが行う。
type ReceiptHandler struct {
	scanner scan.Scanner
	metrics ScanMetrics
}

// NewReceiptHandler はReceiptHandlerを生成する。metricsはnilでもよい。
func NewReceiptHandler(scanner scan.Scanner, metrics ScanMetrics) *ReceiptHandler {
	return &ReceiptHandler{scanner: scanner, metrics: metrics}
}

type scanResponse struct {
	Receipt *scan.Receipt `json:"receipt"`
}

// Scan はmultipartのfileフィールドで受け取った画像を読み取りサービスに渡す。
// POST /api/receipts/scan?tenant=<subdomain>
func (h *ReceiptHandler) Scan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		handleServiceError(w, model.NewInvalidUploadError("fileフィールドに画像を指定してください。"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !allowedImageTypes[contentType] {
		handleServiceError(w, model.NewInvalidUploadError("対応していないファイル形式です。"))
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		handleServiceError(w, model.NewInvalidUploadError("ファイルを読み込めませんでした。"))
		return
	}
	if len(data) == 0 || len(data) > maxUploadSize {
		handleServiceError(w, model.NewInvalidUploadError("ファイルサイズは10MB以下にしてください。"))
		return
	}

	tenantID := middleware.TenantIDFromContext(r.Context())
	start := time.Now()
	receipt, err := h.scanner.Scan(r.Context(), tenantID, scan.Image{Data: data, ContentType: contentType})
	if h.metrics != nil {
		h.metrics.RecordScanLatency(time.Since(start))
	}
	if err != nil {
		if errors.Is(err, scan.ErrNotConfigured) {
			slog.Error("receipt scan requested but scanner is not configured")
			middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewScanFailedError())
			return
		}
		slog.Error("receipt scan failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, model.NewScanFailedError())
		return
	}

	writeJSON(w, http.StatusOK, scanResponse{Receipt: receipt})
}
