// Package scan は外部のレシート読み取りサービスとの連携を提供する。
package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxResponseSize は読み取り結果レスポンスの最大サイズ。
const maxResponseSize = 1 << 20

// ErrNotConfigured は読み取りサービスのURLが設定されていない場合のエラー。
var ErrNotConfigured = errors.New("receipt scanner is not configured")

// Receipt は読み取りサービスが返すレシートの内容。金額は最小通貨単位の整数。
type Receipt struct {
	Vendor     string  `json:"vendor"`
	Date       string  `json:"date"`
	Total      int64   `json:"total"`
	Tax        int64   `json:"tax"`
	Currency   string  `json:"currency"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Image は読み取り対象の画像。
type Image struct {
	Data        []byte
	ContentType string
}

// Scanner はレシート画像を読み取る。
type Scanner interface {
	Scan(ctx context.Context, tenantID string, img Image) (*Receipt, error)
}

// Client はHTTPで読み取りサービスを呼び出すScanner。
type Client struct {
	httpClient *http.Client
	endpoint   string
}

// NewClient はClientを生成する。httpClientがnilの場合はotelhttpで計装したクライアントを使う。
func NewClient(endpoint string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{httpClient: httpClient, endpoint: endpoint}
}

// Scan は画像をPOSTし、読み取り結果を返す。
func (c *Client) Scan(ctx context.Context, tenantID string, img Image) (*Receipt, error) {
	if c.endpoint == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to build scan request: %w", err)
	}
	req.Header.Set("Content-Type", img.ContentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)
	req.Header.Set("User-Agent", "keihi/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("receipt scanner request failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("scan request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		slog.Error("receipt scanner returned error status",
			slog.String("tenant_id", tenantID),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("scanner returned status %d", resp.StatusCode)
	}

	var receipt Receipt
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("failed to decode scan result: %w", err)
	}
	return &receipt, nil
}
