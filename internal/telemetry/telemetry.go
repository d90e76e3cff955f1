// Package telemetry はOpenTelemetryのトレース出力を初期化する。
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config はトレース出力の設定。
type Config struct {
	ServiceName string
	Endpoint    string // 空の場合はトレースを出力しない
	Insecure    bool
}

// ShutdownFunc は送信待ちのスパンをフラッシュして終了する。
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup はOTLP gRPCエクスポーターを持つTracerProviderをグローバルに設定する。
// Endpointが未設定またはエクスポーターの生成に失敗した場合は、何もしない終了関数を返す。
// 後者の場合もアプリケーションの起動は継続する。
func Setup(ctx context.Context, cfg Config) ShutdownFunc {
	if cfg.Endpoint == "" {
		return noopShutdown
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		slog.Error("failed to create otlp exporter", slog.String("error", err.Error()))
		return noopShutdown
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		slog.Warn("failed to build otel resource", slog.String("error", err.Error()))
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	slog.Info("tracing enabled",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("service", cfg.ServiceName),
	)

	return provider.Shutdown
}
