package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/keihi/internal/model"
)

// EventAppender は利用イベントを追記するポート。
type EventAppender interface {
	Insert(ctx context.Context, event *model.UsageEvent) error
}

// RecorderMetrics は利用記録のメトリクス記録インターフェース。
type RecorderMetrics interface {
	RecordUsage(action string)
}

// Recorder は成功した操作を利用イベントとして記録する。
type Recorder struct {
	events  EventAppender
	metrics RecorderMetrics
	now     func() time.Time
}

// NewRecorder はRecorderを生成する。metricsはnilでもよい。
func NewRecorder(events EventAppender, metrics RecorderMetrics) *Recorder {
	return &Recorder{events: events, metrics: metrics, now: time.Now}
}

// Record は利用イベントを1件追記する。操作が成功した後にだけ呼び出すこと。
func (r *Recorder) Record(ctx context.Context, tenantID, actionType string) error {
	event := &model.UsageEvent{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		ActionType: actionType,
		CreatedAt:  r.now(),
	}
	if err := r.events.Insert(ctx, event); err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	if r.metrics != nil {
		r.metrics.RecordUsage(actionType)
	}
	return nil
}
