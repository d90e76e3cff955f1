// Package cleanup は保持期間を過ぎたデータの自動削除ジョブを提供する。
// 期限切れ後SessionRetentionDays日を経過したセッションと、
// UsageRetentionDays日より古い利用イベントを定期バッチで削除する。
// 有効なセッションと、上限判定のウィンドウ内にあるイベントには触れない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const (
	deleteExpiredSessionsQuery = `DELETE FROM sessions WHERE expires_at < now() - $1::interval`
	deleteOldUsageEventsQuery  = `DELETE FROM usage_events WHERE created_at < now() - $1::interval`
)

// CleanupJob は保持期間を超過したセッションと利用イベントの削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger

	SessionRetentionDays int  // 期限切れセッションの保持日数（デフォルト: 7）
	UsageRetentionDays   int  // 利用イベントの保持日数（デフォルト: 90）
	SkipUsageEvents      bool // 台帳がRedisの場合はRedis側で期限管理するため削除しない
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:                   db,
		logger:               logger,
		SessionRetentionDays: 7,
		UsageRetentionDays:   90,
	}
}

// Run は期限切れセッション、古い利用イベントの順に削除する。
// いずれかの削除に失敗した時点でエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	if err := j.purge(ctx, "sessions", deleteExpiredSessionsQuery, j.SessionRetentionDays); err != nil {
		return err
	}
	if j.SkipUsageEvents {
		return nil
	}
	return j.purge(ctx, "usage_events", deleteOldUsageEventsQuery, j.UsageRetentionDays)
}

func (j *CleanupJob) purge(ctx context.Context, table, query string, retentionDays int) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", retentionDays)
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
			slog.Int("retention_days", retentionDays),
		)
		return fmt.Errorf("%sのクリーンアップに失敗: %w", table, err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.String("table", table),
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", retentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
