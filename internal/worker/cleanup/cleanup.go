// Package cleanup は未使用の招待コードの自動削除ジョブを提供する。
// 発行から保持期間（デフォルト7日）を超過した招待コードを定期的に削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/joinauth/internal/metrics"
)

// DefaultMaxAge は招待コードのデフォルト保持期間。
const DefaultMaxAge = 7 * 24 * time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は保持期間を超過した招待コードの削除ジョブ。
// 削除対象がなくてもエラーにならない。
type CleanupJob struct {
	db      Executor
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time

	MaxAge time.Duration // 0以下の場合は削除しない
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger, m metrics.MetricsCollector) *CleanupJob {
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &CleanupJob{
		db:      db,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		MaxAge:  DefaultMaxAge,
	}
}

// Run はcreated_atがMaxAgeより古い招待コードを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	if j.MaxAge <= 0 {
		j.logger.Debug("join code cleanup disabled")
		return nil
	}

	start := j.now()
	cutoff := start.Add(-j.MaxAge)

	result, err := j.db.ExecContext(ctx, `DELETE FROM join_codes WHERE created_at < $1`, cutoff)
	if err != nil {
		j.logger.Error("招待コードのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("max_age", j.MaxAge),
		)
		return fmt.Errorf("招待コードのクリーンアップに失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.metrics.RecordJoinCodesPurged(deletedCount)

	j.logger.Info("招待コードのクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("max_age", j.MaxAge),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
