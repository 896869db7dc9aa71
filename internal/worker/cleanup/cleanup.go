// Package cleanup はレガシータグの自動削除ジョブを提供する。
// どのエントリにも使われなくなったレガシー指定のうち、保持期間（デフォルト30日）を
// 超過したものを定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// OrphanDeleter は未使用のレガシータグを削除するインターフェース。
// repository.LegacyTagRepository が満たす。
type OrphanDeleter interface {
	DeleteOrphaned(ctx context.Context, olderThan time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した未使用レガシータグの削除ジョブ。
// 削除対象がない場合も成功する冪等な処理。
type CleanupJob struct {
	repo          OrphanDeleter
	logger        *slog.Logger
	RetentionDays int // レガシータグの保持日数（デフォルト: 30）
	now           func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は30日。
func NewCleanupJob(repo OrphanDeleter, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		repo:          repo,
		logger:        logger,
		RetentionDays: 30,
		now:           time.Now,
	}
}

// Run は保持期間を超過した未使用レガシータグを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	olderThan := j.now().UTC().AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.repo.DeleteOrphaned(ctx, olderThan)
	if err != nil {
		j.logger.Error("レガシータグのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("レガシータグのクリーンアップに失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("レガシータグのクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、以後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。失敗はログに記録して次回に持ち越す。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
