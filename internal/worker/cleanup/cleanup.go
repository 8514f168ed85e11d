// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// ログインセッション、アクセストークン、移管招待の期限切れ行を対象とする。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Purger は期限切れ行を削除し、削除件数を返す。
// リポジトリのDeleteExpiredがそのまま満たす。
type Purger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Target は削除対象の名前付きPurger。
type Target struct {
	Name   string
	Purger Purger
}

// CleanupJob は期限切れデータの削除ジョブ。
// 各対象は独立して処理し、1つの失敗で残りを止めない。
type CleanupJob struct {
	targets []Target
	logger  *slog.Logger
	now     func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(logger *slog.Logger, targets ...Target) *CleanupJob {
	return &CleanupJob{
		targets: targets,
		logger:  logger,
		now:     time.Now,
	}
}

// Start は指定間隔でRunを繰り返す。起動直後に1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました", slog.Duration("interval", interval))

	_ = j.Run(ctx)
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

// Run は全対象の期限切れ行を1回削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	now := j.now()
	var errs []error

	for _, target := range j.targets {
		start := time.Now()
		deleted, err := target.Purger.DeleteExpired(ctx, now)
		if err != nil {
			j.logger.Error("期限切れデータの削除に失敗しました",
				slog.String("target", target.Name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s の削除に失敗: %w", target.Name, err))
			continue
		}
		j.logger.Info("期限切れデータを削除しました",
			slog.String("target", target.Name),
			slog.Int64("deleted_count", deleted),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}

	return errors.Join(errs...)
}
