// Package cleanup は不要になった行の定期削除ジョブを提供する。
// 期限切れのセッションと、保持期間（デフォルト90日）を超過した
// ゲートウェイ通知ログを日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
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
	deleteExpiredSessionsQuery = `DELETE FROM sessions WHERE expires_at < now()`
	deleteOldCallbacksQuery    = `DELETE FROM payment_callbacks WHERE created_at < now() - $1::interval`
)

// DefaultRetentionDays は通知ログのデフォルト保持日数。
const DefaultRetentionDays = 90

// CleanupJob は期限切れセッションと古い通知ログの削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 通知ログの保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run は期限切れセッションと保持期間を超過した通知ログを削除する。
// 片方が失敗してももう片方は実行し、発生したエラーをまとめて返す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessions, sessErr := j.exec(ctx, "sessions", deleteExpiredSessionsQuery)

	interval := fmt.Sprintf("%d days", j.RetentionDays)
	callbacks, cbErr := j.exec(ctx, "payment_callbacks", deleteOldCallbacksQuery, interval)

	if err := errors.Join(sessErr, cbErr); err != nil {
		return err
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_callbacks", callbacks),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// exec は削除クエリを実行し、削除件数を返す。
func (j *CleanupJob) exec(ctx context.Context, table, query string, args ...interface{}) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("クリーンアップの実行に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sの削除件数の取得に失敗: %w", table, err)
	}
	return deleted, nil
}
