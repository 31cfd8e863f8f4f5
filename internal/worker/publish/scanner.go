// Package publish は予約投稿のバックグラウンド公開処理を提供する。
// 公開対象の検出（Scanner）、1件ずつの公開（Publisher）、
// 定期実行の駆動（Poller）を含む。
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/schedpost/internal/model"
)

// DueLister は公開対象の予約投稿を読み取るインターフェース。
// repository.ScheduledPostRepository の部分集合。
type DueLister interface {
	ListDue(ctx context.Context, now time.Time) ([]*model.ScheduledPost, error)
}

// Scanner は指定時刻の時点で公開対象となっている予約投稿を検出する。
// 読み取りのみを行い、状態は変更しない。
type Scanner struct {
	store DueLister
}

// NewScanner はScannerの新しいインスタンスを生成する。
func NewScanner(store DueLister) *Scanner {
	return &Scanner{store: store}
}

// FindDue は status = pending かつ scheduled_for <= now の予約投稿を返す。
func (s *Scanner) FindDue(ctx context.Context, now time.Time) ([]*model.ScheduledPost, error) {
	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("公開対象の検出に失敗しました: %w", err)
	}
	return due, nil
}
