// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/schedpost/internal/model"
)

// DBTX は *sql.DB と *sql.Tx の共通部分を表すインターフェース。
// 同じリポジトリ実装をトランザクション内外の両方で使うために用いる。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// ScheduledPostRepository は予約投稿の永続化インターフェース。
// 状態の変更はすべて status = 'pending' を条件とする条件付き更新で行い、
// 終端状態からの再遷移を防ぐ。
type ScheduledPostRepository interface {
	// Create は予約投稿を作成する。
	Create(ctx context.Context, post *model.ScheduledPost) error

	// FindByID は指定IDの予約投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ScheduledPost, error)

	// ListByAuthor は投稿者の予約投稿を scheduled_for 昇順で最大limit件返す。
	ListByAuthor(ctx context.Context, authorID string, limit int) ([]*model.ScheduledPost, error)

	// ListDue は status = 'pending' かつ scheduled_for <= now の予約投稿を返す。
	// 読み取りのみでロックは取得しない。
	ListDue(ctx context.Context, now time.Time) ([]*model.ScheduledPost, error)

	// UpdatePending は pending のままの予約投稿の内容と予約日時を更新する。
	// 既にpendingでない場合は false を返す。
	UpdatePending(ctx context.Context, post *model.ScheduledPost) (bool, error)

	// CancelPending は pending の予約投稿を cancelled に遷移させる。
	// 既にpendingでない場合は false を返す。
	CancelPending(ctx context.Context, id string, at time.Time) (bool, error)

	// FailPending は pending の予約投稿を failed に遷移させ、エラー内容を記録する。
	// 既にpendingでない場合は false を返す。
	FailPending(ctx context.Context, id, errorMessage string, at time.Time) (bool, error)

	// ClaimPending は公開処理のために予約投稿の行ロックを取得する。
	// SELECT ... FOR UPDATE SKIP LOCKED で取得するため、pendingでない場合や
	// 他のワーカーがロック中の場合は nil, nil を返す。
	ClaimPending(ctx context.Context, id string) (PublishClaim, error)
}

// PublishClaim は公開処理中の予約投稿1件に対する排他的な権利を表す。
// Complete または Release のいずれかを必ず呼び出すこと。
type PublishClaim interface {
	// Post はロック取得時点の予約投稿を返す。
	Post() *model.ScheduledPost

	// Tx はロックを保持しているトランザクションを返す。
	// 公開先への書き込みを同一トランザクションで行うために使用する。
	Tx() DBTX

	// Complete は予約投稿を published に遷移させてコミットする。
	Complete(ctx context.Context, publishedPostID string, at time.Time) error

	// Release はトランザクションをロールバックしてロックを解放する。
	// Complete後に呼び出しても何もしない。
	Release() error
}

// PostRepository は公開済み投稿の永続化インターフェース。
type PostRepository interface {
	// Create は投稿を作成し、新しい投稿IDを返す。
	// 書き込みに失敗した場合は PUBLISH_WRITE_FAILED の APIError を返す。
	Create(ctx context.Context, post model.NewPost) (string, error)

	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)
}

// UserRepository はアカウント情報の参照インターフェース。
type UserRepository interface {
	// FindAccount は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindAccount(ctx context.Context, id string) (*model.Account, error)
}

// SessionRepository はセッションデータの参照インターフェース。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
}
