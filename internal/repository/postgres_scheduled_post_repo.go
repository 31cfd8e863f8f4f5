package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/schedpost/internal/model"
)

// scheduledPostColumns は予約投稿のSELECT対象カラム。scanScheduledPost と順序を合わせること。
const scheduledPostColumns = `id, scheduled_by, description, media_url, media_type,
	comments_disabled, scheduled_for, status, published_post_id, error_message,
	created_at, updated_at`

// PostgresScheduledPostRepo はPostgreSQLを使用した予約投稿リポジトリ。
type PostgresScheduledPostRepo struct {
	db *sql.DB
}

// NewPostgresScheduledPostRepo はPostgresScheduledPostRepoを生成する。
func NewPostgresScheduledPostRepo(db *sql.DB) *PostgresScheduledPostRepo {
	return &PostgresScheduledPostRepo{db: db}
}

// Create は予約投稿を作成する。
func (r *PostgresScheduledPostRepo) Create(ctx context.Context, post *model.ScheduledPost) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO scheduled_posts (id, scheduled_by, description, media_url, media_type,
		                              comments_disabled, scheduled_for, status,
		                              created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		post.ID, post.AuthorID, nullString(post.Description), nullString(post.MediaURL),
		post.MediaType, post.CommentsDisabled, post.ScheduledFor, post.Status,
		post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("予約投稿の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの予約投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresScheduledPostRepo) FindByID(ctx context.Context, id string) (*model.ScheduledPost, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+scheduledPostColumns+` FROM scheduled_posts WHERE id = $1`,
		id,
	)
	post, err := scanScheduledPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("予約投稿の取得に失敗しました: %w", err)
	}
	return post, nil
}

// ListByAuthor は投稿者の予約投稿を scheduled_for 昇順で最大limit件返す。
func (r *PostgresScheduledPostRepo) ListByAuthor(ctx context.Context, authorID string, limit int) ([]*model.ScheduledPost, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+scheduledPostColumns+`
		 FROM scheduled_posts
		 WHERE scheduled_by = $1
		 ORDER BY scheduled_for ASC, id ASC
		 LIMIT $2`,
		authorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("予約投稿一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectScheduledPosts(rows)
}

// ListDue は status = 'pending' かつ scheduled_for <= now の予約投稿を返す。
// 公開処理の確定は ClaimPending で1件ずつ行うため、ここではロックを取得しない。
func (r *PostgresScheduledPostRepo) ListDue(ctx context.Context, now time.Time) ([]*model.ScheduledPost, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+scheduledPostColumns+`
		 FROM scheduled_posts
		 WHERE status = 'pending'
		   AND scheduled_for <= $1
		 ORDER BY scheduled_for ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("公開対象の予約投稿の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectScheduledPosts(rows)
}

// UpdatePending は pending のままの予約投稿の内容と予約日時を更新する。
func (r *PostgresScheduledPostRepo) UpdatePending(ctx context.Context, post *model.ScheduledPost) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_posts SET
		    description = $2, media_url = $3, media_type = $4,
		    comments_disabled = $5, scheduled_for = $6, updated_at = $7
		 WHERE id = $1 AND status = 'pending'`,
		post.ID, nullString(post.Description), nullString(post.MediaURL), post.MediaType,
		post.CommentsDisabled, post.ScheduledFor, post.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("予約投稿の更新に失敗しました: %w", err)
	}
	return affectedOne(result)
}

// CancelPending は pending の予約投稿を cancelled に遷移させる。
func (r *PostgresScheduledPostRepo) CancelPending(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_posts SET status = 'cancelled', updated_at = $2
		 WHERE id = $1 AND status = 'pending'`,
		id, at,
	)
	if err != nil {
		return false, fmt.Errorf("予約投稿の取り消しに失敗しました: %w", err)
	}
	return affectedOne(result)
}

// FailPending は pending の予約投稿を failed に遷移させ、エラー内容を記録する。
func (r *PostgresScheduledPostRepo) FailPending(ctx context.Context, id, errorMessage string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_posts SET
		    status = 'failed', error_message = $2, published_post_id = NULL, updated_at = $3
		 WHERE id = $1 AND status = 'pending'`,
		id, truncateRunes(errorMessage, model.MaxErrorMessageLength), at,
	)
	if err != nil {
		return false, fmt.Errorf("予約投稿の失敗状態の記録に失敗しました: %w", err)
	}
	return affectedOne(result)
}

// ClaimPending は公開処理のために予約投稿の行ロックを取得する。
// pendingでない場合や他のワーカーがロック中の場合は nil, nil を返す。
func (r *PostgresScheduledPostRepo) ClaimPending(ctx context.Context, id string) (PublishClaim, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+scheduledPostColumns+`
		 FROM scheduled_posts
		 WHERE id = $1 AND status = 'pending'
		 FOR UPDATE SKIP LOCKED`,
		id,
	)
	post, err := scanScheduledPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return nil, nil
	}
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("予約投稿のロック取得に失敗しました: %w", err)
	}

	return &postgresPublishClaim{tx: tx, post: post}, nil
}

// postgresPublishClaim は行ロックを保持したトランザクションによる PublishClaim の実装。
type postgresPublishClaim struct {
	tx   *sql.Tx
	post *model.ScheduledPost
	done bool
}

func (c *postgresPublishClaim) Post() *model.ScheduledPost { return c.post }

func (c *postgresPublishClaim) Tx() DBTX { return c.tx }

// Complete は予約投稿を published に遷移させてコミットする。
func (c *postgresPublishClaim) Complete(ctx context.Context, publishedPostID string, at time.Time) error {
	if c.done {
		return errors.New("publish claim already finished")
	}
	c.done = true

	result, err := c.tx.ExecContext(ctx,
		`UPDATE scheduled_posts SET
		    status = 'published', published_post_id = $2, error_message = NULL, updated_at = $3
		 WHERE id = $1 AND status = 'pending'`,
		c.post.ID, publishedPostID, at,
	)
	if err != nil {
		_ = c.tx.Rollback()
		return fmt.Errorf("公開済み状態の記録に失敗しました: %w", err)
	}
	ok, err := affectedOne(result)
	if err != nil {
		_ = c.tx.Rollback()
		return err
	}
	if !ok {
		_ = c.tx.Rollback()
		return fmt.Errorf("予約投稿がpendingではありません: %s", c.post.ID)
	}

	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// Release はトランザクションをロールバックしてロックを解放する。
func (c *postgresPublishClaim) Release() error {
	if c.done {
		return nil
	}
	c.done = true
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("トランザクションのロールバックに失敗しました: %w", err)
	}
	return nil
}

// rowScanner は *sql.Row と *sql.Rows の共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanScheduledPost は1行を予約投稿に変換する。未知のstatus値はエラーとする。
func scanScheduledPost(row rowScanner) (*model.ScheduledPost, error) {
	post := &model.ScheduledPost{}
	var description, mediaURL, publishedPostID, errorMessage sql.NullString
	var mediaType, status string

	if err := row.Scan(
		&post.ID, &post.AuthorID, &description, &mediaURL, &mediaType,
		&post.CommentsDisabled, &post.ScheduledFor, &status, &publishedPostID, &errorMessage,
		&post.CreatedAt, &post.UpdatedAt,
	); err != nil {
		return nil, err
	}

	st, err := model.ParseScheduledPostStatus(status)
	if err != nil {
		return nil, err
	}
	mt, err := model.ParseMediaType(mediaType)
	if err != nil {
		return nil, err
	}

	post.Status = st
	post.MediaType = mt
	post.Description = nullStringValue(description)
	post.MediaURL = nullStringValue(mediaURL)
	post.PublishedPostID = nullStringValue(publishedPostID)
	post.ErrorMessage = nullStringValue(errorMessage)

	return post, nil
}

func collectScheduledPosts(rows *sql.Rows) ([]*model.ScheduledPost, error) {
	var posts []*model.ScheduledPost
	for rows.Next() {
		post, err := scanScheduledPost(rows)
		if err != nil {
			return nil, fmt.Errorf("予約投稿の読み取りに失敗しました: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("予約投稿の走査に失敗しました: %w", err)
	}
	return posts, nil
}

// affectedOne は更新件数が1件かどうかを返す。
func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}

// truncateRunes は文字列をmax文字（rune単位）に切り詰める。
func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ ScheduledPostRepository = (*PostgresScheduledPostRepo)(nil)
