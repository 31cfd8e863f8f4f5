package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/schedpost/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
// DBTXを受け取るため、*sql.DB と *sql.Tx のどちらにも束縛できる。
type PostgresPostRepo struct {
	db  DBTX
	now func() time.Time
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db DBTX) *PostgresPostRepo {
	return &PostgresPostRepo{db: db, now: time.Now}
}

// Create は投稿を作成し、新しい投稿IDを返す。
// 書き込みに失敗した場合は PUBLISH_WRITE_FAILED の APIError を返す。
func (r *PostgresPostRepo) Create(ctx context.Context, post model.NewPost) (string, error) {
	id := uuid.New().String()
	now := r.now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, description, media_url, media_type, posted_by,
		                    comments_disabled, likes_count, comments_count,
		                    created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, $7)`,
		id, nullString(post.Description), nullString(post.MediaURL), post.MediaType,
		post.AuthorID, post.CommentsDisabled, now,
	)
	if err != nil {
		return "", model.NewPublishWriteError(err)
	}
	return id, nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	post := &model.Post{}
	var description, mediaURL sql.NullString
	var mediaType string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, description, media_url, media_type, posted_by, comments_disabled,
		        likes_count, comments_count, created_at, updated_at
		 FROM posts WHERE id = $1`,
		id,
	).Scan(
		&post.ID, &description, &mediaURL, &mediaType, &post.PostedBy, &post.CommentsDisabled,
		&post.LikesCount, &post.CommentsCount, &post.CreatedAt, &post.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}

	mt, err := model.ParseMediaType(mediaType)
	if err != nil {
		return nil, fmt.Errorf("投稿のメディア種別が不正です: %w", err)
	}
	post.MediaType = mt
	post.Description = nullStringValue(description)
	post.MediaURL = nullStringValue(mediaURL)

	return post, nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
