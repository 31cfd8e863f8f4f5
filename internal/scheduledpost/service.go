// Package scheduledpost は予約投稿のライフサイクル管理のドメインロジックを提供する。
//
// 予約投稿は pending の間だけ所有者が内容・予約日時を変更したり取り消したりでき、
// 公開ワーカーにより published または failed に遷移した後は変更できない。
// 状態の判定は常にリポジトリから読み直した値で行い、メモリ上にキャッシュしない。
package scheduledpost

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/schedpost/internal/model"
	"github.com/hitoshi/schedpost/internal/repository"
	"github.com/hitoshi/schedpost/internal/security"
)

// 一覧取得の件数
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// URLValidator はメディアURLの静的検証インターフェース。
// security.MediaGuard が満たす。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// CreateInput は予約投稿作成の入力。
type CreateInput struct {
	AuthorID         string
	Description      string
	MediaURL         string
	MediaType        string
	CommentsDisabled bool
	ScheduledFor     time.Time
}

// UpdateInput は予約投稿更新の入力。nilのフィールドは変更しない。
type UpdateInput struct {
	Description      *string
	MediaURL         *string
	MediaType        *string
	CommentsDisabled *bool
	ScheduledFor     *time.Time
}

// Detail は予約投稿に投稿者と公開済み投稿を結合したもの。
type Detail struct {
	Entry         *model.ScheduledPost
	Author        *model.Account
	PublishedPost *model.Post // 未公開、または公開後に投稿が削除された場合はnil
}

// Service は予約投稿のサービス層。
type Service struct {
	repo      repository.ScheduledPostRepository
	users     repository.UserRepository
	posts     repository.PostRepository
	sanitizer security.DescriptionSanitizer
	media     URLValidator
	now       func() time.Time
	newID     func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.ScheduledPostRepository,
	users repository.UserRepository,
	posts repository.PostRepository,
	sanitizer security.DescriptionSanitizer,
	media URLValidator,
) *Service {
	return &Service{
		repo:      repo,
		users:     users,
		posts:     posts,
		sanitizer: sanitizer,
		media:     media,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Create は予約投稿を pending で作成する。
// 予約日時が現在時刻より後でない場合、本文とメディアがどちらも空の場合はバリデーションエラーを返す。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.ScheduledPost, error) {
	now := s.now()

	if in.AuthorID == "" {
		return nil, model.NewUnauthorizedError()
	}
	account, err := s.users.FindAccount(ctx, in.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError(in.AuthorID)
	}

	mediaType, err := model.ParseMediaType(in.MediaType)
	if err != nil {
		return nil, model.NewValidationError("media_type は image または video を指定してください")
	}

	post := &model.ScheduledPost{
		ID:               s.newID(),
		AuthorID:         in.AuthorID,
		Description:      s.sanitizer.Sanitize(in.Description),
		MediaURL:         in.MediaURL,
		MediaType:        mediaType,
		CommentsDisabled: in.CommentsDisabled,
		ScheduledFor:     in.ScheduledFor.UTC(),
		Status:           model.ScheduledPostStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := validateScheduledFor(post.ScheduledFor, now); err != nil {
		return nil, err
	}
	if err := s.validateContent(post); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("予約投稿の保存に失敗しました: %w", err)
	}

	slog.Info("予約投稿を作成しました",
		slog.String("scheduled_post_id", post.ID),
		slog.String("author_id", post.AuthorID),
		slog.Time("scheduled_for", post.ScheduledFor),
	)

	return post, nil
}

// Update は pending の予約投稿のうち指定されたフィールドだけを変更する。
// 公開処理や取り消しと競合して pending でなくなった場合は INVALID_STATE を返す。
func (s *Service) Update(ctx context.Context, id, authorID string, in UpdateInput) (*model.ScheduledPost, error) {
	current, err := s.findOwnedPending(ctx, id, authorID, "update")
	if err != nil {
		return nil, err
	}

	now := s.now()
	updated := *current

	if in.Description != nil {
		updated.Description = s.sanitizer.Sanitize(*in.Description)
	}
	if in.MediaURL != nil {
		updated.MediaURL = *in.MediaURL
	}
	if in.MediaType != nil {
		mediaType, err := model.ParseMediaType(*in.MediaType)
		if err != nil {
			return nil, model.NewValidationError("media_type は image または video を指定してください")
		}
		updated.MediaType = mediaType
	}
	if in.CommentsDisabled != nil {
		updated.CommentsDisabled = *in.CommentsDisabled
	}
	if in.ScheduledFor != nil {
		updated.ScheduledFor = in.ScheduledFor.UTC()
		if err := validateScheduledFor(updated.ScheduledFor, now); err != nil {
			return nil, err
		}
	}

	if err := s.validateContent(&updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = now

	ok, err := s.repo.UpdatePending(ctx, &updated)
	if err != nil {
		return nil, fmt.Errorf("予約投稿の更新に失敗しました: %w", err)
	}
	if !ok {
		return nil, s.lostRace(ctx, id, "update")
	}

	return &updated, nil
}

// Cancel は pending の予約投稿を cancelled に遷移させる。
// 既に終端状態の場合は成功扱いにせず INVALID_STATE を返す。
func (s *Service) Cancel(ctx context.Context, id, authorID string) (*model.ScheduledPost, error) {
	current, err := s.findOwnedPending(ctx, id, authorID, "cancel")
	if err != nil {
		return nil, err
	}

	now := s.now()
	ok, err := s.repo.CancelPending(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("予約投稿の取り消しに失敗しました: %w", err)
	}
	if !ok {
		return nil, s.lostRace(ctx, id, "cancel")
	}

	cancelled := *current
	cancelled.Status = model.ScheduledPostStatusCancelled
	cancelled.UpdatedAt = now

	slog.Info("予約投稿を取り消しました",
		slog.String("scheduled_post_id", id),
		slog.String("author_id", authorID),
	)

	return &cancelled, nil
}

// Get は所有者の予約投稿を返す。
// UUIDとして解釈できないIDは存在しない予約投稿として扱い、ストアに問い合わせない。
func (s *Service) Get(ctx context.Context, id, authorID string) (*model.ScheduledPost, error) {
	if uuid.Validate(id) != nil {
		return nil, model.NewScheduledPostNotFoundError(id)
	}
	post, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("予約投稿の取得に失敗しました: %w", err)
	}
	if post == nil {
		return nil, model.NewScheduledPostNotFoundError(id)
	}
	if post.AuthorID != authorID {
		return nil, model.NewForbiddenError(id)
	}
	return post, nil
}

// ListForOwner は所有者の予約投稿を予約日時の早い順に返す。
// limit が0以下の場合は DefaultListLimit、MaxListLimit を超える場合は MaxListLimit に丸める。
func (s *Service) ListForOwner(ctx context.Context, authorID string, limit int) ([]*model.ScheduledPost, error) {
	limit = normalizeLimit(limit)

	posts, err := s.repo.ListByAuthor(ctx, authorID, limit)
	if err != nil {
		return nil, fmt.Errorf("予約投稿一覧の取得に失敗しました: %w", err)
	}
	if posts == nil {
		posts = []*model.ScheduledPost{}
	}
	return posts, nil
}

// Detail は予約投稿を投稿者情報と公開済み投稿付きで返す。
func (s *Service) Detail(ctx context.Context, id, authorID string) (*Detail, error) {
	post, err := s.Get(ctx, id, authorID)
	if err != nil {
		return nil, err
	}

	author, err := s.users.FindAccount(ctx, post.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}

	detail := &Detail{Entry: post, Author: author}
	if post.Status == model.ScheduledPostStatusPublished && post.PublishedPostID != "" {
		published, err := s.posts.FindByID(ctx, post.PublishedPostID)
		if err != nil {
			return nil, fmt.Errorf("公開済み投稿の取得に失敗しました: %w", err)
		}
		detail.PublishedPost = published
	}
	return detail, nil
}

// findOwnedPending は予約投稿を読み直し、存在・所有者・状態を検証する。
func (s *Service) findOwnedPending(ctx context.Context, id, authorID, operation string) (*model.ScheduledPost, error) {
	post, err := s.Get(ctx, id, authorID)
	if err != nil {
		return nil, err
	}
	if !allows(post.Status, operation) {
		return nil, model.NewInvalidStateError(post.Status, operation)
	}
	return post, nil
}

// allows は状態遷移表に従って操作を受け付けられるかを返す。
// 取り消しは cancelled への遷移、更新は終端状態でないことが条件。
func allows(status model.ScheduledPostStatus, operation string) bool {
	switch operation {
	case "cancel":
		return status.CanTransitionTo(model.ScheduledPostStatusCancelled)
	default:
		return !status.IsTerminal()
	}
}

// lostRace は条件付き更新が0件だった場合のエラーを組み立てる。
// 読み直した時点の状態をエラーに含める。
func (s *Service) lostRace(ctx context.Context, id, operation string) error {
	post, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("予約投稿の再取得に失敗しました: %w", err)
	}
	if post == nil {
		return model.NewScheduledPostNotFoundError(id)
	}

	slog.Info("予約投稿の状態が変化していたため操作を中止しました",
		slog.String("scheduled_post_id", id),
		slog.String("operation", operation),
		slog.String("status", string(post.Status)),
	)
	return model.NewInvalidStateError(post.Status, operation)
}

// validateContent は本文・メディアの内容を検証する。
func (s *Service) validateContent(post *model.ScheduledPost) error {
	if !post.HasContent() {
		return model.NewValidationError("本文またはメディアのいずれかを指定してください")
	}
	if utf8.RuneCountInString(post.Description) > model.MaxDescriptionLength {
		return model.NewValidationError(fmt.Sprintf("本文は%d文字以内で入力してください", model.MaxDescriptionLength))
	}
	if post.MediaURL != "" {
		if len(post.MediaURL) > model.MaxMediaURLLength {
			return model.NewValidationError(fmt.Sprintf("media_url は%d文字以内で指定してください", model.MaxMediaURLLength))
		}
		if err := s.media.ValidateURL(post.MediaURL); err != nil {
			return model.NewValidationError(fmt.Sprintf("media_url が不正です: %v", err))
		}
	}
	return nil
}

// validateScheduledFor は予約日時が現在時刻より厳密に後であることを検証する。
func validateScheduledFor(scheduledFor, now time.Time) error {
	if scheduledFor.IsZero() {
		return model.NewValidationError("scheduled_for を指定してください")
	}
	if !scheduledFor.After(now) {
		return model.NewValidationError("scheduled_for は現在時刻より後の日時を指定してください")
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
