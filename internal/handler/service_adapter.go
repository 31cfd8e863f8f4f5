package handler

import (
	"context"

	"github.com/hitoshi/schedpost/internal/model"
	"github.com/hitoshi/schedpost/internal/scheduledpost"
)

// ScheduledPostServiceAdapter は scheduledpost.Service を ScheduledPostServiceInterface に適合させるアダプタ。
type ScheduledPostServiceAdapter struct {
	svc *scheduledpost.Service
}

// NewScheduledPostServiceAdapter はScheduledPostServiceAdapterを生成する。
func NewScheduledPostServiceAdapter(svc *scheduledpost.Service) *ScheduledPostServiceAdapter {
	return &ScheduledPostServiceAdapter{svc: svc}
}

// Create は予約投稿を作成しhandlerレスポンス型で返す。
func (a *ScheduledPostServiceAdapter) Create(ctx context.Context, in scheduledpost.CreateInput) (*scheduledPostResponse, error) {
	post, err := a.svc.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	resp := toScheduledPostResponse(post)
	return &resp, nil
}

// Update は予約投稿を更新しhandlerレスポンス型で返す。
func (a *ScheduledPostServiceAdapter) Update(ctx context.Context, id, userID string, in scheduledpost.UpdateInput) (*scheduledPostResponse, error) {
	post, err := a.svc.Update(ctx, id, userID, in)
	if err != nil {
		return nil, err
	}
	resp := toScheduledPostResponse(post)
	return &resp, nil
}

// Cancel は予約投稿を取り消しhandlerレスポンス型で返す。
func (a *ScheduledPostServiceAdapter) Cancel(ctx context.Context, id, userID string) (*scheduledPostResponse, error) {
	post, err := a.svc.Cancel(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	resp := toScheduledPostResponse(post)
	return &resp, nil
}

// List はユーザーの予約投稿一覧をhandlerレスポンス型で返す。
func (a *ScheduledPostServiceAdapter) List(ctx context.Context, userID string, limit int) ([]scheduledPostResponse, error) {
	posts, err := a.svc.ListForOwner(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	results := make([]scheduledPostResponse, len(posts))
	for i, p := range posts {
		results[i] = toScheduledPostResponse(p)
	}
	return results, nil
}

// Detail は予約投稿詳細をhandlerレスポンス型で返す。
func (a *ScheduledPostServiceAdapter) Detail(ctx context.Context, id, userID string) (*scheduledPostDetailResponse, error) {
	d, err := a.svc.Detail(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return toScheduledPostDetailResponse(d), nil
}

// toScheduledPostResponse はドメインのScheduledPostをhandlerのレスポンス型に変換する。
func toScheduledPostResponse(p *model.ScheduledPost) scheduledPostResponse {
	resp := scheduledPostResponse{
		ID:               p.ID,
		AuthorID:         p.AuthorID,
		Description:      p.Description,
		MediaURL:         p.MediaURL,
		MediaType:        string(p.MediaType),
		CommentsDisabled: p.CommentsDisabled,
		ScheduledFor:     p.ScheduledFor,
		Status:           string(p.Status),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if p.PublishedPostID != "" {
		id := p.PublishedPostID
		resp.PublishedPostID = &id
	}
	if p.ErrorMessage != "" {
		msg := p.ErrorMessage
		resp.ErrorMessage = &msg
	}
	return resp
}

func toScheduledPostDetailResponse(d *scheduledpost.Detail) *scheduledPostDetailResponse {
	resp := &scheduledPostDetailResponse{
		scheduledPostResponse: toScheduledPostResponse(d.Entry),
	}
	if d.Author != nil {
		resp.Author = &accountResponse{
			ID:          d.Author.ID,
			DisplayName: d.Author.DisplayName,
			AvatarURL:   d.Author.AvatarURL,
		}
	}
	if d.PublishedPost != nil {
		resp.PublishedPost = &postResponse{
			ID:               d.PublishedPost.ID,
			Description:      d.PublishedPost.Description,
			MediaURL:         d.PublishedPost.MediaURL,
			MediaType:        string(d.PublishedPost.MediaType),
			CommentsDisabled: d.PublishedPost.CommentsDisabled,
			LikesCount:       d.PublishedPost.LikesCount,
			CommentsCount:    d.PublishedPost.CommentsCount,
			CreatedAt:        d.PublishedPost.CreatedAt,
		}
	}
	return resp
}

// --- compile-time interface checks ---

var _ ScheduledPostServiceInterface = (*ScheduledPostServiceAdapter)(nil)
