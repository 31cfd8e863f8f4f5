package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/schedpost/internal/middleware"
	"github.com/hitoshi/schedpost/internal/model"
	"github.com/hitoshi/schedpost/internal/scheduledpost"
)

// maxRequestBodyBytes はリクエストボディの上限サイズ。
const maxRequestBodyBytes = 64 << 10

// ScheduledPostServiceInterface は予約投稿ハンドラーが必要とするサービスインターフェース。
type ScheduledPostServiceInterface interface {
	// Create は予約投稿を作成する。
	Create(ctx context.Context, in scheduledpost.CreateInput) (*scheduledPostResponse, error)
	// Update は予約中の投稿の内容または予約日時を変更する。
	Update(ctx context.Context, id, userID string, in scheduledpost.UpdateInput) (*scheduledPostResponse, error)
	// Cancel は予約中の投稿を取り消す。
	Cancel(ctx context.Context, id, userID string) (*scheduledPostResponse, error)
	// List はユーザーの予約投稿を予約日時の昇順で返す。
	List(ctx context.Context, userID string, limit int) ([]scheduledPostResponse, error)
	// Detail は予約投稿に投稿者と公開済み投稿を結合して返す。
	Detail(ctx context.Context, id, userID string) (*scheduledPostDetailResponse, error)
}

// ScheduledPostHandler は予約投稿のHTTPハンドラー。
type ScheduledPostHandler struct {
	service ScheduledPostServiceInterface
}

// NewScheduledPostHandler はScheduledPostHandlerを生成する。
func NewScheduledPostHandler(service ScheduledPostServiceInterface) *ScheduledPostHandler {
	return &ScheduledPostHandler{service: service}
}

// scheduledPostResponse は予約投稿のAPIレスポンス。
type scheduledPostResponse struct {
	ID               string    `json:"id"`
	AuthorID         string    `json:"author_id"`
	Description      string    `json:"description"`
	MediaURL         string    `json:"media_url"`
	MediaType        string    `json:"media_type"`
	CommentsDisabled bool      `json:"comments_disabled"`
	ScheduledFor     time.Time `json:"scheduled_for"`
	Status           string    `json:"status"`
	PublishedPostID  *string   `json:"published_post_id,omitempty"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// accountResponse は投稿者のAPIレスポンス。
type accountResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// postResponse は公開済み投稿のAPIレスポンス。
type postResponse struct {
	ID               string    `json:"id"`
	Description      string    `json:"description"`
	MediaURL         string    `json:"media_url"`
	MediaType        string    `json:"media_type"`
	CommentsDisabled bool      `json:"comments_disabled"`
	LikesCount       int       `json:"likes_count"`
	CommentsCount    int       `json:"comments_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// scheduledPostDetailResponse は予約投稿詳細のAPIレスポンス。
// 公開済み投稿が削除されている場合 published_post は null になる。
type scheduledPostDetailResponse struct {
	scheduledPostResponse
	Author        *accountResponse `json:"author"`
	PublishedPost *postResponse    `json:"published_post"`
}

// createScheduledPostRequest は予約投稿作成リクエストのボディ。
type createScheduledPostRequest struct {
	Description      string    `json:"description"`
	MediaURL         string    `json:"media_url"`
	MediaType        string    `json:"media_type"`
	CommentsDisabled bool      `json:"comments_disabled"`
	ScheduledFor     time.Time `json:"scheduled_for"`
}

// updateScheduledPostRequest は予約投稿更新リクエストのボディ。省略したフィールドは変更しない。
type updateScheduledPostRequest struct {
	Description      *string    `json:"description"`
	MediaURL         *string    `json:"media_url"`
	MediaType        *string    `json:"media_type"`
	CommentsDisabled *bool      `json:"comments_disabled"`
	ScheduledFor     *time.Time `json:"scheduled_for"`
}

// Create は予約投稿を作成する。
// POST /api/scheduled-posts
func (h *ScheduledPostHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createScheduledPostRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	post, err := h.service.Create(r.Context(), scheduledpost.CreateInput{
		AuthorID:         userID,
		Description:      req.Description,
		MediaURL:         req.MediaURL,
		MediaType:        req.MediaType,
		CommentsDisabled: req.CommentsDisabled,
		ScheduledFor:     req.ScheduledFor,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, post)
}

// List はユーザーの予約投稿一覧を返す。
// GET /api/scheduled-posts?limit=N
func (h *ScheduledPostHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("limit は0以上の整数で指定してください"))
			return
		}
		limit = n
	}

	posts, err := h.service.List(r.Context(), userID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, posts)
}

// Get は予約投稿の詳細を返す。
// GET /api/scheduled-posts/{id}
func (h *ScheduledPostHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	detail, err := h.service.Detail(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// Update は予約中の投稿を部分更新する。
// PATCH /api/scheduled-posts/{id}
func (h *ScheduledPostHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateScheduledPostRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	post, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), userID, scheduledpost.UpdateInput{
		Description:      req.Description,
		MediaURL:         req.MediaURL,
		MediaType:        req.MediaType,
		CommentsDisabled: req.CommentsDisabled,
		ScheduledFor:     req.ScheduledFor,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, post)
}

// Cancel は予約中の投稿を取り消す。
// POST /api/scheduled-posts/{id}/cancel
func (h *ScheduledPostHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	post, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, post)
}

// requireUserID はコンテキストから認証済みユーザーIDを取り出す。
// 取得できない場合は401を書き込み false を返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// decodeJSONBody はリクエストボディをdstにデコードする。
// 失敗した場合は400を書き込み false を返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		reason := "リクエストボディの解析に失敗しました"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			reason = "リクエストボディが大きすぎます"
		} else if errors.Is(err, io.EOF) {
			reason = "リクエストボディが空です"
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  reason,
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// APIError以外のエラーは詳細をログに記録し、内部エラーとして返す。
func handleServiceError(w http.ResponseWriter, err error) {
	if status := middleware.WriteAPIError(w, err); status == http.StatusInternalServerError {
		slog.Error("予約投稿APIで内部エラーが発生しました", slog.String("error", err.Error()))
	}
}
