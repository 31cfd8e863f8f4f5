// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, schedule, publish, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となったエラー（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeScheduledPostNotFound = "SCHEDULED_POST_NOT_FOUND"
	ErrCodeAccountNotFound       = "ACCOUNT_NOT_FOUND"
	ErrCodeInvalidState          = "INVALID_STATE"
	ErrCodePublishWriteFailed    = "PUBLISH_WRITE_FAILED"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
)

// HasCode はエラーチェーン中に指定コードのAPIErrorが含まれるかを判定する。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewValidationError は入力値エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewForbiddenError は所有者以外による操作のエラーを生成する。
func NewForbiddenError(scheduledPostID string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この予約投稿を操作する権限がありません: %s", scheduledPostID),
		Category: "auth",
		Action:   "自分が作成した予約投稿のみ操作できます。",
	}
}

// NewScheduledPostNotFoundError は予約投稿が見つからない場合のエラーを生成する。
func NewScheduledPostNotFoundError(scheduledPostID string) *APIError {
	return &APIError{
		Code:     ErrCodeScheduledPostNotFound,
		Message:  fmt.Sprintf("指定された予約投稿が見つかりません: %s", scheduledPostID),
		Category: "schedule",
		Action:   "予約投稿IDを確認してください。",
	}
}

// NewAccountNotFoundError はアカウントが見つからない場合のエラーを生成する。
func NewAccountNotFoundError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("アカウントが見つかりません: %s", accountID),
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidStateError は現在の状態では許可されない操作のエラーを生成する。
func NewInvalidStateError(status ScheduledPostStatus, operation string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  fmt.Sprintf("状態が %s の予約投稿には %s を実行できません。", status, operation),
		Category: "schedule",
		Action:   "予約中（pending）の投稿のみ変更・取り消しできます。必要であれば新しく予約してください。",
	}
}

// NewPublishWriteError は公開先への書き込み失敗を表すエラーを生成する。
func NewPublishWriteError(err error) *APIError {
	return &APIError{
		Code:     ErrCodePublishWriteFailed,
		Message:  "投稿の作成に失敗しました",
		Category: "publish",
		Action:   "新しく予約投稿を作成し直してください。",
		Err:      err,
	}
}

// NewUnauthorizedError は未認証リクエストのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}
