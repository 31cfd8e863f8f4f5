// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// ScheduledPost は指定日時に公開される予約投稿を表す。
type ScheduledPost struct {
	ID               string
	AuthorID         string
	Description      string
	MediaURL         string
	MediaType        MediaType
	CommentsDisabled bool
	ScheduledFor     time.Time
	Status           ScheduledPostStatus
	PublishedPostID  string // Status = published のときのみ設定される
	ErrorMessage     string // Status = failed のときのみ設定される
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasContent は本文またはメディアのいずれかが設定されているかを返す。
func (p *ScheduledPost) HasContent() bool {
	return p.Description != "" || p.MediaURL != ""
}

// IsDue は指定時刻の時点で公開対象かどうかを返す。
func (p *ScheduledPost) IsDue(now time.Time) bool {
	return p.Status == ScheduledPostStatusPending && !p.ScheduledFor.After(now)
}

// ScheduledPostStatus は予約投稿のライフサイクル状態を表す。
// 定義済みの4値以外は ParseScheduledPostStatus で拒否される。
type ScheduledPostStatus string

const (
	// ScheduledPostStatusPending は公開待ちの状態。
	ScheduledPostStatusPending ScheduledPostStatus = "pending"
	// ScheduledPostStatusPublished は公開済みの状態（終端）。
	ScheduledPostStatusPublished ScheduledPostStatus = "published"
	// ScheduledPostStatusFailed は公開に失敗した状態（終端、自動リトライなし）。
	ScheduledPostStatusFailed ScheduledPostStatus = "failed"
	// ScheduledPostStatusCancelled は所有者により取り消された状態（終端）。
	ScheduledPostStatusCancelled ScheduledPostStatus = "cancelled"
)

// ParseScheduledPostStatus は文字列を ScheduledPostStatus に変換する。
func ParseScheduledPostStatus(s string) (ScheduledPostStatus, error) {
	switch st := ScheduledPostStatus(s); st {
	case ScheduledPostStatusPending,
		ScheduledPostStatusPublished,
		ScheduledPostStatusFailed,
		ScheduledPostStatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown scheduled post status: %q", s)
	}
}

// IsTerminal は終端状態かどうかを返す。
func (s ScheduledPostStatus) IsTerminal() bool {
	return s != ScheduledPostStatusPending
}

// CanTransitionTo は状態遷移が許可されているかを返す。
// pending からのみ published / failed / cancelled へ遷移できる。
func (s ScheduledPostStatus) CanTransitionTo(next ScheduledPostStatus) bool {
	if s != ScheduledPostStatusPending {
		return false
	}
	switch next {
	case ScheduledPostStatusPublished, ScheduledPostStatusFailed, ScheduledPostStatusCancelled:
		return true
	default:
		return false
	}
}

// MediaType は添付メディアの種類を表す。
type MediaType string

const (
	// MediaTypeImage は画像メディア。
	MediaTypeImage MediaType = "image"
	// MediaTypeVideo は動画メディア。
	MediaTypeVideo MediaType = "video"
)

// ParseMediaType は文字列を MediaType に変換する。空文字列は image とみなす。
func ParseMediaType(s string) (MediaType, error) {
	switch MediaType(s) {
	case "", MediaTypeImage:
		return MediaTypeImage, nil
	case MediaTypeVideo:
		return MediaTypeVideo, nil
	default:
		return "", fmt.Errorf("unknown media type: %q", s)
	}
}

// 列の最大長
const (
	MaxDescriptionLength  = 1000
	MaxMediaURLLength     = 255
	MaxErrorMessageLength = 500
)
