// Package model はドメインモデルを定義する。
package model

import "time"

// Post はタイムラインに表示される公開済み投稿を表す。
type Post struct {
	ID               string
	Description      string
	MediaURL         string
	MediaType        MediaType
	PostedBy         string
	CommentsDisabled bool
	LikesCount       int
	CommentsCount    int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewPost は公開先に作成する投稿の入力データ。
// 予約投稿の内容と投稿者から組み立てられる。
type NewPost struct {
	Description      string
	MediaURL         string
	MediaType        MediaType
	CommentsDisabled bool
	AuthorID         string
}
