// Package model はドメインモデルを定義する。
package model

import "time"

// Account は投稿者として参照されるアカウントを表す。
// アカウントの作成や認証は別システムが担当し、ここでは参照のみ行う。
type Account struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
