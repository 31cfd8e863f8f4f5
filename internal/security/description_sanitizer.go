// Package security はアプリケーションのセキュリティ機能を提供する。
//
// DescriptionSanitizer は予約投稿の本文からHTMLを除去し、
// 公開後の投稿にマークアップやスクリプトが混入しないようにする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DescriptionSanitizer は投稿本文のサニタイズ機能のインターフェースを定義する。
type DescriptionSanitizer interface {
	// Sanitize は本文から全てのHTMLタグを除去し、前後の空白を取り除いた文字列を返す。
	// 戻り値はHTMLエスケープされていないプレーンテキスト。同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// descriptionSanitizer はDescriptionSanitizerの実装。
// bluemondayのStrictPolicyはスレッドセーフに共有できる。
type descriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer はDescriptionSanitizerの新しいインスタンスを生成する。
// 投稿本文はプレーンテキストとして扱うため、タグを1つも許可しないStrictPolicyを使う。
func NewDescriptionSanitizer() *descriptionSanitizer {
	return &descriptionSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は本文をサニタイズする。
// StrictPolicyの出力はHTMLエスケープされているため、プレーンテキストに戻してから返す。
func (s *descriptionSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
