// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizer はユーザーが入力するプロフィール項目（氏名・電話番号など）から
// HTMLマークアップを取り除き、プレーンテキストとして保存できるようにする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ProfileSanitizer はプロフィール項目のサニタイズ機能のインターフェース。
type ProfileSanitizer interface {
	// Sanitize はすべてのタグを除去し、前後の空白を取り除いたテキストを返す。
	Sanitize(s string) string
}

// profileSanitizer はbluemondayのStrictPolicyを使う実装。
// Policyはスレッドセーフ。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() ProfileSanitizer {
	return &profileSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去したプレーンテキストを返す。
// bluemondayがエスケープした文字（&や'）は元に戻す。
func (s *profileSanitizer) Sanitize(in string) string {
	if in == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(in)))
}
