// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザー入力の自由記述テキスト（決済の説明、表示名）から
// マークアップを除去し、プレーンテキストとして扱える形に整える。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は自由記述テキストのサニタイズ機能のインターフェース。
type TextSanitizer interface {
	// Clean はHTMLタグを除去し、前後の空白を取り除いたテキストを返す。
	// maxRunesが正の場合は文字数（rune）で切り詰める。
	Clean(raw string, maxRunes int) string
}

// textSanitizer はbluemondayのStrictPolicyでタグを全て除去する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はタグ除去後にエンティティを戻し、プレーンテキストにする。
// 出力先（HTMLテンプレート、JSON）でのエスケープは呼び出し側に任せる。
func (s *textSanitizer) Clean(raw string, maxRunes int) string {
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")
	return Truncate(text, maxRunes)
}

// Truncate はsをmaxRunes文字までに切り詰める。maxRunesが0以下なら何もしない。
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}
