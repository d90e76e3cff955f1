package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// maxTextRunes は通知本文に埋め込む1項目の最大文字数。
const maxTextRunes = 120

// maxStripPasses はエンティティで隠されたタグを除去する繰り返しの上限。
const maxStripPasses = 4

// TextSanitizer は利用者が登録した文字列（テナント名など）を通知本文に埋め込める形にする。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去してプレーンテキストに戻し、
	// 制御文字と連続する空白を1つの空白にまとめ、長すぎる場合は切り詰める。
	// 出力はHTMLエスケープされない。
	Sanitize(s string) string
}

type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はbluemondayのStrictPolicyを使うTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *textSanitizer) Sanitize(raw string) string {
	stripped := s.plainText(raw)

	var b strings.Builder
	space := false
	n := 0
	for _, r := range stripped {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			n++
			space = false
		}
		if n >= maxTextRunes {
			b.WriteString("…")
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// plainText はタグを除去したうえでエンティティを文字に戻す。
// 戻した結果に新たなタグが現れた場合は変化しなくなるまで繰り返す。
func (s *textSanitizer) plainText(raw string) string {
	text := raw
	for i := 0; i < maxStripPasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(text))
		if next == text {
			break
		}
		text = next
	}
	return text
}
