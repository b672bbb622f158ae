package synthesis

import (
	"strings"
	"unicode"
)

// 句子终止符，同时覆盖半角与 CJK 全角标点。
func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '；', ';':
		return true
	}
	return false
}

// SplitSentences 按终止标点与换行切分文本，返回去除首尾空白与
// 终止符后的非空句子序列。
func SplitSentences(text string) []string {
	var sentences []string
	var b strings.Builder

	flush := func() {
		s := strings.TrimSpace(b.String())
		b.Reset()
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	for _, r := range text {
		if isTerminal(r) || r == '\n' {
			flush()
			continue
		}
		b.WriteRune(r)
	}
	flush()

	return sentences
}

// wordSet 分词为小写词集合。按非字母数字切分，CJK 字符逐字成词。
func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	var b strings.Builder

	emit := func() {
		if b.Len() > 0 {
			set[strings.ToLower(b.String())] = struct{}{}
			b.Reset()
		}
	}

	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			emit()
			set[string(r)] = struct{}{}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			emit()
		}
	}
	emit()

	return set
}

// Jaccard 计算两句话词集合的 Jaccard 相似度。两侧均为空视为完全相同。
func Jaccard(a, b string) float64 {
	sa, sb := wordSet(a), wordSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1.0
	}
	if len(sa) == 0 || len(sb) == 0 {
		return 0.0
	}

	inter := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}
