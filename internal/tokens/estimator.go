// Package tokens provides token-count estimation for chunk metrics.
// This package is internal and should not be imported by external projects.
package tokens

import (
	"fmt"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator 估算一段文本的 token 数。
type Estimator interface {
	Count(text string) int
}

// =============================================================================
// Tiktoken 估算器
// =============================================================================

// TiktokenEstimator counts tokens using a tiktoken encoding.
// 编码在首次使用时懒初始化；初始化失败则回退到字符估算。
type TiktokenEstimator struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
	fallback Estimator
}

// NewTiktokenEstimator creates an estimator backed by the given encoding
// (e.g. "cl100k_base"). An empty encoding selects cl100k_base.
func NewTiktokenEstimator(encoding string) *TiktokenEstimator {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenEstimator{
		encoding: encoding,
		fallback: CharEstimator{},
	}
}

func (t *TiktokenEstimator) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Count returns the token count of text.
func (t *TiktokenEstimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if err := t.init(); err != nil {
		return t.fallback.Count(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// =============================================================================
// 字符估算器
// =============================================================================

const (
	// 平均 1 个 token ≈ 4 个英文字符，中文约 1.5 个字符
	latinCharsPerToken = 4.0
	cjkCharsPerToken   = 1.5
)

// CharEstimator estimates tokens from character counts without any
// external encoding data.
type CharEstimator struct{}

// Count returns an estimated token count of text.
func (CharEstimator) Count(text string) int {
	if text == "" {
		return 0
	}

	var latin, cjk int
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else {
			latin++
		}
	}

	n := int(float64(latin)/latinCharsPerToken + float64(cjk)/cjkCharsPerToken)
	if n < 1 {
		n = 1
	}
	return n
}
