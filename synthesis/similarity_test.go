package synthesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("First sentence. Second one! Third?")
	assert.Equal(t, []string{"First sentence", "Second one", "Third"}, got)
}

func TestSplitSentencesCJK(t *testing.T) {
	got := SplitSentences("第一句。第二句！第三句？")
	assert.Equal(t, []string{"第一句", "第二句", "第三句"}, got)
}

func TestSplitSentencesNewlines(t *testing.T) {
	got := SplitSentences("line one\nline two\n\nline three.")
	assert.Equal(t, []string{"line one", "line two", "line three"}, got)
}

func TestSplitSentencesEmpty(t *testing.T) {
	assert.Empty(t, SplitSentences(""))
	assert.Empty(t, SplitSentences("   \n\n  。！  "))
}

func TestJaccardIdentical(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard("the quick brown fox", "the quick brown fox"))
}

func TestJaccardCaseInsensitive(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard("The Quick Fox", "the quick fox"))
}

func TestJaccardDisjoint(t *testing.T) {
	assert.Equal(t, 0.0, Jaccard("alpha beta", "gamma delta"))
}

func TestJaccardPartial(t *testing.T) {
	// {a,b,c} ∩ {b,c,d} = 2, ∪ = 4
	assert.InDelta(t, 0.5, Jaccard("a b c", "b c d"), 1e-9)
}

func TestJaccardEmpty(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard("", ""))
	assert.Equal(t, 0.0, Jaccard("words here", ""))
}

func TestJaccardCJKPerCharacter(t *testing.T) {
	// 汉字逐字成词：{今,天,好} ∩ {明,天,好} = 2, ∪ = 4
	assert.InDelta(t, 0.5, Jaccard("今天好", "明天好"), 1e-9)
}

func TestJaccardProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.StringMatching(`[a-z ]{0,40}`).Draw(t, "a")
		b := rapid.StringMatching(`[a-z ]{0,40}`).Draw(t, "b")

		sim := Jaccard(a, b)
		if sim < 0 || sim > 1 {
			t.Fatalf("similarity %f out of [0,1]", sim)
		}
		if sim != Jaccard(b, a) {
			t.Fatalf("similarity not symmetric for %q / %q", a, b)
		}
	})
}
