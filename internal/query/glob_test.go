package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"*", "", true},
		{"*", "#anything", true},
		{"", "", true},
		{"", "#a", false},
		{"*geek*", "#geeknode", true},
		{"*geek*", "#random", false},
		{"?geek*", "geeky stuff", false},
		{"?geek*", "#geek", true},
		{"#foo*", "#footnote", true},
		{"#foo*", "##footnote", false},
		{"*bar?", "#barx", true},
		{"*bar?", "#bar", false},
		{"multiple*ordered*search*terms", "multiple-ordered-and-glued-searchterms", true},
		{"two*terms", "twoterms", true},
		{"*a*b*c", "xaybzc", true},
		{"*a*b*c", "xaybzcd", false},
		{"#GeekNode", "#geeknode", true},
		{"[abc]", "[abc]", true},
		{"[abc]", "a", false},
		{"a\\*", "a\\bc", true},
		{"ÉTÉ*", "été!", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, Compile(tt.pattern).Match(tt.subject))
		})
	}
}

func TestPatternAnchored(t *testing.T) {
	p := Compile("geek")
	assert.False(t, p.Match("#geeknode"), "literal pattern must not match a substring")
	assert.True(t, p.Match("GEEK"))
}

func TestPatternHasWildcard(t *testing.T) {
	assert.True(t, Compile("a*").HasWildcard())
	assert.True(t, Compile("a?").HasWildcard())
	assert.False(t, Compile("#plain").HasWildcard())
	assert.Equal(t, "#Plain", Compile("#Plain").String())
}

// literal draws strings that cannot contain wildcard characters
func literal() *rapid.Generator[string] {
	return rapid.StringMatching(`[#a-zA-Z0-9_.\-]{0,12}`)
}

func TestLiteralPatternIsCaseInsensitiveEquality(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := literal().Draw(t, "pattern")
		s := literal().Draw(t, "subject")

		got := Compile(p).Match(s)
		want := strings.EqualFold(p, s)
		if got != want {
			t.Fatalf("Compile(%q).Match(%q) = %v, want %v", p, s, got, want)
		}
	})
}

func TestMatchIgnoresCase(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := rapid.StringMatching(`[a-zA-Z*?]{0,8}`).Draw(t, "pattern")
		s := rapid.StringMatching(`[a-zA-Z]{0,12}`).Draw(t, "subject")

		base := Compile(p).Match(s)
		if Compile(strings.ToUpper(p)).Match(strings.ToLower(s)) != base {
			t.Fatalf("case changed the result for %q / %q", p, s)
		}
		if Compile(strings.ToLower(p)).Match(strings.ToUpper(s)) != base {
			t.Fatalf("case changed the result for %q / %q", p, s)
		}
	})
}

func TestStarSurroundingMatchesAnyContainingString(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		needle := literal().Draw(t, "needle")
		prefix := literal().Draw(t, "prefix")
		suffix := literal().Draw(t, "suffix")

		if !Compile("*"+needle+"*").Match(prefix+needle+suffix) {
			t.Fatalf("*%s* should match %q", needle, prefix+needle+suffix)
		}
	})
}

func TestFoldingKeepsOneCharacterPerRune(t *testing.T) {
	assert.True(t, Compile("?").Match("ß"))
	assert.True(t, Compile("stra?e").Match("STRAßE"))
	assert.True(t, Compile("ß").Match("ẞ"))
	assert.False(t, Compile("ss").Match("ß"))
	assert.True(t, Compile("#ǅ?").Match("#ǆx"))
}

func TestQuestionMarkMatchesAnySingleRune(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := rapid.Rune().Draw(t, "rune")
		if !Compile("?").Match(string(r)) {
			t.Fatalf("? should match %q", string(r))
		}
		if Compile("?").Match(string(r) + string(r)) {
			t.Fatalf("? should not match two runes %q", string(r)+string(r))
		}
	})
}
