package query

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Pattern is a compiled, anchored, case-insensitive glob.
// '*' matches any run of characters, '?' exactly one, everything else is literal.
type Pattern struct {
	raw    string
	folded []rune
}

// MatchAll is the pattern used when no name pattern is given
var MatchAll = Compile("*")

// Compile folds the pattern once so matching only folds the subject
func Compile(raw string) Pattern {
	return Pattern{raw: raw, folded: fold(raw)}
}

// String returns the pattern as the user wrote it
func (p Pattern) String() string {
	return p.raw
}

// HasWildcard reports whether the pattern contains '*' or '?'
func (p Pattern) HasWildcard() bool {
	return strings.ContainsAny(p.raw, "*?")
}

// Match reports whether the whole of s matches the pattern
func (p Pattern) Match(s string) bool {
	return matchRunes(p.folded, fold(s))
}

// fold case-folds s rune by rune, so '?' keeps matching exactly one
// character. Runes whose full folding expands ("ß" to "ss") fold to the
// smallest rune of their simple folding orbit instead.
func fold(s string) []rune {
	caser := cases.Fold()
	out := make([]rune, 0, len(s))
	for _, r := range s {
		folded := caser.String(string(r))
		if f, size := utf8.DecodeRuneInString(folded); size == len(folded) && f != utf8.RuneError {
			out = append(out, f)
			continue
		}
		out = append(out, simpleFold(r))
	}
	return out
}

func simpleFold(r rune) rune {
	min := r
	for f := unicode.SimpleFold(r); f != r; f = unicode.SimpleFold(f) {
		if f < min {
			min = f
		}
	}
	return min
}

// matchRunes is the iterative star-backtracking matcher: on mismatch it
// resumes from the most recent '*', letting it swallow one more rune.
func matchRunes(pattern, subject []rune) bool {
	pi, si := 0, 0
	star, mark := -1, 0

	for si < len(subject) {
		switch {
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = si
			pi++
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == subject[si]):
			pi++
			si++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
