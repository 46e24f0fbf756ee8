package paginate

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestOverhead(t *testing.T) {
	// "PRIVMSG alice :" is 15 bytes, CRLF 2, reserve 100
	assert.Equal(t, 117, Overhead(100, "PRIVMSG", "alice"))
}

func TestForTargetBudget(t *testing.T) {
	p := ForTarget("alice")
	assert.Equal(t, 512-117, p.Budget())
}

func TestPaginateEmpty(t *testing.T) {
	lines := ForTarget("alice").Paginate(nil)
	require.Len(t, lines, 1)
	assert.Equal(t, NoMatches, lines[0])
}

func TestPaginateSingleLine(t *testing.T) {
	lines := ForTarget("alice").Paginate([]string{"#geeknode(42)", "#random(5)"})
	assert.Equal(t, []string{"#geeknode(42) #random(5)"}, lines)
}

func TestPaginateSplitsAtBudget(t *testing.T) {
	p := Paginator{MaxLine: 20, Overhead: 0, Separator: " "}
	lines := p.Paginate([]string{"#aaaaa(1)", "#bbbbb(2)", "#ccccc(3)"})

	// "#aaaaa(1) #bbbbb(2)" is 19 bytes; adding the third would exceed 20
	assert.Equal(t, []string{"#aaaaa(1) #bbbbb(2)", "#ccccc(3)"}, lines)
}

func TestPaginateTruncatesOversizedEntry(t *testing.T) {
	p := Paginator{MaxLine: 10, Overhead: 0, Separator: " "}
	lines := p.Paginate([]string{"#a(1)", "#ééééééé(3)", "#b(2)"})

	require.Len(t, lines, 3)
	assert.Equal(t, "#a(1)", lines[0])
	assert.LessOrEqual(t, len(lines[1]), 10)
	assert.True(t, utf8.ValidString(lines[1]))
	assert.Equal(t, "#b(2)", lines[2])
}

func TestBudgetNeverZero(t *testing.T) {
	p := Paginator{MaxLine: 10, Overhead: 50}
	assert.Equal(t, 1, p.Budget())
}

func TestPaginateProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxLine := rapid.IntRange(40, 200).Draw(t, "maxLine")
		p := Paginator{MaxLine: maxLine, Overhead: rapid.IntRange(0, 10).Draw(t, "overhead"), Separator: " "}
		budget := p.Budget()

		entries := rapid.SliceOf(
			rapid.StringMatching(`#[a-zé]{1,8}\([0-9]{1,3}\)`),
		).Draw(t, "entries")

		lines := p.Paginate(entries)
		if len(entries) == 0 {
			if len(lines) != 1 {
				t.Fatalf("empty input produced %d lines", len(lines))
			}
			return
		}

		for _, line := range lines {
			if len(line) > budget {
				t.Fatalf("line %q is %d bytes, budget %d", line, len(line), budget)
			}
		}

		var rebuilt []string
		for _, line := range lines {
			rebuilt = append(rebuilt, strings.Split(line, p.Separator)...)
		}
		// entries are at most 22 bytes and the budget at least 30, so nothing is truncated
		if strings.Join(rebuilt, "\n") != strings.Join(entries, "\n") {
			t.Fatalf("reconstruction mismatch:\n got %q\nwant %q", rebuilt, entries)
		}
	})
}

func TestLinesOnePerEntry(t *testing.T) {
	p := Paginator{MaxLine: 40, Overhead: 10, Separator: " ", Empty: "none"}

	assert.Equal(t, []string{"none"}, p.Lines(nil))

	lines := p.Lines([]string{"#a(1): short", "#b(2): " + strings.Repeat("é", 30)})
	require.Len(t, lines, 2)
	assert.Equal(t, "#a(1): short", lines[0])
	assert.LessOrEqual(t, len(lines[1]), p.Budget())
	assert.True(t, utf8.ValidString(lines[1]))
	assert.True(t, strings.HasPrefix(lines[1], "#b(2): "))
}
