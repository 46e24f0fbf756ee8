// Package paginate packs reply entries into lines that fit the IRC line limit.
package paginate

import (
	"strings"

	"github.com/ergochat/irc-go/ircutils"

	"github.com/matt0x6f/alis-bot/internal/constants"
)

// NoMatches is the single line sent for an empty result
const NoMatches = "No channels matched your search."

// Paginator packs entries greedily into payloads of at most MaxLine-Overhead bytes
type Paginator struct {
	MaxLine   int
	Overhead  int
	Separator string
	Empty     string
}

// Overhead is the framing around a payload sent as
// "<command> <target> :<payload>\r\n" and relayed with a source prefix of up
// to sourceReserve bytes.
func Overhead(sourceReserve int, command, target string) int {
	return sourceReserve + len(command) + len(" ") + len(target) + len(" :") + len("\r\n")
}

// ForTarget returns a paginator for PRIVMSG replies to target
func ForTarget(target string) Paginator {
	return Paginator{
		MaxLine:   constants.MaxLineLength,
		Overhead:  Overhead(constants.SourceReserve, "PRIVMSG", target),
		Separator: " ",
		Empty:     NoMatches,
	}
}

// Budget is the largest payload in bytes, never less than 1
func (p Paginator) Budget() int {
	if b := p.MaxLine - p.Overhead; b > 0 {
		return b
	}
	return 1
}

// Lines puts each entry on a line of its own, truncated to the budget
func (p Paginator) Lines(entries []string) []string {
	budget := p.Budget()
	if len(entries) == 0 {
		return p.Paginate(nil)
	}
	lines := make([]string, len(entries))
	for i, entry := range entries {
		lines[i] = ircutils.TruncateUTF8Safe(entry, budget)
	}
	return lines
}

// Paginate packs entries in order. An entry longer than the budget is
// truncated on a UTF-8 boundary and sent on a line of its own.
func (p Paginator) Paginate(entries []string) []string {
	budget := p.Budget()
	if len(entries) == 0 {
		empty := p.Empty
		if empty == "" {
			empty = NoMatches
		}
		return []string{ircutils.TruncateUTF8Safe(empty, budget)}
	}

	var lines []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
		}
	}

	for _, entry := range entries {
		if len(entry) > budget {
			entry = ircutils.TruncateUTF8Safe(entry, budget)
		}
		if cur.Len() > 0 && cur.Len()+len(p.Separator)+len(entry) > budget {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(p.Separator)
		}
		cur.WriteString(entry)
	}
	flush()
	return lines
}
