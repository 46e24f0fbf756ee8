package command

import (
	"strings"

	"github.com/ergochat/irc-go/ircfmt"
)

// helpTemplate uses ircfmt escapes: $b toggles bold, $r resets formatting
const helpTemplate = `%NICK% searches channels with more flexibility than /list.
Usage: $blist$r <pattern> [options]   shows channels whose $bname$r matches <pattern>
  <pattern>              glob: * matches any run of characters, ? exactly one (case-insensitive)
  -t, --topic <pattern>  channel $btopic$r matches <pattern>
  --min <n>              channels with $bat least$r <n> users
  --max <n>              channels with $bat most$r <n> users
Examples:
  /msg %NICK% list *searchterm*
  /msg %NICK% list * --topic multiple*ordered*search*terms
  /msg %NICK% list #foo* --min 50`

// HelpLines returns the help text for a bot running as nick, one IRC line per element
func HelpLines(nick string) []string {
	text := ircfmt.Unescape(strings.ReplaceAll(helpTemplate, "%NICK%", nick))
	return strings.Split(text, "\n")
}
