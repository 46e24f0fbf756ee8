package dispatch

import (
	"fmt"

	"github.com/matt0x6f/alis-bot/internal/paginate"
	"github.com/matt0x6f/alis-bot/internal/query"
)

// Request outcomes reported in EventRequestCompleted
const (
	OutcomeComplete = "complete"
	OutcomeTimeout  = "timeout"
	OutcomeRefused  = "refused"
	OutcomeLost     = "lost"
	OutcomeBusy     = "busy"
	OutcomeInvalid  = "invalid"
	OutcomeHelp     = "help"
)

const (
	replyTimeout = "Sorry, the channel list did not arrive in time. Please try again."
	replyRefused = "The server is too busy to list channels right now. Please try again later."
	replyBusy    = "Too many searches are waiting already. Please try again in a minute."
	replyDropped = "Your queued search was dropped because the connection to the server was lost. Please try again."
)

func replyError(err error) string {
	return "Error: " + err.Error() + ` (see "help")`
}

func replyQueued(position int) string {
	return fmt.Sprintf("Another search is running; yours is queued (position %d).", position)
}

func replySummary(matched int, spec query.Spec) string {
	plural := "s"
	if matched == 1 {
		plural = ""
	}
	return fmt.Sprintf("Total: %d channel%s matching: %s", matched, plural, spec)
}

// resultLines renders matched channels for requester. Entries are packed
// several to a line, except for topic searches which show each topic on a
// line of its own.
func resultLines(requester string, spec query.Spec, matched []query.ChannelRecord) []string {
	p := paginate.ForTarget(requester)
	if spec.Topic != nil {
		return p.Lines(query.TopicEntries(matched))
	}
	return p.Paginate(query.Entries(matched))
}
