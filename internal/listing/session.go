// Package listing correlates one channel-list request with the RPL_LIST
// stream the server sends back.
package listing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/google/uuid"

	"github.com/matt0x6f/alis-bot/internal/query"
)

// IRC numerics used by a list session
const (
	RPL_TRYAGAIN  = "263"
	RPL_LISTSTART = "321"
	RPL_LIST      = "322"
	RPL_LISTEND   = "323"
)

var (
	// ErrBusy means the session queue is full
	ErrBusy = errors.New("channel list is busy")

	// ErrTimeout means the listing did not complete before its deadline
	ErrTimeout = errors.New("channel list timed out")

	// ErrServerRefused means the server answered LIST with RPL_TRYAGAIN
	ErrServerRefused = errors.New("server refused the channel list")
)

// State of a list session
type State int

const (
	Idle State = iota
	Requesting
	Collecting
	Complete
	TimedOut
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Collecting:
		return "collecting"
	case Complete:
		return "complete"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == Complete || s == TimedOut || s == Failed
}

// Session is one list request on one connection
type Session struct {
	ID        string
	ConnID    string
	Requester string
	Spec      query.Spec

	state    State
	records  []query.ChannelRecord
	dropped  int
	started  time.Time
	deadline time.Time
	err      error
}

// NewSession creates an idle session with a fresh request id
func NewSession(connID, requester string, spec query.Spec) *Session {
	return &Session{
		ID:        uuid.NewString(),
		ConnID:    connID,
		Requester: requester,
		Spec:      spec,
		state:     Idle,
	}
}

// State returns the current state
func (s *Session) State() State { return s.state }

// Deadline is zero until Start
func (s *Session) Deadline() time.Time { return s.deadline }

// Started is the time Start was called
func (s *Session) Started() time.Time { return s.started }

// Err is the failure cause once the session is TimedOut or Failed
func (s *Session) Err() error { return s.err }

// Dropped counts RPL_LIST lines that could not be parsed
func (s *Session) Dropped() int { return s.dropped }

// Start moves Idle to Requesting and returns the LIST message to send
func (s *Session) Start(now time.Time, timeout time.Duration) (ircmsg.Message, error) {
	if s.state != Idle {
		return ircmsg.Message{}, fmt.Errorf("start session in state %s", s.state)
	}
	s.state = Requesting
	s.started = now
	s.deadline = now.Add(timeout)
	return ircmsg.MakeMessage(nil, "", "LIST"), nil
}

// Handle feeds one server message to the session. It returns true when msg
// belonged to the list stream. Non-list messages are ignored.
func (s *Session) Handle(msg ircmsg.Message) bool {
	if s.state != Requesting && s.state != Collecting {
		return false
	}

	switch msg.Command {
	case RPL_LISTSTART:
		s.state = Collecting
	case RPL_LIST:
		s.state = Collecting
		rec, ok := parseListReply(msg.Params)
		if !ok {
			s.dropped++
			return true
		}
		s.records = append(s.records, rec)
	case RPL_LISTEND:
		s.state = Complete
	case RPL_TRYAGAIN:
		// 263 <nick> <command> :<text>; only ours when it refers to LIST
		if len(msg.Params) >= 2 && !strings.EqualFold(msg.Params[1], "LIST") {
			return false
		}
		s.fail(Failed, ErrServerRefused)
	default:
		return false
	}
	return true
}

// Expire times the session out if now is past its deadline
func (s *Session) Expire(now time.Time) bool {
	if s.state.Terminal() || s.deadline.IsZero() || now.Before(s.deadline) {
		return false
	}
	s.fail(TimedOut, ErrTimeout)
	return true
}

// Abort fails an unfinished session with err
func (s *Session) Abort(err error) {
	if s.state.Terminal() {
		return
	}
	s.fail(Failed, err)
}

func (s *Session) fail(state State, err error) {
	s.state = state
	s.err = err
	s.records = nil
}

// Records returns the collected records in arrival order, only once Complete
func (s *Session) Records() []query.ChannelRecord {
	if s.state != Complete {
		return nil
	}
	return s.records
}

// parseListReply reads "322 <me> <channel> <users> [:<topic>]"
func parseListReply(params []string) (query.ChannelRecord, bool) {
	if len(params) < 3 {
		return query.ChannelRecord{}, false
	}
	users, err := strconv.ParseUint(params[2], 10, 32)
	if err != nil {
		return query.ChannelRecord{}, false
	}
	rec := query.ChannelRecord{Name: params[1], Users: uint32(users)}
	if len(params) >= 4 {
		rec.Topic = stripModes(params[3])
	}
	return rec, true
}

// stripModes removes the "[+ntr] " channel mode prefix some servers put
// in front of the topic
func stripModes(topic string) string {
	if !strings.HasPrefix(topic, "[+") {
		return topic
	}
	end := strings.Index(topic, "]")
	if end < 0 {
		return topic
	}
	return strings.TrimPrefix(topic[end+1:], " ")
}
