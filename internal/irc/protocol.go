// Package irc implements the client side of IRC registration and keepalive
// as an explicit state machine over parsed messages.
package irc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
)

// State of a connection's protocol
type State int

const (
	Disconnected State = iota
	Connecting
	Registering
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Registering:
		return "registering"
	case Ready:
		return "ready"
	}
	return "unknown"
}

var (
	// ErrIllegalTransition is returned when an operation is not valid in the current state
	ErrIllegalTransition = errors.New("illegal protocol state transition")

	// ErrMalformedLine is returned for lines that do not parse as IRC messages
	ErrMalformedLine = errors.New("malformed IRC line")

	// ErrServerClosing is returned when the server sends ERROR before closing the link
	ErrServerClosing = errors.New("server closed the link")
)

// RegistrationError is a numeric rejecting our registration. Fatal errors
// must not be retried with another nickname.
type RegistrationError struct {
	Code   string
	Nick   string
	Reason string
	Fatal  bool
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registration rejected (%s) for nick %q: %s", e.Code, e.Nick, e.Reason)
}

// Identity is what we register with
type Identity struct {
	Nick     string
	User     string
	RealName string
	Password string
}

// Result tells the caller what to do with a handled message
type Result struct {
	// Reply must be written through the priority lane
	Reply *ircmsg.Message
	// Welcome is set on the message that completed registration
	Welcome bool
	// Forward is set for messages the request layer should see
	Forward bool
	// NickChanged is set when the server renamed us
	NickChanged bool
}

// Protocol tracks one connection's registration state and nickname. It is
// owned by the connection goroutine.
type Protocol struct {
	id     Identity
	state  State
	nick   string
	server string
}

// NewProtocol creates a disconnected protocol for id
func NewProtocol(id Identity) *Protocol {
	return &Protocol{id: id, state: Disconnected, nick: id.Nick}
}

// State returns the current state
func (p *Protocol) State() State { return p.state }

// Nick is the nickname we currently hold or are registering with
func (p *Protocol) Nick() string { return p.nick }

// ServerName is the source of RPL_WELCOME, empty before registration
func (p *Protocol) ServerName() string { return p.server }

func (p *Protocol) transition(from, to State) error {
	if p.state != from {
		return fmt.Errorf("%w: %s -> %s (currently %s)", ErrIllegalTransition, from, to, p.state)
	}
	p.state = to
	return nil
}

// Begin marks the transport as being opened
func (p *Protocol) Begin() error {
	return p.transition(Disconnected, Connecting)
}

// Register starts registration on an open transport and returns the
// PASS, NICK and USER lines to send in order
func (p *Protocol) Register() ([]ircmsg.Message, error) {
	if err := p.transition(Connecting, Registering); err != nil {
		return nil, err
	}
	p.nick = p.id.Nick
	p.server = ""

	user := p.id.User
	if user == "" {
		user = p.id.Nick
	}
	realname := p.id.RealName
	if realname == "" {
		realname = user
	}

	msgs := make([]ircmsg.Message, 0, 3)
	if p.id.Password != "" {
		msgs = append(msgs, ircmsg.MakeMessage(nil, "", "PASS", p.id.Password))
	}
	msgs = append(msgs,
		ircmsg.MakeMessage(nil, "", "NICK", p.nick),
		ircmsg.MakeMessage(nil, "", "USER", user, "0", "*", realname),
	)
	return msgs, nil
}

// Renick retries registration with another nickname
func (p *Protocol) Renick(nick string) (ircmsg.Message, error) {
	if p.state != Registering {
		return ircmsg.Message{}, fmt.Errorf("%w: renick while %s", ErrIllegalTransition, p.state)
	}
	p.nick = nick
	return ircmsg.MakeMessage(nil, "", "NICK", nick), nil
}

// Disconnect resets to Disconnected; valid from any state
func (p *Protocol) Disconnect() {
	p.state = Disconnected
	p.server = ""
}

// Handle processes one inbound message
func (p *Protocol) Handle(msg ircmsg.Message) (Result, error) {
	switch p.state {
	case Registering:
		return p.handleRegistering(msg)
	case Ready:
		return p.handleReady(msg)
	}
	return Result{}, fmt.Errorf("%w: %s received while %s", ErrIllegalTransition, msg.Command, p.state)
}

func (p *Protocol) handleRegistering(msg ircmsg.Message) (Result, error) {
	switch msg.Command {
	case "PING":
		return Result{Reply: pong(msg)}, nil
	case "ERROR":
		return Result{}, closing(msg)
	case RPL_WELCOME:
		if len(msg.Params) > 0 && msg.Params[0] != "" {
			p.nick = msg.Params[0]
		}
		p.server = msg.Source
		p.state = Ready
		return Result{Welcome: true}, nil
	case ERR_NICKNAMEINUSE, ERR_NICKCOLLISION:
		return Result{}, p.rejected(msg, false)
	case ERR_ERRONEUSNICKNAME, ERR_PASSWDMISMATCH, ERR_YOUREBANNEDCREEP:
		return Result{}, p.rejected(msg, true)
	}
	return Result{}, nil
}

func (p *Protocol) handleReady(msg ircmsg.Message) (Result, error) {
	switch msg.Command {
	case "PING":
		return Result{Reply: pong(msg)}, nil
	case "PONG":
		return Result{}, nil
	case "ERROR":
		return Result{}, closing(msg)
	case "NICK":
		if len(msg.Params) > 0 && strings.EqualFold(msg.Nick(), p.nick) {
			p.nick = msg.Params[0]
			return Result{NickChanged: true}, nil
		}
		return Result{}, nil
	}
	return Result{Forward: true}, nil
}

func (p *Protocol) rejected(msg ircmsg.Message, fatal bool) error {
	reason := ""
	if len(msg.Params) > 0 {
		reason = msg.Params[len(msg.Params)-1]
	}
	return &RegistrationError{Code: msg.Command, Nick: p.nick, Reason: reason, Fatal: fatal}
}

func pong(ping ircmsg.Message) *ircmsg.Message {
	reply := ircmsg.MakeMessage(nil, "", "PONG", ping.Params...)
	return &reply
}

func closing(msg ircmsg.Message) error {
	if len(msg.Params) > 0 {
		return fmt.Errorf("%w: %s", ErrServerClosing, msg.Params[0])
	}
	return ErrServerClosing
}

// AlternateNick is the nickname to try after attempt collisions: base
// followed by attempt underscores
func AlternateNick(base string, attempt int) string {
	return base + strings.Repeat("_", attempt)
}

// ParseLine parses one line without its CRLF
func ParseLine(line string) (ircmsg.Message, error) {
	msg, err := ircmsg.ParseLine(line)
	if err != nil {
		return ircmsg.Message{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	return msg, nil
}
