// Package dispatch serves bot requests arriving on one connection.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/ergochat/irc-go/ircutils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matt0x6f/alis-bot/internal/command"
	"github.com/matt0x6f/alis-bot/internal/constants"
	"github.com/matt0x6f/alis-bot/internal/events"
	"github.com/matt0x6f/alis-bot/internal/irc"
	"github.com/matt0x6f/alis-bot/internal/listing"
	"github.com/matt0x6f/alis-bot/internal/logger"
	"github.com/matt0x6f/alis-bot/internal/network"
	"github.com/matt0x6f/alis-bot/internal/paginate"
	"github.com/matt0x6f/alis-bot/internal/query"
)

// Sender queues a message on a connection. SendUrgent bypasses the flood
// pacing of Send.
type Sender interface {
	Send(connID string, msg ircmsg.Message) error
	SendUrgent(connID string, msg ircmsg.Message) error
}

// Options tune a dispatcher. Zero values take the defaults.
type Options struct {
	ListTimeout   time.Duration
	QueueCapacity int
	// DrainGrace is the longest wait for the RPL_LISTEND of a timed-out LIST
	// before the next LIST is sent
	DrainGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.ListTimeout <= 0 {
		o.ListTimeout = constants.ListTimeout
	}
	if o.DrainGrace <= 0 {
		o.DrainGrace = constants.ListDrainGrace
	}
	if o.QueueCapacity < 0 {
		o.QueueCapacity = constants.ListQueueCapacity
	}
	return o
}

// DefaultOptions returns the production settings
func DefaultOptions() Options {
	return Options{
		ListTimeout:   constants.ListTimeout,
		QueueCapacity: constants.ListQueueCapacity,
		DrainGrace:    constants.ListDrainGrace,
	}
}

type reply struct {
	target string
	text   string
}

// Dispatcher consumes one connection's inbound stream in order. All of its
// state is owned by the Run goroutine.
type Dispatcher struct {
	connID string
	sender Sender
	bus    *events.EventBus
	opts   Options
	log    zerolog.Logger

	sched  *listing.Scheduler
	nick   string
	server string
	ready  bool
	// replies owed while the connection was down, sent on the next Ready
	pending []reply
	// set after a timeout until the stale list stream ends
	draining   bool
	drainUntil time.Time
}

// New creates a dispatcher for connID. bus may be nil.
func New(connID string, sender Sender, bus *events.EventBus, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	return &Dispatcher{
		connID: connID,
		sender: sender,
		bus:    bus,
		opts:   opts,
		log:    logger.For("dispatch").With().Str("network", connID).Logger(),
		sched:  listing.NewScheduler(connID, opts.QueueCapacity),
	}
}

// Run processes inbound until it is closed or ctx ends
func (d *Dispatcher) Run(ctx context.Context, inbound <-chan network.Inbound) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var deadline <-chan time.Time
		var wake time.Time
		if d.draining {
			wake = d.drainUntil
		} else if s := d.sched.Active(); s != nil && s.State() != listing.Idle {
			wake = s.Deadline()
		}
		if !wake.IsZero() {
			timer.Reset(time.Until(wake))
			deadline = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case in, ok := <-inbound:
			if !ok {
				d.sched.Abort()
				return
			}
			d.handle(in)
		case now := <-deadline:
			if d.draining {
				if !now.Before(d.drainUntil) {
					d.log.Debug().Msg("Stale channel list did not end, sending the next LIST anyway")
					d.endDrain()
				}
			} else if s := d.sched.Active(); s != nil && s.Expire(now) {
				d.finish(s)
			}
		}
		timer.Stop()
	}
}

func (d *Dispatcher) handle(in network.Inbound) {
	switch in.Kind {
	case network.Ready:
		d.ready = true
		d.nick = in.Nick
		d.server = in.ServerName
		d.log.Info().Str("nick", d.nick).Msg("Accepting requests")
		d.flushPending()

	case network.Lost:
		d.ready = false
		d.lost(in.Err)

	case network.Message:
		if in.Nick != "" {
			d.nick = in.Nick
		}
		if d.draining && isListReply(in.Msg.Command) {
			// tail of a listing that already timed out
			if in.Msg.Command == listing.RPL_LISTEND {
				d.endDrain()
			}
			return
		}
		if s := d.sched.Active(); s != nil && s.Handle(in.Msg) {
			if s.State().Terminal() {
				d.finish(s)
			}
			return
		}
		if requester, text, ok := d.request(in.Msg); ok {
			d.serve(requester, text)
		}
	}
}

// request extracts a private message addressed to us by a user
func (d *Dispatcher) request(msg ircmsg.Message) (requester, text string, ok bool) {
	if msg.Command != "PRIVMSG" || len(msg.Params) < 2 {
		return "", "", false
	}
	if d.nick == "" || !strings.EqualFold(msg.Params[0], d.nick) {
		return "", "", false
	}
	if msg.Source == "" || msg.Source == d.server {
		return "", "", false
	}
	requester = msg.Nick()
	if requester == "" || strings.EqualFold(requester, d.nick) {
		return "", "", false
	}
	text = msg.Params[1]
	if strings.HasPrefix(text, "\x01") {
		// CTCP
		return "", "", false
	}
	return requester, text, true
}

func (d *Dispatcher) serve(requester, text string) {
	started := time.Now()
	req, err := command.Parse(requester, text)
	if err != nil {
		d.log.Debug().Str("requester", requester).Err(err).Msg("Invalid request")
		d.send(requester, replyError(err))
		d.completed("", requester, text, OutcomeInvalid, 0, 0, started)
		return
	}

	switch req.Kind {
	case command.Help:
		for _, line := range command.HelpLines(d.nick) {
			d.send(requester, line)
		}
		d.completed("", requester, text, OutcomeHelp, 0, 0, started)

	case command.List:
		sess, position, err := d.sched.Submit(requester, req.Spec)
		if errors.Is(err, listing.ErrBusy) {
			d.send(requester, replyBusy)
			d.completed("", requester, req.Spec.String(), OutcomeBusy, 0, 0, started)
			return
		}
		if position > 0 {
			d.log.Debug().Str("requester", requester).Int("position", position).Msg("List request queued")
			d.send(requester, replyQueued(position))
			return
		}
		d.start(sess)
	}
}

func isListReply(command string) bool {
	switch command {
	case listing.RPL_LISTSTART, listing.RPL_LIST, listing.RPL_LISTEND:
		return true
	}
	return false
}

// endDrain stops discarding list replies and starts the waiting session
func (d *Dispatcher) endDrain() {
	d.draining = false
	d.drainUntil = time.Time{}
	if s := d.sched.Active(); s != nil && s.State() == listing.Idle {
		d.start(s)
	}
}

// start sends LIST for the newly active session. While a timed-out listing
// drains, the session stays idle and is started by endDrain.
func (d *Dispatcher) start(sess *listing.Session) {
	for sess != nil {
		if d.draining {
			d.log.Debug().Str("request_id", sess.ID).Msg("Waiting for the previous listing to end")
			return
		}
		msg, err := sess.Start(time.Now(), d.opts.ListTimeout)
		if err == nil {
			err = d.sender.SendUrgent(d.connID, msg)
		}
		if err == nil {
			d.log.Debug().Str("request_id", sess.ID).Str("requester", sess.Requester).Str("query", sess.Spec.String()).Msg("Listing channels")
			return
		}
		d.log.Warn().Err(err).Str("request_id", sess.ID).Msg("Could not request the channel list")
		sess.Abort(err)
		sess = d.conclude(sess)
	}
}

// finish replies for a terminal session and starts the next queued one
func (d *Dispatcher) finish(sess *listing.Session) {
	d.start(d.conclude(sess))
}

// conclude replies for a terminal session and returns the next one to start
func (d *Dispatcher) conclude(sess *listing.Session) *listing.Session {
	switch sess.State() {
	case listing.Complete:
		records := sess.Records()
		matched := query.Filter(records, sess.Spec)
		for _, line := range resultLines(sess.Requester, sess.Spec, matched) {
			d.send(sess.Requester, line)
		}
		if len(matched) > 0 {
			d.send(sess.Requester, replySummary(len(matched), sess.Spec))
		}
		d.log.Info().Str("request_id", sess.ID).Int("collected", len(records)).Int("matched", len(matched)).Int("dropped", sess.Dropped()).Msg("List request complete")
		d.completed(sess.ID, sess.Requester, sess.Spec.String(), OutcomeComplete, len(records), len(matched), sess.Started())

	case listing.TimedOut:
		d.draining = true
		d.drainUntil = time.Now().Add(d.opts.DrainGrace)
		d.send(sess.Requester, replyTimeout)
		d.log.Warn().Str("request_id", sess.ID).Msg("List request timed out")
		d.completed(sess.ID, sess.Requester, sess.Spec.String(), OutcomeTimeout, 0, 0, sess.Started())

	case listing.Failed:
		outcome := OutcomeLost
		if errors.Is(sess.Err(), listing.ErrServerRefused) {
			outcome = OutcomeRefused
			d.send(sess.Requester, replyRefused)
		} else {
			d.send(sess.Requester, replyTimeout)
		}
		d.log.Warn().Err(sess.Err()).Str("request_id", sess.ID).Msg("List request failed")
		d.completed(sess.ID, sess.Requester, sess.Spec.String(), outcome, 0, 0, sess.Started())
	}
	return d.sched.Finish()
}

// lost fails the active session and drops the queue
func (d *Dispatcher) lost(cause error) {
	d.draining = false
	d.drainUntil = time.Time{}
	active, queued := d.sched.Abort()
	if active != nil {
		active.Abort(cause)
		d.send(active.Requester, replyTimeout)
		d.completed(active.ID, active.Requester, active.Spec.String(), OutcomeLost, 0, 0, active.Started())
	}
	for _, sess := range queued {
		d.send(sess.Requester, replyDropped)
		d.completed(sess.ID, sess.Requester, sess.Spec.String(), OutcomeLost, 0, 0, time.Now())
	}
	if active != nil || len(queued) > 0 {
		d.log.Warn().Err(cause).Int("queued", len(queued)).Msg("Connection lost, requests dropped")
	}
}

// send replies to target, holding the reply until the next Ready while
// disconnected. Text longer than one line allows is truncated.
func (d *Dispatcher) send(target, text string) {
	text = ircutils.TruncateUTF8Safe(text, paginate.ForTarget(target).Budget())
	if !d.ready {
		d.pending = append(d.pending, reply{target: target, text: text})
		return
	}
	err := d.sender.Send(d.connID, ircmsg.MakeMessage(nil, "", "PRIVMSG", target, text))
	if errors.Is(err, network.ErrNotConnected) {
		d.pending = append(d.pending, reply{target: target, text: text})
		return
	}
	if err != nil {
		d.log.Warn().Err(err).Str("target", target).Msg("Failed to send reply")
	}
}

func (d *Dispatcher) flushPending() {
	pending := d.pending
	d.pending = nil
	for _, r := range pending {
		d.send(r.target, r.text)
	}
}

func (d *Dispatcher) completed(id, requester, q, outcome string, collected, matched int, started time.Time) {
	if id == "" {
		id = uuid.NewString()
	}
	d.bus.Emit(events.Event{
		Type: irc.EventRequestCompleted,
		Data: map[string]interface{}{
			"network":     d.connID,
			"request_id":  id,
			"requester":   requester,
			"query":       q,
			"outcome":     outcome,
			"collected":   collected,
			"matched":     matched,
			"duration_ms": time.Since(started).Milliseconds(),
			"queued":      d.sched.Pending(),
		},
		Timestamp: time.Now(),
		Source:    events.EventSourceDispatch,
	})
}
