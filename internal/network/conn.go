package network

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/rs/zerolog"

	"github.com/matt0x6f/alis-bot/internal/irc"
	"github.com/matt0x6f/alis-bot/internal/transport"
)

// conn is the supervised flow of one server connection. Its transport,
// writer and protocol are recreated on every attempt.
type conn struct {
	desc    Descriptor
	mgr     *Manager
	inbound chan Inbound
	box     *mailbox
	log     zerolog.Logger

	mu    sync.Mutex
	state irc.State
	out   *writer
}

const quitGrace = time.Second

type readResult struct {
	line string
	err  error
}

func (c *conn) setState(state irc.State, out *writer) {
	c.mu.Lock()
	c.state = state
	c.out = out
	c.mu.Unlock()
}

// deliver hands in to the consumer without blocking, so PING is always
// answered however far behind the consumer is
func (c *conn) deliver(in Inbound) {
	in.ConnID = c.desc.Name
	c.box.put(in)
}

// run reconnects with backoff until ctx ends or registration fails fatally
func (c *conn) run(ctx context.Context, delay time.Duration) {
	if delay > 0 && !sleep(ctx, delay) {
		return
	}

	backoff := c.mgr.opts.Backoff
	backoff.Reset()
	for attempt := 1; ; attempt++ {
		reachedReady, err := c.session(ctx)
		if ctx.Err() != nil {
			c.log.Info().Msg("Connection stopped")
			return
		}

		var regErr *irc.RegistrationError
		if errors.As(err, &regErr) && regErr.Fatal {
			c.log.Error().Err(err).Msg("Registration refused, giving up on this network")
			c.mgr.emit(irc.EventConnectionFailed, map[string]interface{}{
				"network": c.desc.Name,
				"error":   err.Error(),
			})
			return
		}

		if reachedReady {
			backoff.Reset()
		}
		wait := backoff.Next()
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("Connection lost, reconnecting")
		c.mgr.emitState(c.desc.Name, irc.Disconnected, map[string]interface{}{
			"error":    errString(err),
			"retry_in": wait.String(),
		})
		if !sleep(ctx, wait) {
			return
		}
	}
}

// session runs one connection attempt. It reports whether registration
// completed and why the attempt ended.
func (c *conn) session(ctx context.Context) (reachedReady bool, err error) {
	opts := c.mgr.opts
	proto := irc.NewProtocol(c.desc.Identity)

	if err := proto.Begin(); err != nil {
		return false, err
	}
	c.setState(irc.Connecting, nil)
	c.mgr.emitState(c.desc.Name, irc.Connecting, map[string]interface{}{
		"address": c.desc.Endpoint.Address(),
	})

	tc, err := c.mgr.dialer.Dial(ctx, c.desc.Endpoint)
	if err != nil {
		c.setState(irc.Disconnected, nil)
		return false, err
	}

	sctx, cancel := context.WithCancel(ctx)
	w := newWriter(tc, opts.FloodDelay)
	lines := make(chan readResult)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.run(sctx)
	}()
	go func() {
		defer wg.Done()
		for {
			line, err := tc.ReadLine()
			select {
			case lines <- readResult{line: line, err: err}:
			case <-sctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	defer func() {
		cancel()
		tc.Close()
		wg.Wait()
		proto.Disconnect()
		c.setState(irc.Disconnected, nil)
		if reachedReady {
			c.deliver(Inbound{Kind: Lost, Err: err})
		}
	}()

	regMsgs, err := proto.Register()
	if err != nil {
		return false, err
	}
	for _, msg := range regMsgs {
		if err := urgent(w, msg); err != nil {
			return false, err
		}
	}
	c.setState(irc.Registering, nil)
	c.mgr.emitState(c.desc.Name, irc.Registering, map[string]interface{}{"nick": proto.Nick()})

	regTimer := time.NewTimer(opts.RegistrationTimeout)
	defer regTimer.Stop()
	regTimeout := regTimer.C

	idle := time.NewTimer(opts.IdleTimeout)
	defer idle.Stop()
	probing := false
	nickAttempt := 0

	for {
		select {
		case <-ctx.Done():
			c.quit(tc)
			return reachedReady, ctx.Err()

		case <-regTimeout:
			return false, errRegistrationTimeout

		case <-idle.C:
			if probing {
				return reachedReady, errIdleTimeout
			}
			probing = true
			idle.Reset(opts.IdleTimeout)
			probe := ircmsg.MakeMessage(nil, "", "PING", "alis-"+strconv.FormatInt(time.Now().Unix(), 10))
			if err := urgent(w, probe); err != nil {
				return reachedReady, err
			}

		case <-w.Done():
			if w.Err() != nil {
				return reachedReady, fmt.Errorf("write: %w", w.Err())
			}
			return reachedReady, ErrNotConnected

		case r := <-lines:
			if r.err != nil {
				return reachedReady, fmt.Errorf("read: %w", r.err)
			}
			idle.Reset(opts.IdleTimeout)
			probing = false

			msg, err := irc.ParseLine(r.line)
			if err != nil {
				c.log.Debug().Err(err).Str("line", r.line).Msg("Dropping malformed line")
				continue
			}

			res, err := proto.Handle(msg)
			if err != nil {
				var regErr *irc.RegistrationError
				if errors.As(err, &regErr) && !regErr.Fatal {
					if nickAttempt >= opts.MaxNickAttempts {
						return false, fmt.Errorf("%w: %v", errNickAttempts, err)
					}
					nickAttempt++
					alt := irc.AlternateNick(c.desc.Identity.Nick, nickAttempt)
					c.log.Info().Str("rejected", regErr.Nick).Str("nick", alt).Msg("Nickname unavailable, trying alternate")
					renick, rerr := proto.Renick(alt)
					if rerr != nil {
						return false, rerr
					}
					if err := urgent(w, renick); err != nil {
						return false, err
					}
					continue
				}
				return reachedReady, err
			}

			if res.Reply != nil {
				if err := urgent(w, *res.Reply); err != nil {
					return reachedReady, err
				}
			}
			if res.Welcome {
				reachedReady = true
				regTimer.Stop()
				regTimeout = nil
				c.setState(irc.Ready, w)
				c.mgr.emitState(c.desc.Name, irc.Ready, map[string]interface{}{
					"nick":   proto.Nick(),
					"server": proto.ServerName(),
				})
				c.deliver(Inbound{Kind: Ready, Nick: proto.Nick(), ServerName: proto.ServerName()})
			}
			if res.NickChanged {
				c.mgr.emit(irc.EventNickChanged, map[string]interface{}{
					"network": c.desc.Name,
					"nick":    proto.Nick(),
				})
			}
			if res.Forward {
				c.deliver(Inbound{Kind: Message, Msg: msg, Nick: proto.Nick(), ServerName: proto.ServerName()})
			}
		}
	}
}

// quit says goodbye directly on the transport, bypassing a writer that may
// already be stopping, and gives up after quitGrace
func (c *conn) quit(tc transport.Conn) {
	msg := ircmsg.MakeMessage(nil, "", "QUIT", "Shutting down")
	line, err := msg.Line()
	if err != nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		tc.WriteLine(line)
	}()
	select {
	case <-done:
	case <-time.After(quitGrace):
	}
}

func urgent(w *writer, msg ircmsg.Message) error {
	line, err := msg.Line()
	if err != nil {
		return fmt.Errorf("serialize %s: %w", msg.Command, err)
	}
	return w.Urgent(line)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
