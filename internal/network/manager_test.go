package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt0x6f/alis-bot/internal/events"
	"github.com/matt0x6f/alis-bot/internal/irc"
	"github.com/matt0x6f/alis-bot/internal/network/networktest"
	"github.com/matt0x6f/alis-bot/internal/transport"
)

func testOptions() Options {
	return Options{
		Backoff:             Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond},
		RegistrationTimeout: 2 * time.Second,
		IdleTimeout:         5 * time.Second,
		FloodDelay:          0,
		MaxNickAttempts:     2,
	}
}

func descriptor(name string) Descriptor {
	return Descriptor{
		Name:     name,
		Endpoint: transport.Endpoint{Host: "irc.test", Port: 6667},
		Identity: irc.Identity{Nick: "alis", User: "alis", RealName: "channel search"},
	}
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) OnEvent(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Type == irc.EventConnectionState {
			out = append(out, ev.String("state"))
		}
	}
	return out
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func startManager(t *testing.T, opts Options, bus *events.EventBus) (*Manager, *networktest.Dialer) {
	t.Helper()
	d := networktest.NewDialer(t)
	m := NewManager(d, bus, opts)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx, []Descriptor{descriptor("test")}))
	t.Cleanup(func() {
		cancel()
		d.CloseAll()
		m.Wait()
	})
	return m, d
}

func next(t *testing.T, ch <-chan Inbound) Inbound {
	t.Helper()
	select {
	case in, ok := <-ch:
		require.True(t, ok, "inbound stream closed")
		return in
	case <-time.After(networktest.Timeout):
		t.Fatalf("no inbound item")
		return Inbound{}
	}
}

func privmsg(target, text string) ircmsg.Message {
	return ircmsg.MakeMessage(nil, "", "PRIVMSG", target, text)
}

func TestRegisterAndForward(t *testing.T) {
	bus := events.NewEventBus()
	rec := &recorder{}
	bus.Subscribe("*", rec)
	m, d := startManager(t, testOptions(), bus)

	srv := d.Next()
	assert.ErrorIs(t, m.Send("test", privmsg("bob", "too early")), ErrNotConnected)

	srv.Register("alis")
	in := next(t, m.Inbound("test"))
	assert.Equal(t, Ready, in.Kind)
	assert.Equal(t, "test", in.ConnID)
	assert.Equal(t, "alis", in.Nick)
	assert.Equal(t, "irc.test", in.ServerName)
	assert.Equal(t, irc.Ready, m.State("test"))

	srv.Send(":bob!b@host PRIVMSG alis :list *")
	in = next(t, m.Inbound("test"))
	assert.Equal(t, Message, in.Kind)
	assert.Equal(t, "PRIVMSG", in.Msg.Command)
	assert.Equal(t, []string{"alis", "list *"}, in.Msg.Params)

	require.NoError(t, m.Send("test", privmsg("bob", "hello there")))
	srv.Expect("PRIVMSG bob :hello there")

	assert.Equal(t, []string{"connecting", "registering", "ready"}, rec.states())
}

func TestSendUnknownConnection(t *testing.T) {
	m, _ := startManager(t, testOptions(), nil)
	assert.ErrorIs(t, m.Send("nope", privmsg("bob", "hi")), ErrUnknownConnection)
	assert.Nil(t, m.Inbound("nope"))
	assert.Equal(t, []string{"test"}, m.Connections())
}

func TestPingAnsweredAheadOfPacedLines(t *testing.T) {
	opts := testOptions()
	opts.FloodDelay = 700 * time.Millisecond
	m, d := startManager(t, opts, nil)

	srv := d.Next()
	srv.Register("alis")
	next(t, m.Inbound("test"))

	require.NoError(t, m.Send("test", privmsg("bob", "first")))
	require.NoError(t, m.Send("test", privmsg("bob", "second")))
	srv.Expect("PRIVMSG bob first")

	srv.Send("PING :keepalive")
	srv.Expect("PONG keepalive")
	srv.Expect("PRIVMSG bob second")
}

func TestPingAnsweredWhileConsumerStalls(t *testing.T) {
	opts := testOptions()
	opts.FloodDelay = 20 * time.Millisecond
	opts.InboundBuffer = 4
	m, d := startManager(t, opts, nil)

	srv := d.Next()
	srv.Register("alis")
	next(t, m.Inbound("test"))

	// a long reply backlog and nobody reading the inbound stream
	for i := 0; i < 400; i++ {
		require.NoError(t, m.Send("test", privmsg("bob", "result line")))
	}
	for i := 0; i < 80; i++ {
		srv.Send(":carol!c@host PRIVMSG alis :help")
	}

	sent := time.Now()
	srv.Send("PING :keepalive")
	for {
		line := srv.Expect("")
		if line == "PONG keepalive" {
			break
		}
		require.Equal(t, "PRIVMSG bob result line", line)
	}
	assert.Less(t, time.Since(sent), time.Second)

	// every forwarded message is still delivered, in order
	for i := 0; i < 80; i++ {
		in := next(t, m.Inbound("test"))
		require.Equal(t, Message, in.Kind)
		require.Equal(t, "carol", in.Msg.Nick())
	}
}

func TestSendUrgentSkipsPacedBacklog(t *testing.T) {
	opts := testOptions()
	opts.FloodDelay = 500 * time.Millisecond
	m, d := startManager(t, opts, nil)

	srv := d.Next()
	srv.Register("alis")
	next(t, m.Inbound("test"))

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Send("test", privmsg("alice", "result line")))
	}
	srv.Expect("PRIVMSG alice")
	require.NoError(t, m.SendUrgent("test", ircmsg.MakeMessage(nil, "", "LIST")))
	srv.Expect("LIST")
	srv.Expect("PRIVMSG alice")

	assert.ErrorIs(t, m.SendUrgent("nope", ircmsg.MakeMessage(nil, "", "LIST")), ErrUnknownConnection)
}

func TestPingDuringRegistration(t *testing.T) {
	m, d := startManager(t, testOptions(), nil)

	srv := d.Next()
	srv.Expect("NICK alis")
	srv.Expect("USER ")
	srv.Send("PING :early")
	srv.Expect("PONG early")
	srv.Send(":irc.test 001 alis :Welcome")
	assert.Equal(t, Ready, next(t, m.Inbound("test")).Kind)
}

func TestAlternateNickOnCollision(t *testing.T) {
	m, d := startManager(t, testOptions(), nil)

	srv := d.Next()
	srv.Expect("NICK alis")
	srv.Expect("USER ")
	srv.Send(":irc.test 433 * alis :Nickname is already in use")
	srv.Expect("NICK alis_")
	srv.Send(":irc.test 433 * alis_ :Nickname is already in use")
	srv.Expect("NICK alis__")
	srv.Send(":irc.test 001 alis__ :Welcome")

	in := next(t, m.Inbound("test"))
	assert.Equal(t, Ready, in.Kind)
	assert.Equal(t, "alis__", in.Nick)
}

func TestNickAttemptsExhaustedReconnects(t *testing.T) {
	opts := testOptions()
	opts.MaxNickAttempts = 1
	_, d := startManager(t, opts, nil)

	srv := d.Next()
	srv.Expect("NICK alis")
	srv.Expect("USER ")
	srv.Send(":irc.test 433 * alis :in use")
	srv.Expect("NICK alis_")
	srv.Send(":irc.test 433 * alis_ :in use")
	srv.ExpectClosed()

	// next attempt starts over from the configured nickname
	srv = d.Next()
	srv.Expect("NICK alis")
}

func TestFatalRegistrationStopsConnection(t *testing.T) {
	bus := events.NewEventBus()
	rec := &recorder{}
	bus.Subscribe(irc.EventConnectionFailed, rec)
	m, d := startManager(t, testOptions(), bus)

	srv := d.Next()
	srv.Expect("NICK alis")
	srv.Expect("USER ")
	srv.Send(":irc.test 465 * :You are banned from this server")
	srv.ExpectClosed()

	select {
	case _, ok := <-m.Inbound("test"):
		assert.False(t, ok, "inbound must close without a Ready")
	case <-time.After(networktest.Timeout):
		t.Fatal("inbound stream not closed")
	}
	assert.Equal(t, 1, rec.count(irc.EventConnectionFailed))
	assert.Equal(t, 1, d.Dials())
}

func TestReconnectAfterDrop(t *testing.T) {
	m, d := startManager(t, testOptions(), nil)

	srv := d.Next()
	srv.Register("alis")
	assert.Equal(t, Ready, next(t, m.Inbound("test")).Kind)

	srv.Close()
	lost := next(t, m.Inbound("test"))
	assert.Equal(t, Lost, lost.Kind)
	assert.Error(t, lost.Err)

	srv = d.Next()
	srv.Register("alis")
	assert.Equal(t, Ready, next(t, m.Inbound("test")).Kind)
}

func TestServerErrorLine(t *testing.T) {
	m, d := startManager(t, testOptions(), nil)

	srv := d.Next()
	srv.Register("alis")
	next(t, m.Inbound("test"))

	srv.Send("ERROR :Closing Link: alis (Excess Flood)")
	lost := next(t, m.Inbound("test"))
	assert.Equal(t, Lost, lost.Kind)
	assert.ErrorIs(t, lost.Err, irc.ErrServerClosing)
}

func TestRegistrationTimeout(t *testing.T) {
	opts := testOptions()
	opts.RegistrationTimeout = 100 * time.Millisecond
	_, d := startManager(t, opts, nil)

	srv := d.Next()
	srv.Expect("NICK alis")
	srv.Expect("USER ")
	srv.ExpectClosed()

	d.Next().Expect("NICK alis")
}

func TestIdleProbe(t *testing.T) {
	opts := testOptions()
	opts.IdleTimeout = 150 * time.Millisecond
	m, d := startManager(t, opts, nil)

	srv := d.Next()
	srv.Register("alis")
	next(t, m.Inbound("test"))

	srv.Expect("PING ")
	lost := next(t, m.Inbound("test"))
	assert.Equal(t, Lost, lost.Kind)
}

func TestMalformedLinesAreDropped(t *testing.T) {
	m, d := startManager(t, testOptions(), nil)

	srv := d.Next()
	srv.Register("alis")
	next(t, m.Inbound("test"))

	srv.Send("")
	srv.Send(":bob!b@host PRIVMSG alis :help")
	in := next(t, m.Inbound("test"))
	assert.Equal(t, Message, in.Kind)
	assert.Equal(t, "help", in.Msg.Params[1])
}

func TestStartValidation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(networktest.NewDialer(t), nil, testOptions())
	assert.Error(t, m.Start(ctx, nil))

	m = NewManager(networktest.NewDialer(t), nil, testOptions())
	assert.Error(t, m.Start(ctx, []Descriptor{descriptor("a"), descriptor("a")}))

	m = NewManager(networktest.NewDialer(t), nil, testOptions())
	assert.Error(t, m.Start(ctx, []Descriptor{descriptor("")}))
}

func TestConnectionsAreIndependent(t *testing.T) {
	d := networktest.NewDialer(t)
	m := NewManager(d, nil, testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx, []Descriptor{descriptor("one"), descriptor("two")}))
	t.Cleanup(func() {
		cancel()
		d.CloseAll()
		m.Wait()
	})

	first, second := d.Next(), d.Next()
	first.Register("alis")
	second.Register("alis")

	// dial order is not fixed; identify each connection by what it receives
	for _, id := range []string{"one", "two"} {
		assert.Equal(t, Ready, next(t, m.Inbound(id)).Kind)
	}

	first.Close()
	// exactly one of the two sees Lost; the other keeps working
	var lostID, aliveID string
	select {
	case in := <-m.Inbound("one"):
		lostID, aliveID = "one", "two"
		assert.Equal(t, Lost, in.Kind)
	case in := <-m.Inbound("two"):
		lostID, aliveID = "two", "one"
		assert.Equal(t, Lost, in.Kind)
	case <-time.After(networktest.Timeout):
		t.Fatal("no connection reported the drop")
	}
	assert.NotEqual(t, lostID, aliveID)
	assert.Equal(t, irc.Ready, m.State(aliveID))
	second.Send(":bob!b@host PRIVMSG alis :hi")
	assert.Equal(t, Message, next(t, m.Inbound(aliveID)).Kind)
}
