// Package network supervises one IRC connection per configured server.
package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/matt0x6f/alis-bot/internal/constants"
	"github.com/matt0x6f/alis-bot/internal/events"
	"github.com/matt0x6f/alis-bot/internal/irc"
	"github.com/matt0x6f/alis-bot/internal/logger"
	"github.com/matt0x6f/alis-bot/internal/transport"
)

var (
	// ErrNotConnected is returned by Send when the connection is not registered
	ErrNotConnected = errors.New("not connected")

	// ErrUnknownConnection is returned for connection ids Start was not given
	ErrUnknownConnection = errors.New("unknown connection")

	errRegistrationTimeout = errors.New("registration timed out")
	errIdleTimeout         = errors.New("server stopped responding")
	errNickAttempts        = errors.New("no alternate nickname accepted")
)

// Descriptor identifies one server connection
type Descriptor struct {
	Name     string
	Endpoint transport.Endpoint
	Identity irc.Identity
}

// InboundKind classifies what the connection delivers to its consumer
type InboundKind int

const (
	// Ready: registration completed; Nick and ServerName are set
	Ready InboundKind = iota
	// Message: a server message for the request layer
	Message
	// Lost: a registered connection dropped; Err holds the cause
	Lost
)

func (k InboundKind) String() string {
	switch k {
	case Ready:
		return "ready"
	case Message:
		return "message"
	case Lost:
		return "lost"
	}
	return "unknown"
}

// Inbound is one item of a connection's ordered inbound stream
type Inbound struct {
	ConnID     string
	Kind       InboundKind
	Msg        ircmsg.Message
	Nick       string
	ServerName string
	Err        error
}

// Options tune connection behaviour. Zero values take the defaults.
type Options struct {
	Backoff             Backoff
	RegistrationTimeout time.Duration
	IdleTimeout         time.Duration
	FloodDelay          time.Duration
	StaggerDelay        time.Duration
	MaxNickAttempts     int
	InboundBuffer       int
}

// DefaultOptions returns the production settings
func DefaultOptions() Options {
	return Options{
		Backoff:             Backoff{Base: constants.ReconnectBaseDelay, Max: constants.ReconnectMaxDelay},
		RegistrationTimeout: constants.RegistrationTimeout,
		IdleTimeout:         constants.IdleTimeout,
		FloodDelay:          constants.FloodDelay,
		StaggerDelay:        constants.ConnectionStaggerDelay,
		MaxNickAttempts:     constants.MaxNickAttempts,
		InboundBuffer:       64,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Backoff.Base <= 0 {
		o.Backoff = def.Backoff
	}
	if o.RegistrationTimeout <= 0 {
		o.RegistrationTimeout = def.RegistrationTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = def.IdleTimeout
	}
	if o.FloodDelay < 0 {
		o.FloodDelay = 0
	}
	if o.MaxNickAttempts < 0 {
		o.MaxNickAttempts = 0
	}
	if o.InboundBuffer <= 0 {
		o.InboundBuffer = def.InboundBuffer
	}
	return o
}

// Manager runs every configured connection independently
type Manager struct {
	dialer transport.Dialer
	bus    *events.EventBus
	opts   Options

	mu      sync.RWMutex
	conns   map[string]*conn
	started bool
	wg      sync.WaitGroup
}

// NewManager creates a manager. bus may be nil.
func NewManager(dialer transport.Dialer, bus *events.EventBus, opts Options) *Manager {
	return &Manager{
		dialer: dialer,
		bus:    bus,
		opts:   opts.withDefaults(),
		conns:  make(map[string]*conn),
	}
}

// Start launches one supervised flow per descriptor, staggered. Flows stop
// when ctx is cancelled.
func (m *Manager) Start(ctx context.Context, descs []Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.New("manager already started")
	}
	if len(descs) == 0 {
		return errors.New("no connections configured")
	}
	for _, d := range descs {
		if d.Name == "" {
			return errors.New("connection name is required")
		}
		if _, dup := m.conns[d.Name]; dup {
			return fmt.Errorf("duplicate connection name %q", d.Name)
		}
		m.conns[d.Name] = &conn{
			desc:    d,
			mgr:     m,
			inbound: make(chan Inbound, m.opts.InboundBuffer),
			box:     newMailbox(),
			log:     logger.For("network").With().Str("network", d.Name).Logger(),
		}
	}
	m.started = true

	for i, d := range descs {
		c := m.conns[d.Name]
		delay := time.Duration(i) * m.opts.StaggerDelay
		m.wg.Add(2)
		go func() {
			defer m.wg.Done()
			c.box.pump(ctx, c.inbound)
		}()
		go func() {
			defer m.wg.Done()
			defer c.box.close()
			defer func() {
				if r := recover(); r != nil {
					c.log.Error().Interface("panic", r).Msg("PANIC in connection flow")
				}
			}()
			c.run(ctx, delay)
		}()
	}
	return nil
}

// Inbound returns the ordered inbound stream of connID. The channel is
// closed when the connection flow ends. It is nil for unknown ids.
func (m *Manager) Inbound(connID string) <-chan Inbound {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.conns[connID]; ok {
		return c.inbound
	}
	return nil
}

// Connections lists the connection ids in name order
func (m *Manager) Connections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// State returns the protocol state of connID
func (m *Manager) State(connID string) irc.State {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return irc.Disconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send queues msg on connID's normal, flood-paced lane
func (m *Manager) Send(connID string, msg ircmsg.Message) error {
	return m.send(connID, msg, false)
}

// SendUrgent queues msg on connID's priority lane, ahead of paced lines
func (m *Manager) SendUrgent(connID string, msg ircmsg.Message) error {
	return m.send(connID, msg, true)
}

func (m *Manager) send(connID string, msg ircmsg.Message, urgent bool) error {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownConnection, connID)
	}

	line, err := msg.Line()
	if err != nil {
		return fmt.Errorf("serialize %s: %w", msg.Command, err)
	}

	c.mu.Lock()
	w := c.out
	ready := c.state == irc.Ready
	c.mu.Unlock()
	if w == nil || !ready {
		return ErrNotConnected
	}
	if urgent {
		return w.Urgent(line)
	}
	return w.Queue(line)
}

// Wait blocks until every connection flow has ended
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) emitState(name string, state irc.State, data map[string]interface{}) {
	if data == nil {
		data = make(map[string]interface{})
	}
	data["network"] = name
	data["state"] = state.String()
	m.bus.EmitSync(events.Event{
		Type:      irc.EventConnectionState,
		Data:      data,
		Timestamp: time.Now(),
		Source:    events.EventSourceNetwork,
	})
}

func (m *Manager) emit(eventType string, data map[string]interface{}) {
	m.bus.EmitSync(events.Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		Source:    events.EventSourceNetwork,
	})
}
