// Package networktest provides a scripted in-memory IRC server for tests.
package networktest

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matt0x6f/alis-bot/internal/transport"
)

// Timeout bounds every expectation
const Timeout = 3 * time.Second

// Server is the server end of one dialed connection
type Server struct {
	t    testing.TB
	conn net.Conn
	r    *bufio.Reader
}

// Send writes one line to the client
func (s *Server) Send(line string) {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetWriteDeadline(time.Now().Add(Timeout)))
	_, err := s.conn.Write([]byte(line + "\r\n"))
	require.NoError(s.t, err, "send %q", line)
}

// Inject writes one line without failing the test, for use from helper goroutines
func (s *Server) Inject(line string) error {
	_, err := s.conn.Write([]byte(line + "\r\n"))
	return err
}

// ReadLine returns the next line from the client without CRLF
func (s *Server) ReadLine() (string, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(Timeout)); err != nil {
		return "", err
	}
	line, err := s.r.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

// Expect reads the next line and requires it to start with prefix
func (s *Server) Expect(prefix string) string {
	s.t.Helper()
	line, err := s.ReadLine()
	require.NoError(s.t, err, "waiting for %q", prefix)
	require.True(s.t, strings.HasPrefix(line, prefix), "got %q, want prefix %q", line, prefix)
	return line
}

// ExpectClosed requires the client to hang up, skipping any lines it sends first
func (s *Server) ExpectClosed() {
	s.t.Helper()
	for {
		_, err := s.ReadLine()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.t.Fatalf("client did not close the connection")
			}
			return
		}
	}
}

// Register consumes NICK and USER and welcomes nick
func (s *Server) Register(nick string) {
	s.t.Helper()
	s.Expect("NICK " + nick)
	s.Expect("USER ")
	s.Send(":irc.test 001 " + nick + " :Welcome to the test network " + nick)
}

// Close hangs up
func (s *Server) Close() {
	s.conn.Close()
}

// Dialer hands out in-memory connections and exposes their server ends
type Dialer struct {
	t       testing.TB
	servers chan *Server

	mu     sync.Mutex
	all    []*Server
	closed bool
	dials  int
}

// NewDialer creates a dialer; CloseAll is registered as cleanup
func NewDialer(t testing.TB) *Dialer {
	d := &Dialer{t: t, servers: make(chan *Server, 16)}
	t.Cleanup(d.CloseAll)
	return d
}

// Dial implements transport.Dialer
func (d *Dialer) Dial(ctx context.Context, ep transport.Endpoint) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, server := net.Pipe()
	s := &Server{t: d.t, conn: server, r: bufio.NewReader(server)}

	d.mu.Lock()
	d.dials++
	if d.closed {
		d.mu.Unlock()
		server.Close()
		client.Close()
		return nil, net.ErrClosed
	}
	d.all = append(d.all, s)
	d.mu.Unlock()

	select {
	case d.servers <- s:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return transport.NewLineConn(client), nil
}

// Next waits for the next dialed connection
func (d *Dialer) Next() *Server {
	d.t.Helper()
	select {
	case s := <-d.servers:
		return s
	case <-time.After(Timeout):
		d.t.Fatalf("no connection was dialed")
		return nil
	}
}

// Dials counts Dial calls
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// CloseAll hangs up every connection and refuses new ones
func (d *Dialer) CloseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for _, s := range d.all {
		s.conn.Close()
	}
}
