// Package transport opens line-framed connections to IRC servers.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircreader"

	"github.com/matt0x6f/alis-bot/internal/constants"
)

// Conn is a bidirectional line transport. ReadLine returns lines without
// their terminator and must only be called from one goroutine.
type Conn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
}

// Endpoint is where to connect
type Endpoint struct {
	Host string
	Port int
	TLS  bool
	// SkipVerify disables TLS certificate verification
	SkipVerify bool
}

// Address returns host:port
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Dialer opens connections to an endpoint
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// NetDialer dials TCP, optionally wrapped in TLS
type NetDialer struct {
	Timeout      time.Duration
	WriteTimeout time.Duration
}

// NewNetDialer returns a dialer with the default timeouts
func NewNetDialer() *NetDialer {
	return &NetDialer{Timeout: constants.DialTimeout, WriteTimeout: constants.DialTimeout}
}

// Dial connects to ep
func (d *NetDialer) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout}
	var (
		c   net.Conn
		err error
	)
	if ep.TLS {
		td := &tls.Dialer{
			NetDialer: nd,
			Config: &tls.Config{
				ServerName:         ep.Host,
				InsecureSkipVerify: ep.SkipVerify,
				MinVersion:         tls.VersionTLS12,
			},
		}
		c, err = td.DialContext(ctx, "tcp", ep.Address())
	} else {
		c, err = nd.DialContext(ctx, "tcp", ep.Address())
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep.Address(), err)
	}
	lc := NewLineConn(c)
	lc.writeTimeout = d.WriteTimeout
	return lc, nil
}

// LineConn frames a net.Conn into IRC lines
type LineConn struct {
	conn         net.Conn
	reader       ircreader.Reader
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// NewLineConn wraps c
func NewLineConn(c net.Conn) *LineConn {
	lc := &LineConn{conn: c}
	lc.reader.Initialize(c, constants.ReadBufferSize, constants.MaxReadQ)
	return lc
}

// ReadLine returns the next line with CR/LF stripped
func (lc *LineConn) ReadLine() (string, error) {
	line, err := lc.reader.ReadLine()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

// WriteLine writes line followed by CRLF. Lines already ending in CRLF are
// written as they are.
func (lc *LineConn) WriteLine(line string) error {
	if !strings.HasSuffix(line, "\r\n") {
		line += "\r\n"
	}

	lc.writeMu.Lock()
	defer lc.writeMu.Unlock()

	if lc.writeTimeout > 0 {
		if err := lc.conn.SetWriteDeadline(time.Now().Add(lc.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := lc.conn.Write([]byte(line))
	return err
}

// Close closes the underlying connection; safe to call more than once
func (lc *LineConn) Close() error {
	lc.closeOnce.Do(func() {
		lc.closeErr = lc.conn.Close()
	})
	return lc.closeErr
}
