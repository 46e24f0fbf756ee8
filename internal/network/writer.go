package network

import (
	"context"
	"sync"
	"time"

	"github.com/matt0x6f/alis-bot/internal/transport"
)

const priorityQueueSize = 256

// writer owns the write side of one transport. Priority lines go out as
// soon as they are queued; normal lines are spaced by delay. The normal
// lane has no bound, so Queue never blocks its caller.
type writer struct {
	conn     transport.Conn
	delay    time.Duration
	priority chan string
	done     chan struct{}
	err      error

	mu      sync.Mutex
	backlog []string
	more    chan struct{}
}

func newWriter(conn transport.Conn, delay time.Duration) *writer {
	return &writer{
		conn:     conn,
		delay:    delay,
		priority: make(chan string, priorityQueueSize),
		done:     make(chan struct{}),
		more:     make(chan struct{}, 1),
	}
}

// Urgent queues a priority line
func (w *writer) Urgent(line string) error {
	select {
	case <-w.done:
		return ErrNotConnected
	default:
	}
	select {
	case w.priority <- line:
		return nil
	case <-w.done:
		return ErrNotConnected
	}
}

// Queue appends a normal line to the paced backlog
func (w *writer) Queue(line string) error {
	select {
	case <-w.done:
		return ErrNotConnected
	default:
	}
	w.mu.Lock()
	w.backlog = append(w.backlog, line)
	w.mu.Unlock()
	select {
	case w.more <- struct{}{}:
	default:
	}
	return nil
}

// Backlog is the number of normal lines not yet written
func (w *writer) Backlog() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.backlog)
}

func (w *writer) pop() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.backlog) == 0 {
		return "", false
	}
	line := w.backlog[0]
	w.backlog[0] = ""
	w.backlog = w.backlog[1:]
	return line, true
}

// Done is closed when the writer stops
func (w *writer) Done() <-chan struct{} {
	return w.done
}

// Err is the write error that stopped the writer, valid after Done
func (w *writer) Err() error {
	return w.err
}

func (w *writer) run(ctx context.Context) {
	defer close(w.done)

	var last time.Time
	for {
		select {
		case line := <-w.priority:
			if !w.write(line) {
				return
			}
			continue
		default:
		}

		if line, ok := w.pop(); ok {
			if !w.pace(ctx, last) {
				return
			}
			if !w.write(line) {
				return
			}
			last = time.Now()
			continue
		}

		select {
		case <-ctx.Done():
			return
		case line := <-w.priority:
			if !w.write(line) {
				return
			}
		case <-w.more:
		}
	}
}

// pace waits out the flood delay since last, still writing priority lines
func (w *writer) pace(ctx context.Context, last time.Time) bool {
	for {
		wait := w.delay - time.Since(last)
		if last.IsZero() || wait <= 0 {
			return true
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case line := <-w.priority:
			timer.Stop()
			if !w.write(line) {
				return false
			}
		case <-timer.C:
		}
	}
}

func (w *writer) write(line string) bool {
	if err := w.conn.WriteLine(line); err != nil {
		w.err = err
		return false
	}
	return true
}
