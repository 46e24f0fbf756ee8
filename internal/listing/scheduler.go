package listing

import (
	"github.com/matt0x6f/alis-bot/internal/query"
)

// Scheduler enforces at most one active session per connection, with a
// bounded FIFO of waiting requests behind it. It is owned by a single
// goroutine and is not safe for concurrent use.
type Scheduler struct {
	connID   string
	capacity int
	active   *Session
	queue    []*Session
}

// NewScheduler creates a scheduler for connID holding up to capacity waiting requests
func NewScheduler(connID string, capacity int) *Scheduler {
	if capacity < 0 {
		capacity = 0
	}
	return &Scheduler{connID: connID, capacity: capacity}
}

// Submit registers a request. Position 0 means the returned session is now
// active and must be started; a positive position is its place in the queue.
// ErrBusy is returned when the queue is full.
func (s *Scheduler) Submit(requester string, spec query.Spec) (*Session, int, error) {
	sess := NewSession(s.connID, requester, spec)
	if s.active == nil {
		s.active = sess
		return sess, 0, nil
	}
	if len(s.queue) >= s.capacity {
		return nil, 0, ErrBusy
	}
	s.queue = append(s.queue, sess)
	return sess, len(s.queue), nil
}

// Active returns the active session or nil
func (s *Scheduler) Active() *Session {
	return s.active
}

// Pending is the number of queued sessions
func (s *Scheduler) Pending() int {
	return len(s.queue)
}

// Finish retires the active session and promotes the next queued one,
// which is returned (nil when the queue is empty)
func (s *Scheduler) Finish() *Session {
	s.active = nil
	if len(s.queue) == 0 {
		return nil
	}
	s.active = s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return s.active
}

// Abort clears the active session and the queue, returning both
func (s *Scheduler) Abort() (*Session, []*Session) {
	active, queued := s.active, s.queue
	s.active = nil
	s.queue = nil
	return active, queued
}
