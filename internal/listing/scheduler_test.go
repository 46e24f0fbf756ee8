package listing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/matt0x6f/alis-bot/internal/query"
)

func TestSchedulerQueueing(t *testing.T) {
	s := NewScheduler("libera", 2)

	first, pos, err := s.Submit("alice", query.DefaultSpec())
	require.NoError(t, err)
	assert.Equal(t, 0, pos)
	assert.Same(t, first, s.Active())

	second, pos, err := s.Submit("bob", query.DefaultSpec())
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	_, pos, err = s.Submit("carol", query.DefaultSpec())
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	_, _, err = s.Submit("dave", query.DefaultSpec())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, 2, s.Pending())

	next := s.Finish()
	assert.Same(t, second, next)
	assert.Same(t, second, s.Active())
	assert.Equal(t, "bob", next.Requester)
	assert.Equal(t, "libera", next.ConnID)
	assert.Equal(t, Idle, next.State())
}

func TestSchedulerAbort(t *testing.T) {
	s := NewScheduler("libera", 3)
	s.Submit("alice", query.DefaultSpec())
	s.Submit("bob", query.DefaultSpec())

	active, queued := s.Abort()
	assert.Equal(t, "alice", active.Requester)
	require.Len(t, queued, 1)
	assert.Equal(t, "bob", queued[0].Requester)

	assert.Nil(t, s.Active())
	assert.Zero(t, s.Pending())
	assert.Nil(t, s.Finish())
}

func TestSchedulerZeroCapacityRejectsWhileActive(t *testing.T) {
	s := NewScheduler("libera", 0)
	_, _, err := s.Submit("alice", query.DefaultSpec())
	require.NoError(t, err)
	_, _, err = s.Submit("bob", query.DefaultSpec())
	assert.ErrorIs(t, err, ErrBusy)
}

// At most one session is ever active, and sessions activate in submission order.
func TestSchedulerExclusivity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(0, 4).Draw(t, "capacity")
		s := NewScheduler("net", capacity)

		var accepted []*Session
		var activated []*Session
		ops := rapid.SliceOfN(rapid.Bool(), 1, 50).Draw(t, "ops")
		for _, submit := range ops {
			if submit {
				before := s.Active()
				sess, pos, err := s.Submit("user", query.DefaultSpec())
				if err != nil {
					if s.Pending() != capacity {
						t.Fatalf("busy with %d/%d queued", s.Pending(), capacity)
					}
					continue
				}
				accepted = append(accepted, sess)
				if pos == 0 {
					if before != nil {
						t.Fatalf("second session activated while one was active")
					}
					activated = append(activated, sess)
				}
				continue
			}
			if s.Active() != nil {
				if next := s.Finish(); next != nil {
					activated = append(activated, next)
				}
			}
		}

		for i, sess := range activated {
			if accepted[i] != sess {
				t.Fatalf("activation %d out of submission order", i)
			}
		}
	})
}
