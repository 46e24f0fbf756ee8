package query

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Unbounded is the default maximum member count
const Unbounded = math.MaxUint32

// Spec is a validated channel search
type Spec struct {
	Name  Pattern
	Topic *Pattern // nil when no topic filter was given
	Min   uint32
	Max   uint32
}

// DefaultSpec matches every channel
func DefaultSpec() Spec {
	return Spec{
		Name: MatchAll,
		Min:  0,
		Max:  Unbounded,
	}
}

// ErrMinAboveMax is returned by Validate when the bounds are inverted
var ErrMinAboveMax = errors.New("minimum member count is greater than maximum")

// Validate checks the Min <= Max invariant
func (s Spec) Validate() error {
	if s.Min > s.Max {
		return fmt.Errorf("%w (%d > %d)", ErrMinAboveMax, s.Min, s.Max)
	}
	return nil
}

// String renders the spec for replies and logs
func (s Spec) String() string {
	topic := "(none)"
	if s.Topic != nil {
		topic = s.Topic.String()
	}
	max := "(none)"
	if s.Max != Unbounded {
		max = strconv.FormatUint(uint64(s.Max), 10)
	}
	min := "(none)"
	if s.Min != 0 {
		min = strconv.FormatUint(uint64(s.Min), 10)
	}
	return fmt.Sprintf("name: %s, topic: %s, min users: %s, max users: %s", s.Name, topic, min, max)
}
