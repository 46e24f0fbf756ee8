package network

import "time"

// Backoff yields doubling delays between Base and Max
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	next time.Duration
}

// Next returns the delay before the next attempt and doubles the following one
func (b *Backoff) Next() time.Duration {
	if b.next <= 0 {
		b.next = b.Base
	}
	d := b.next
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	b.next = d * 2
	if b.Max > 0 && b.next > b.Max {
		b.next = b.Max
	}
	return d
}

// Reset starts over from Base
func (b *Backoff) Reset() {
	b.next = 0
}
