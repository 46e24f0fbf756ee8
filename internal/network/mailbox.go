package network

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO between a connection flow and its consumer.
// put never blocks; pump forwards items in order to the consumer channel.
type mailbox struct {
	mu     sync.Mutex
	items  []Inbound
	closed bool
	wake   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (b *mailbox) put(in Inbound) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.items = append(b.items, in)
	b.mu.Unlock()
	b.signal()
}

// close lets pump finish once the remaining items are forwarded
func (b *mailbox) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()
}

func (b *mailbox) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// pump forwards items to out until the mailbox is closed and drained or ctx
// ends, then closes out
func (b *mailbox) pump(ctx context.Context, out chan<- Inbound) {
	defer close(out)
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			in := b.items[0]
			b.items[0] = Inbound{}
			b.items = b.items[1:]
			b.mu.Unlock()
			select {
			case out <- in:
			case <-ctx.Done():
				return
			}
			continue
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return
		}
		select {
		case <-b.wake:
		case <-ctx.Done():
			return
		}
	}
}
