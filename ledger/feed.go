package ledger

import (
	"context"
	"sync"
)

// Snapshot is the full ordered state of the ledger collections at one point.
// Subscribers always receive whole snapshots, never deltas.
type Snapshot struct {
	Expenses    []Expense     // newest first
	DebtRecords []DebtRecord  // newest first
	Payments    []DebtPayment // newest first
}

// Feed fans snapshots out to subscribers. A slow subscriber only ever sees
// the latest snapshot: an undelivered one is replaced, not queued.
type Feed struct {
	mu   sync.Mutex
	subs map[chan Snapshot]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[chan Snapshot]struct{})}
}

// Subscribe registers a subscriber until ctx is done, then closes the channel.
func (f *Feed) Subscribe(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, ch)
		close(ch)
		f.mu.Unlock()
	}()
	return ch
}

// Len returns the number of active subscribers.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Publish delivers s to every subscriber without blocking.
func (f *Feed) Publish(s Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		deliver(ch, s)
	}
}

// deliver replaces any pending snapshot in ch with s. Callers hold f.mu, so
// ch is never closed concurrently.
func deliver(ch chan Snapshot, s Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// send delivers s to a single subscriber registered on f.
func (f *Feed) send(ch <-chan Snapshot, s Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.subs {
		if c == ch {
			deliver(c, s)
			return
		}
	}
}
