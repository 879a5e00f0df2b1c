package substrate

import (
	"context"
	"sync"
)

// notifier fans edition numbers out to subscribers. A slow subscriber only ever
// sees the newest pending edition; older pending ones are replaced.
type notifier struct {
	mu   sync.Mutex
	subs map[string]map[chan int64]struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[string]map[chan int64]struct{})}
}

// subscribe registers a channel for address and unregisters and closes it when
// ctx is done. If current is positive it is delivered first.
func (n *notifier) subscribe(ctx context.Context, address string, current int64) <-chan int64 {
	ch := make(chan int64, 1)
	if current > 0 {
		ch <- current
	}

	n.mu.Lock()
	if n.subs[address] == nil {
		n.subs[address] = make(map[chan int64]struct{})
	}
	n.subs[address][ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[address], ch)
		if len(n.subs[address]) == 0 {
			delete(n.subs, address)
		}
		close(ch)
	}()
	return ch
}

func (n *notifier) notify(address string, edition int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs[address] {
		offer(ch, edition)
	}
}

// offer delivers edition without blocking, replacing a pending older value.
func offer(ch chan int64, edition int64) {
	for {
		select {
		case ch <- edition:
			return
		default:
		}
		select {
		case old := <-ch:
			if old > edition {
				edition = old
			}
		default:
		}
	}
}
