package memstore

import (
	"context"
	"sync"

	"github.com/privfs/evfs"
)

// broadcaster fans published evfs.NodeEvents out to every live
// Store.NodeEvents subscription, mirroring evfs's own localBroadcaster but
// closing a subscriber's channel when its context is done rather than
// requiring an explicit detach call, matching the NodeEvents(ctx) contract.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan evfs.NodeEvent
	next int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan evfs.NodeEvent)}
}

func (b *broadcaster) subscribe(ctx context.Context) <-chan evfs.NodeEvent {
	ch := make(chan evfs.NodeEvent, 64)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}()
	return ch
}

// publish delivers ev to every current subscriber, non-blockingly: a slow
// watch_tree consumer drops events rather than stalling the writer whose
// commit produced them.
func (b *broadcaster) publish(ev evfs.NodeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
