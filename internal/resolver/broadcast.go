package resolver

import (
	"errors"
	"sync"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
)

// ErrLagged is observed by a subscriber whose queue overflowed; per spec
// §4.2 it must resubscribe to recover, losing no fewer than its queue depth
// worth of events.
var ErrLagged = errors.New("resolver: subscriber lagged, events dropped")

// broadcastQueueDepth bounds each subscriber's event queue (spec §4.2:
// "lossy-with-disconnect...bounded queue").
const broadcastQueueDepth = 64

// Broadcaster fans resolver events out to subscribers with the strict
// per-peer ordering guarantee of spec §3: every subscription is served an
// Init snapshot first, then only Discovered/Lost, and a subscriber that
// falls behind is disconnected rather than silently skipped.
//
// Adapted from the teacher's network/pubsubchannel.PubSubChannel: the same
// subscription-list-plus-mutex shape, with Init-on-attach and
// overflow-as-error layered on top for the resolver's specific contract.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*EventSubscription]struct{}
	nextID uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*EventSubscription]struct{})}
}

// EventSubscription is a subscriber's handle to the ordered event stream.
// laggedErr has room for exactly one value and is only ever written by
// Publish, and only once (guarded by closed), so that write can never
// block: it is always there by the time ch is closed, which Next relies on
// to surface ErrLagged instead of silently looking like a clean Unsubscribe.
type EventSubscription struct {
	id        uint64
	b         *Broadcaster
	ch        chan Event
	laggedErr chan error
	closed    bool
	mu        sync.Mutex
}

// Subscribe attaches a new subscription, immediately enqueueing an Init
// event listing currentPeers (a snapshot the caller captures under the same
// lock it uses to mutate resolved state, so Init always reflects a
// consistent point in time relative to subsequently forwarded events).
func (b *Broadcaster) Subscribe(currentPeers []hyveid.PeerId) *EventSubscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &EventSubscription{
		id:        b.nextID,
		b:         b,
		ch:        make(chan Event, broadcastQueueDepth),
		laggedErr: make(chan error, 1),
	}
	b.nextID++
	b.subs[sub] = struct{}{}
	peers := append([]hyveid.PeerId(nil), currentPeers...)
	sub.ch <- Event{Kind: EventInit, Peers: peers}
	return sub
}

// Publish forwards ev to every subscriber. A subscriber whose queue is full
// is disconnected and observes ErrLagged instead of silently missing ev.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]*EventSubscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.closed = true
			sub.laggedErr <- ErrLagged
			close(sub.ch)
			b.detach(sub)
		}
		sub.mu.Unlock()
	}
}

func (b *Broadcaster) detach(sub *EventSubscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Next blocks for the subscription's next event. ok is false once the
// subscription has been closed (either via Unsubscribe or lag-disconnect);
// err is non-nil only in the lag-disconnect case.
func (s *EventSubscription) Next() (ev Event, ok bool, err error) {
	item, open := <-s.ch
	if !open {
		select {
		case lerr := <-s.laggedErr:
			return Event{}, false, lerr
		default:
			return Event{}, false, nil
		}
	}
	return item, true, nil
}

// Unsubscribe detaches the subscription, releasing its queue.
func (s *EventSubscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	s.b.detach(s)
}
