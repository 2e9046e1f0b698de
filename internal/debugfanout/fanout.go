// Package debugfanout implements the reference-counted broadcast of
// topology and message events described in spec §4.5. It is a direct
// adaptation of the teacher's network/pubsubchannel package: the same
// per-subscriber goroutine-safe signal channel and Subscribe/Publish/
// Unsubscribe/Close shape, generalized to track a reference count per
// logical topic so the underlying overlay subscription can be released
// when it drops to zero (spec §9 "reference-counted broadcast" design
// note).
package debugfanout

import (
	"sync"

	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
)

// Topic identifies one logical debug stream, e.g. "mesh-topology" or
// "message-log".
type Topic string

// Fanout multiplexes events for many topics to many subscribers, tracking a
// reference count per topic.
type Fanout struct {
	log hyvelog.Logger

	mu          sync.Mutex
	subsByTopic map[Topic][]*Subscription
	refcount    map[Topic]int
	nextID      uint64

	// OnActivate/OnDeactivate are called (outside the lock) when a topic's
	// refcount transitions 0->1 or 1->0, letting the owner attach/detach
	// the underlying overlay subscription.
	OnActivate   func(Topic)
	OnDeactivate func(Topic)
}

func New() *Fanout {
	return &Fanout{
		log:         hyvelog.New("component", "debugfanout"),
		subsByTopic: make(map[Topic][]*Subscription),
		refcount:    make(map[Topic]int),
	}
}

// Subscription is a single subscriber's handle to a topic's event stream.
type Subscription struct {
	id        uint64
	topic     Topic
	fanout    *Fanout
	signal    chan interface{}
	quitC     chan struct{}
	closeOnce sync.Once
	closed    bool
	mu        sync.RWMutex
}

// Subscribe opens (or joins) a subscription to topic, incrementing its
// reference count. Closing via Unsubscribe decrements it; when it reaches
// zero, OnDeactivate fires.
func (f *Fanout) Subscribe(topic Topic) *Subscription {
	f.mu.Lock()
	sub := &Subscription{
		id:     f.nextID,
		topic:  topic,
		fanout: f,
		signal: make(chan interface{}),
		quitC:  make(chan struct{}),
	}
	f.nextID++
	f.subsByTopic[topic] = append(f.subsByTopic[topic], sub)
	f.refcount[topic]++
	activated := f.refcount[topic] == 1
	f.mu.Unlock()

	if activated && f.OnActivate != nil {
		f.OnActivate(topic)
	}
	return sub
}

func (f *Fanout) removeSub(sub *Subscription) {
	f.mu.Lock()
	subs := f.subsByTopic[sub.topic]
	for i, s := range subs {
		if s == sub {
			f.subsByTopic[sub.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(f.subsByTopic[sub.topic]) == 0 {
		delete(f.subsByTopic, sub.topic)
	}
	f.refcount[sub.topic]--
	deactivated := f.refcount[sub.topic] <= 0
	if deactivated {
		delete(f.refcount, sub.topic)
	}
	f.mu.Unlock()

	if deactivated && f.OnDeactivate != nil {
		f.OnDeactivate(sub.topic)
	}
}

// Publish broadcasts msg to every subscriber of topic, asynchronously and
// without blocking the caller on a slow subscriber.
func (f *Fanout) Publish(topic Topic, msg interface{}) {
	f.mu.Lock()
	subs := append([]*Subscription(nil), f.subsByTopic[topic]...)
	f.mu.Unlock()

	for _, sub := range subs {
		go func(sub *Subscription) {
			sub.mu.RLock()
			defer sub.mu.RUnlock()
			if sub.closed {
				return
			}
			select {
			case sub.signal <- msg:
			case <-sub.quitC:
			}
		}(sub)
	}
}

// RefCount returns the current subscriber count for topic (0 if none).
func (f *Fanout) RefCount(topic Topic) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refcount[topic]
}

// Unsubscribe releases the subscription, decrementing its topic's refcount.
func (s *Subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.quitC)
		s.fanout.removeSub(s)
	})
}

// Events returns the channel this subscription receives messages on.
func (s *Subscription) Events() <-chan interface{} { return s.signal }

// Topic returns the topic this subscription is attached to.
func (s *Subscription) Topic() Topic { return s.topic }
