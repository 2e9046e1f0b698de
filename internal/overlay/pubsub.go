package overlay

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/rcrowley/go-metrics"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveerr"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
)

// Topic namespaces (spec §4.3: "topics are namespaced: application topics
// are prefixed app/, diagnostic topics script/"). Any other prefix is
// rejected at publish/subscribe time.
const (
	TopicAppPrefix    = "app/"
	TopicScriptPrefix = "script/"
)

// pubsubQueueDepth bounds a subscription's delivery queue the same way
// resolver.Broadcaster bounds its own (spec §4.3: "a subscription's queue is
// bounded; overflow disconnects the subscriber with a Lagged error").
const pubsubQueueDepth = 64

// ErrLaggedSubscriber is observed by a pub/sub subscriber whose queue
// overflowed; the caller must resubscribe to resume receiving messages.
var ErrLaggedSubscriber = errors.New("overlay: pubsub subscriber lagged, events dropped")

// ReceivedMessage is one delivered pub/sub message (spec §4.3
// subscribe(topic) → stream<ReceivedMessage>).
type ReceivedMessage struct {
	Topic string
	From  hyveid.PeerId
	Data  []byte
	ID    string
}

func validateTopic(topic string) error {
	switch {
	case strings.HasPrefix(topic, TopicAppPrefix) && len(topic) > len(TopicAppPrefix):
		return nil
	case strings.HasPrefix(topic, TopicScriptPrefix) && len(topic) > len(TopicScriptPrefix):
		return nil
	default:
		return hyveerr.Newf(hyveerr.InvalidArgument, "pubsub.validate_topic", "topic %q must be namespaced app/ or script/", topic)
	}
}

func (o *Overlay) joinTopic(topic string) (*pubsub.Topic, error) {
	if err := validateTopic(topic); err != nil {
		return nil, err
	}
	o.topicsMu.Lock()
	defer o.topicsMu.Unlock()
	if t, ok := o.topics[topic]; ok {
		return t, nil
	}
	t, err := o.PubSub.Join(topic)
	if err != nil {
		return nil, hyveerr.New(hyveerr.Transient, "pubsub.join", err)
	}
	o.topics[topic] = t
	return t, nil
}

// publishCounter gives locally-published messages a unique id: go-libp2p-pubsub's
// Topic.Publish doesn't hand back the wire message id it assigns internally, so
// one is synthesized from the publisher's own identity, the payload hash, and a
// per-process counter instead.
var publishCounter uint64

// Publish signs and broadcasts data on topic via gossipsub, message signing
// enabled host-wide in New (spec §4.3: "message authenticity is signed by the
// publisher's keypair").
func (o *Overlay) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	t, err := o.joinTopic(topic)
	if err != nil {
		return "", err
	}
	if err := t.Publish(ctx, data); err != nil {
		return "", hyveerr.New(hyveerr.Transient, "pubsub.publish", err)
	}
	seq := atomic.AddUint64(&publishCounter, 1)
	return localMessageID(o.Host.ID().String(), data, seq), nil
}

func localMessageID(selfID string, data []byte, seq uint64) string {
	h := sha256.Sum256(append([]byte(selfID), data...))
	return fmt.Sprintf("%x-%d", h[:8], seq)
}

// Subscription is a live pub/sub subscription; Next blocks for the next
// message or returns ErrLaggedSubscriber once, followed by io.EOF.
// laggedErr has room for exactly one value, written at most once by run
// before it closes ch, so that write can never block and the error is never
// dropped the way a second attempt on an already-full ch would be.
type Subscription struct {
	topicName string
	id        uint64
	sub       *pubsub.Subscription
	self      string
	ch        chan ReceivedMessage
	laggedErr chan error
	cancel    context.CancelFunc
}

var subNextID uint64

// metricName namespaces s's go-metrics entries the way pubsubchannel.go scopes
// its own counters per subscription id.
func (s *Subscription) metricName(suffix string) string {
	return fmt.Sprintf("pubsub.%s.%d.%s", s.topicName, s.id, suffix)
}

// Subscribe joins topic if needed and returns a bounded, lossy-with-disconnect
// stream of ReceivedMessage, mirroring resolver.Broadcaster's contract for the
// pub/sub domain.
func (o *Overlay) Subscribe(topic string) (*Subscription, error) {
	t, err := o.joinTopic(topic)
	if err != nil {
		return nil, err
	}
	libSub, err := t.Subscribe()
	if err != nil {
		return nil, hyveerr.New(hyveerr.Transient, "pubsub.subscribe", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		topicName: topic,
		id:        atomic.AddUint64(&subNextID, 1),
		sub:       libSub,
		self:      o.Host.ID().String(),
		ch:        make(chan ReceivedMessage, pubsubQueueDepth),
		laggedErr: make(chan error, 1),
		cancel:    cancel,
	}
	go s.run(ctx)
	return s, nil
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.ch)
	for {
		m, err := s.sub.Next(ctx)
		if err != nil {
			return
		}
		if m.ReceivedFrom.String() == s.self {
			continue // gossipsub echoes our own publishes back to us
		}
		from, err := hyveid.PeerIdFromBytes([]byte(m.ReceivedFrom))
		if err != nil {
			continue
		}
		rm := ReceivedMessage{
			Topic: s.topicName,
			From:  from,
			Data:  m.GetData(),
			ID:    wireMessageID(m),
		}
		if !s.deliver(rm) {
			return
		}
	}
}

// deliver enqueues rm, or marks the subscription lagged and reports false
// if the queue is already full. laggedErr has room for exactly one value
// and this is the only writer, so the write can never block.
func (s *Subscription) deliver(rm ReceivedMessage) bool {
	select {
	case s.ch <- rm:
		metrics.GetOrRegisterCounter(s.metricName("delivered"), nil).Inc(1)
		metrics.GetOrRegisterGauge(s.metricName("pending"), nil).Update(int64(len(s.ch)))
		return true
	default:
		metrics.GetOrRegisterCounter(s.metricName("lagged"), nil).Inc(1)
		s.laggedErr <- ErrLaggedSubscriber
		return false
	}
}

func wireMessageID(m *pubsub.Message) string {
	h := sha256.Sum256(append(append([]byte{}, m.GetFrom()...), m.GetSeqno()...))
	return fmt.Sprintf("%x", h[:8])
}

// Next blocks for the subscription's next message. err is ErrLaggedSubscriber
// exactly once if the subscriber fell behind, io.EOF once the subscription is
// closed or has otherwise ended.
func (s *Subscription) Next() (ReceivedMessage, error) {
	item, ok := <-s.ch
	if !ok {
		select {
		case err := <-s.laggedErr:
			return ReceivedMessage{}, err
		default:
			return ReceivedMessage{}, io.EOF
		}
	}
	return item, nil
}

// Close cancels the subscription and releases the underlying gossipsub
// subscription (spec §4.5: closing the stream relinquishes it when the
// reference count of the logical topic drops to zero).
func (s *Subscription) Close() {
	s.cancel()
	s.sub.Cancel()
}

// DeliveredCount returns the number of messages successfully enqueued for
// this subscription so far.
func (s *Subscription) DeliveredCount() int64 {
	return metrics.GetOrRegisterCounter(s.metricName("delivered"), nil).Count()
}

// Pending returns the subscription's current undelivered queue depth.
func (s *Subscription) Pending() int64 {
	return metrics.GetOrRegisterGauge(s.metricName("pending"), nil).Value()
}
