package overlay

import (
	"testing"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveerr"
)

func TestValidateTopicAcceptsAppAndScriptNamespaces(t *testing.T) {
	for _, topic := range []string{"app/telemetry", "script/heartbeat"} {
		if err := validateTopic(topic); err != nil {
			t.Fatalf("validateTopic(%q): unexpected error %v", topic, err)
		}
	}
}

func TestValidateTopicRejectsUnknownNamespace(t *testing.T) {
	err := validateTopic("debug/telemetry")
	if err == nil {
		t.Fatal("expected an error for a topic outside app/ and script/")
	}
	if hyveerr.KindOf(err) != hyveerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", hyveerr.KindOf(err))
	}
}

func TestValidateTopicRejectsBarePrefix(t *testing.T) {
	for _, topic := range []string{"app/", "script/", "app", "script"} {
		if err := validateTopic(topic); err == nil {
			t.Fatalf("validateTopic(%q): expected an error for a namespace with no topic name", topic)
		}
	}
}

func TestSubscriptionDeliverOverflowSurfacesErrLaggedSubscriber(t *testing.T) {
	s := &Subscription{
		ch:        make(chan ReceivedMessage, 2),
		laggedErr: make(chan error, 1),
	}

	for i := 0; i < 2; i++ {
		if !s.deliver(ReceivedMessage{Topic: "app/x"}) {
			t.Fatalf("delivery %d: expected room in the queue", i)
		}
	}

	if s.deliver(ReceivedMessage{Topic: "app/x"}) {
		t.Fatal("expected the third delivery to report the queue full")
	}

	close(s.ch) // run's defer does this once it observes deliver returning false

	for i := 0; i < 2; i++ {
		if _, err := s.Next(); err != nil {
			t.Fatalf("message %d: expected a queued message, got err %v", i, err)
		}
	}

	if _, err := s.Next(); err != ErrLaggedSubscriber {
		t.Fatalf("expected ErrLaggedSubscriber once the queue drains, got %v", err)
	}
}

func TestLocalMessageIDIsStableForSameInputsAndVariesWithSeq(t *testing.T) {
	a := localMessageID("peer-a", []byte("hello"), 1)
	b := localMessageID("peer-a", []byte("hello"), 1)
	c := localMessageID("peer-a", []byte("hello"), 2)

	if a != b {
		t.Fatalf("expected identical inputs to produce the same id, got %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("expected different sequence numbers to produce different ids")
	}
}
