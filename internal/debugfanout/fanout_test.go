package debugfanout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribePublishUnsubscribe(t *testing.T) {
	f := New()
	var activated, deactivated []Topic
	f.OnActivate = func(topic Topic) { activated = append(activated, topic) }
	f.OnDeactivate = func(topic Topic) { deactivated = append(deactivated, topic) }

	sub := f.Subscribe("topology")
	require.Equal(t, 1, f.RefCount("topology"))
	require.Equal(t, []Topic{"topology"}, activated)

	f.Publish("topology", "hello")
	select {
	case msg := <-sub.Events():
		require.Equal(t, "hello", msg)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received published message")
	}

	sub.Unsubscribe()
	require.Equal(t, 0, f.RefCount("topology"))
	require.Equal(t, []Topic{"topology"}, deactivated)
}

func TestRefCountAcrossMultipleSubscribers(t *testing.T) {
	f := New()
	activations := 0
	f.OnActivate = func(Topic) { activations++ }

	s1 := f.Subscribe("msg")
	s2 := f.Subscribe("msg")
	require.Equal(t, 2, f.RefCount("msg"))
	require.Equal(t, 1, activations, "OnActivate should fire only on the 0->1 transition")

	s1.Unsubscribe()
	require.Equal(t, 1, f.RefCount("msg"))
	s2.Unsubscribe()
	require.Equal(t, 0, f.RefCount("msg"))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	f := New()
	sub := f.Subscribe("x")
	sub.Unsubscribe()
	sub.Unsubscribe() // must not panic or double-decrement
	require.Equal(t, 0, f.RefCount("x"))
}
