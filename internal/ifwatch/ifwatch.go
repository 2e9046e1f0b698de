// Package ifwatch provides a lazy stream of network interface up/down
// events for the mesh interfaces the daemon is configured to watch (spec
// §4.2's refresh loop reacts to these to decide when to (re)start polling a
// given interface's neighbour table).
package ifwatch

import (
	"net"

	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
	"github.com/vishvananda/netlink"
)

// Event reports a single interface transitioning up or down.
type Event struct {
	InterfaceIndex int
	Name           string
	Up             bool
}

// Watcher streams interface up/down transitions for a fixed set of
// interfaces, filtering out everything else so a busy host with many
// unrelated links doesn't flood the resolver with irrelevant churn.
type Watcher struct {
	names map[string]struct{}
	log   hyvelog.Logger
}

// New watches exactly the named interfaces (the config file's `interfaces`
// list, plus `batman-interface`/`wifi-interface` when set).
func New(interfaces []string) *Watcher {
	names := make(map[string]struct{}, len(interfaces))
	for _, n := range interfaces {
		names[n] = struct{}{}
	}
	return &Watcher{names: names, log: hyvelog.New("component", "ifwatch")}
}

// Run subscribes to netlink link updates and forwards matching transitions
// to out until done is closed. It first emits the current state of every
// watched interface, so a late subscriber doesn't miss an already-up link.
func (w *Watcher) Run(out chan<- Event, done <-chan struct{}) error {
	for name := range w.names {
		if ifi, err := net.InterfaceByName(name); err == nil {
			select {
			case out <- Event{InterfaceIndex: ifi.Index, Name: name, Up: ifi.Flags&net.FlagUp != 0}:
			case <-done:
				return nil
			}
		}
	}

	updates := make(chan netlink.LinkUpdate)
	if err := netlink.LinkSubscribe(updates, done); err != nil {
		w.log.Error("netlink link subscribe failed", "err", err)
		return err
	}
	return w.forward(updates, out, done)
}

// translate maps a raw netlink update to an Event, reporting watched=false
// for interfaces outside the configured set.
func (w *Watcher) translate(u netlink.LinkUpdate) (ev Event, watched bool) {
	attrs := u.Link.Attrs()
	if _, watched = w.names[attrs.Name]; !watched {
		return Event{}, false
	}
	return Event{
		InterfaceIndex: attrs.Index,
		Name:           attrs.Name,
		Up:             attrs.OperState == netlink.OperUp,
	}, true
}

func (w *Watcher) forward(updates <-chan netlink.LinkUpdate, out chan<- Event, done <-chan struct{}) error {
	for {
		select {
		case <-done:
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			ev, watched := w.translate(u)
			if !watched {
				continue
			}
			w.log.Debug("interface transition", "name", ev.Name, "up", ev.Up)
			select {
			case out <- ev:
			case <-done:
				return nil
			}
		}
	}
}
