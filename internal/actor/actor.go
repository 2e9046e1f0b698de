// Package actor implements the single-threaded event loop that owns the
// network stack (spec §4.1): it multiplexes overlay events, caller commands
// and internal timers onto sub-actors, each of which exposes a
// handle_event/handle_command pair (the Subactor interface below).
//
// The loop itself never blocks on network or disk I/O; it only ever awaits
// its three input channels, mirroring swarm/network/hive.go's connect()
// ticker-plus-select loop generalized to N sub-actors and a shared command
// sink.
package actor

import (
	"context"

	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
)

// Command is the tagged union of all sub-actor operations. Concrete command
// types (e.g. dht.PutRecord, pubsub.Publish) implement this marker interface
// so the loop can route them to the right sub-actor without knowing their
// shape.
type Command interface {
	// SubactorName identifies which registered Subactor should receive
	// this command.
	SubactorName() string
}

// Event is the tagged union of overlay-originated notifications routed back
// into sub-actors (peer connected, DHT query progressed, message received,
// ...).
type Event interface {
	SubactorName() string
}

// Subactor is the uniform shape every subsystem (resolver, DHT, pub/sub,
// req/resp, debug fan-out, apps) implements. Per spec §4.1, neither method
// may block: both run on the loop's own goroutine.
type Subactor interface {
	Name() string
	HandleEvent(ctx context.Context, ev Event) error
	HandleCommand(ctx context.Context, cmd Command) error
}

// Loop is the actor event loop. It owns exactly one goroutine (started by
// Run) and must not be driven concurrently from more than one caller.
type Loop struct {
	log       hyvelog.Logger
	events    chan Event
	commands  chan Command
	timers    <-chan struct{}
	subactors map[string]Subactor
	stop      chan struct{}
	done      chan struct{}
}

// Options configures a Loop.
type Options struct {
	// EventBuffer/CommandBuffer size the channels callers and the overlay
	// library feed into; both default to 64 if zero.
	EventBuffer   int
	CommandBuffer int
	// Timers, if non-nil, is polled alongside events and commands (the
	// third suspension point of spec §4.1/§5). Pass nil to disable.
	Timers <-chan struct{}
}

func NewLoop(opts Options) *Loop {
	if opts.EventBuffer == 0 {
		opts.EventBuffer = 64
	}
	if opts.CommandBuffer == 0 {
		opts.CommandBuffer = 64
	}
	return &Loop{
		log:       hyvelog.New("component", "actor"),
		events:    make(chan Event, opts.EventBuffer),
		commands:  make(chan Command, opts.CommandBuffer),
		timers:    opts.Timers,
		subactors: make(map[string]Subactor),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Register attaches a sub-actor before Run is started. Registering after Run
// has started is not supported (sub-actor membership is fixed for the
// lifetime of the loop, per the "global mutable state" design note).
func (l *Loop) Register(s Subactor) {
	l.subactors[s.Name()] = s
}

// EventSink returns the channel the overlay library (or any event producer)
// pushes Events onto. A full buffer means the producer must apply backpressure;
// the loop never drops events silently.
func (l *Loop) EventSink() chan<- Event { return l.events }

// CommandSink returns the channel external callers submit Commands onto.
// Commands from one caller arrive here in FIFO order (spec §5).
func (l *Loop) CommandSink() chan<- Command { return l.commands }

// Run drives the loop until ctx is cancelled or Stop is called. It never
// returns early on a sub-actor error: per spec §4.1, a sub-actor error
// terminates only that operation, and Run logs and continues.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	// Fairness: a plain `select` chooses uniformly at random among the
	// ready cases, so no ready source is starved over time. Strict
	// alternation is not enforced: the same source can be serviced twice
	// in a row while another source is also ready (see DESIGN.md).
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case ev := <-l.events:
			l.dispatchEvent(ctx, ev)
		case cmd := <-l.commands:
			l.dispatchCommand(ctx, cmd)
		case <-l.timerChan():
		}
	}
}

func (l *Loop) timerChan() <-chan struct{} {
	if l.timers == nil {
		return nil // a nil channel blocks forever in select, disabling this case
	}
	return l.timers
}

func (l *Loop) dispatchEvent(ctx context.Context, ev Event) {
	sub, ok := l.subactors[ev.SubactorName()]
	if !ok {
		l.log.Debug("event for unknown subactor discarded", "subactor", ev.SubactorName())
		return
	}
	if err := sub.HandleEvent(ctx, ev); err != nil {
		l.log.Error("subactor event handler failed", "subactor", sub.Name(), "err", err)
	}
}

func (l *Loop) dispatchCommand(ctx context.Context, cmd Command) {
	sub, ok := l.subactors[cmd.SubactorName()]
	if !ok {
		l.log.Error("command for unknown subactor discarded", "subactor", cmd.SubactorName())
		return
	}
	if err := sub.HandleCommand(ctx, cmd); err != nil {
		l.log.Error("subactor command handler failed", "subactor", sub.Name(), "err", err)
	}
}

// Stop requests the loop to exit and blocks until Run has returned.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}
