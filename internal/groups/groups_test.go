package groups

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
	"github.com/p2p-industries/hyveos-sub001/internal/overlay"
)

// fakeBus and fakeLink simulate internal/overlay's ReqRes over an in-process
// channel pair instead of real libp2p streams, so Manager<->Manager
// handshakes can be exercised without standing up two hosts.
type fakeBus struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan []byte
}

func newFakeBus() *fakeBus { return &fakeBus{pending: make(map[uint64]chan []byte)} }

type fakeLink struct {
	bus    *fakeBus
	self   hyveid.PeerId
	target *Manager
}

func (l *fakeLink) SendRequest(ctx context.Context, peerID hyveid.PeerId, topic string, data []byte) ([]byte, error) {
	l.bus.mu.Lock()
	l.bus.nextID++
	id := l.bus.nextID
	ch := make(chan []byte, 1)
	l.bus.pending[id] = ch
	l.bus.mu.Unlock()

	go l.target.HandleIncoming(overlay.IncomingRequest{RequestID: id, Peer: l.self, Topic: topic, Data: data})

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *fakeLink) SendResponse(requestID uint64, data []byte) error {
	l.bus.mu.Lock()
	ch, ok := l.bus.pending[requestID]
	if ok {
		delete(l.bus.pending, requestID)
	}
	l.bus.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown request id %d", requestID)
	}
	ch <- data
	return nil
}

func mustPeerID(t *testing.T, raw string) hyveid.PeerId {
	t.Helper()
	id, err := hyveid.PeerIdFromBytes([]byte(raw))
	if err != nil {
		t.Fatalf("PeerIdFromBytes: %v", err)
	}
	return id
}

func TestInviteAndAcceptAddsMemberOnBothSides(t *testing.T) {
	bus := newFakeBus()
	alice := mustPeerID(t, "alice-peer-id")
	bob := mustPeerID(t, "bob-peer-id")

	leader := NewManager(alice, nil)
	invitee := NewManager(bob, nil)
	leader.reqres = &fakeLink{bus: bus, self: alice, target: invitee}
	invitee.reqres = &fakeLink{bus: bus, self: bob, target: leader}

	group := leader.CreateGroup("mesh-ops")

	ctx := context.Background()
	if err := leader.InviteMember(ctx, group, bob); err != nil {
		t.Fatalf("InviteMember: %v", err)
	}

	pending := invitee.PendingInvitations()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending invitation on the invitee, got %d", len(pending))
	}

	if err := invitee.RespondToInvitation(ctx, pending[0], true); err != nil {
		t.Fatalf("RespondToInvitation: %v", err)
	}

	members, err := leader.GroupMembers(group)
	if err != nil {
		t.Fatalf("GroupMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members on the leader's view, got %d", len(members))
	}

	inviteeMembers, err := invitee.GroupMembers(group)
	if err != nil {
		t.Fatalf("GroupMembers on invitee: %v", err)
	}
	if len(inviteeMembers) != 2 {
		t.Fatalf("expected 2 members on the invitee's view, got %d", len(inviteeMembers))
	}

	if len(invitee.PendingInvitations()) != 0 {
		t.Fatal("expected no pending invitations after responding")
	}
}

func TestInviteMemberRejectsNonLeader(t *testing.T) {
	bus := newFakeBus()
	alice := mustPeerID(t, "alice-peer-id")
	bob := mustPeerID(t, "bob-peer-id")
	carol := mustPeerID(t, "carol-peer-id")

	leader := NewManager(alice, nil)
	notLeader := NewManager(bob, nil)
	notLeader.reqres = &fakeLink{bus: bus, self: bob, target: leader}

	group := leader.CreateGroup("mesh-ops")
	// notLeader only knows about the group because a test seeds it directly;
	// in practice it would only learn of it via an accepted invitation.
	notLeader.groups[group] = &GroupInfo{Name: "mesh-ops", LeaderID: alice, Members: map[hyveid.PeerId]struct{}{alice: {}}}

	if err := notLeader.InviteMember(context.Background(), group, carol); err == nil {
		t.Fatal("expected an error when a non-leader invites a member")
	}
}

func TestDeclinedInvitationLeavesMembershipUnchanged(t *testing.T) {
	bus := newFakeBus()
	alice := mustPeerID(t, "alice-peer-id")
	bob := mustPeerID(t, "bob-peer-id")

	leader := NewManager(alice, nil)
	invitee := NewManager(bob, nil)
	leader.reqres = &fakeLink{bus: bus, self: alice, target: invitee}
	invitee.reqres = &fakeLink{bus: bus, self: bob, target: leader}

	group := leader.CreateGroup("mesh-ops")
	ctx := context.Background()
	if err := leader.InviteMember(ctx, group, bob); err != nil {
		t.Fatalf("InviteMember: %v", err)
	}

	pending := invitee.PendingInvitations()
	if err := invitee.RespondToInvitation(ctx, pending[0], false); err != nil {
		t.Fatalf("RespondToInvitation: %v", err)
	}

	members, err := leader.GroupMembers(group)
	if err != nil {
		t.Fatalf("GroupMembers: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected membership unchanged after a decline, got %d members", len(members))
	}
}
