// Package groups implements named, application-defined peer subsets
// (SPEC_FULL.md §3's supplemented `Group` feature, grounded on
// original_source/crates/core/src/group.rs). A group is a thin layer over
// req-resp: membership changes are negotiated by an invitation/response
// handshake addressed to the reserved "app/hyveos/group" topic, then used
// by callers to scope pub/sub and req/resp delivery beyond plain topic
// namespacing.
package groups

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveerr"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
	"github.com/p2p-industries/hyveos-sub001/internal/overlay"
)

// TopicGroup is the reserved req-resp topic group invitations travel over.
const TopicGroup = "app/hyveos/group"

// GroupID and InvitationID are ULID-based identifiers, matching the
// original's GroupId(Ulid)/InvitationId(Ulid) newtypes.
type GroupID ulid.ULID
type InvitationID ulid.ULID

func (g GroupID) String() string       { return ulid.ULID(g).String() }
func (i InvitationID) String() string  { return ulid.ULID(i).String() }
func (g GroupID) MarshalText() ([]byte, error) { return ulid.ULID(g).MarshalText() }
func (g *GroupID) UnmarshalText(b []byte) error { return (*ulid.ULID)(g).UnmarshalText(b) }
func (i InvitationID) MarshalText() ([]byte, error) { return ulid.ULID(i).MarshalText() }
func (i *InvitationID) UnmarshalText(b []byte) error { return (*ulid.ULID)(i).UnmarshalText(b) }

// GroupInfo is one group this node leads or belongs to.
type GroupInfo struct {
	Name     string
	LeaderID hyveid.PeerId
	Members  map[hyveid.PeerId]struct{}
}

type outgoingInvite struct {
	Group GroupID
	Peer  hyveid.PeerId
}

type incomingInvite struct {
	Group     GroupID
	GroupName string
	From      hyveid.PeerId
}

// wire request/response types, mirroring the original's GroupRequest/
// GroupResponse enums with a "type" discriminant instead of serde's
// externally-tagged enum encoding.
const (
	typeInvitation         = "invitation"
	typeInvitationResponse = "invitation_response"

	typeInvitationAck         = "invitation_ack"
	typeInvitationResponseAck = "invitation_response_ack"
)

type wireRequest struct {
	Type         string        `json:"type"`
	GroupID      *GroupID      `json:"group_id,omitempty"`
	GroupName    string        `json:"group_name,omitempty"`
	FromPeer     hyveid.PeerId `json:"from_peer,omitempty"`
	InvitationID *InvitationID `json:"invitation_id,omitempty"`
	Accepted     bool          `json:"accepted,omitempty"`
}

type wireResponse struct {
	Type         string        `json:"type"`
	InvitationID *InvitationID `json:"invitation_id,omitempty"`
	Success      bool          `json:"success,omitempty"`
}

// ReqResClient is the subset of internal/overlay's ReqRes that Manager
// needs, kept as an interface (rather than a concrete *overlay.ReqRes field)
// the same way contracts/swap.go fronts its external contract calls with a
// Backend interface — here so tests can substitute a fake transport.
type ReqResClient interface {
	SendRequest(ctx context.Context, peerID hyveid.PeerId, topic string, data []byte) ([]byte, error)
	SendResponse(requestID uint64, data []byte) error
}

// Manager tracks every group this node leads or belongs to, and the
// invitation handshakes currently in flight.
type Manager struct {
	self   hyveid.PeerId
	reqres ReqResClient
	ulids  *hyveid.ULIDSource
	log    hyvelog.Logger

	mu       sync.Mutex
	groups   map[GroupID]*GroupInfo
	outgoing map[InvitationID]outgoingInvite
	incoming map[InvitationID]incomingInvite
}

func NewManager(self hyveid.PeerId, reqres ReqResClient) *Manager {
	return &Manager{
		self:     self,
		reqres:   reqres,
		ulids:    hyveid.NewULIDSource(),
		log:      hyvelog.New("component", "groups"),
		groups:   make(map[GroupID]*GroupInfo),
		outgoing: make(map[InvitationID]outgoingInvite),
		incoming: make(map[InvitationID]incomingInvite),
	}
}

// CreateGroup starts a new group led by this node.
func (m *Manager) CreateGroup(name string) GroupID {
	id := GroupID(m.ulids.Next())
	m.mu.Lock()
	m.groups[id] = &GroupInfo{
		Name:     name,
		LeaderID: m.self,
		Members:  map[hyveid.PeerId]struct{}{m.self: {}},
	}
	m.mu.Unlock()
	return id
}

// GroupMembers returns a snapshot of group's current membership.
func (m *Manager) GroupMembers(id GroupID) ([]hyveid.PeerId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.groups[id]
	if !ok {
		return nil, hyveerr.Newf(hyveerr.InvalidArgument, "groups.group_members", "unknown group %s", id)
	}
	out := make([]hyveid.PeerId, 0, len(info.Members))
	for p := range info.Members {
		out = append(out, p)
	}
	return out, nil
}

// PendingInvitations returns the ids of invitations this node has received
// but not yet accepted or declined.
func (m *Manager) PendingInvitations() []InvitationID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InvitationID, 0, len(m.incoming))
	for id := range m.incoming {
		out = append(out, id)
	}
	return out
}

// InviteMember asks the group's leader-only privilege to invite peer into
// group. It blocks for the invitee's synchronous InvitationAck (not its
// eventual accept/decline, which arrives later via HandleIncoming).
func (m *Manager) InviteMember(ctx context.Context, group GroupID, peer hyveid.PeerId) error {
	m.mu.Lock()
	info, ok := m.groups[group]
	if !ok {
		m.mu.Unlock()
		return hyveerr.Newf(hyveerr.InvalidArgument, "groups.invite_member", "unknown group %s", group)
	}
	if !info.LeaderID.Equal(m.self) {
		m.mu.Unlock()
		return hyveerr.Newf(hyveerr.InvalidState, "groups.invite_member", "only the group leader may invite members")
	}
	name := info.Name
	m.mu.Unlock()

	body, err := json.Marshal(wireRequest{Type: typeInvitation, GroupID: &group, GroupName: name, FromPeer: m.self})
	if err != nil {
		return hyveerr.New(hyveerr.Internal, "groups.invite_member", err)
	}

	respBody, err := m.reqres.SendRequest(ctx, peer, TopicGroup, body)
	if err != nil {
		return err
	}
	var resp wireResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return hyveerr.New(hyveerr.Integrity, "groups.invite_member", err)
	}
	if resp.Type != typeInvitationAck || resp.InvitationID == nil {
		return hyveerr.Newf(hyveerr.Integrity, "groups.invite_member", "unexpected response to invitation")
	}

	m.mu.Lock()
	m.outgoing[*resp.InvitationID] = outgoingInvite{Group: group, Peer: peer}
	m.mu.Unlock()
	return nil
}

// RespondToInvitation accepts or declines a pending invitation this node
// received, notifying the inviter.
func (m *Manager) RespondToInvitation(ctx context.Context, invitation InvitationID, accepted bool) error {
	m.mu.Lock()
	inv, ok := m.incoming[invitation]
	if ok {
		delete(m.incoming, invitation)
	}
	m.mu.Unlock()
	if !ok {
		return hyveerr.Newf(hyveerr.InvalidArgument, "groups.respond_to_invitation", "unknown invitation %s", invitation)
	}

	body, err := json.Marshal(wireRequest{Type: typeInvitationResponse, InvitationID: &invitation, Accepted: accepted})
	if err != nil {
		return hyveerr.New(hyveerr.Internal, "groups.respond_to_invitation", err)
	}
	if _, err := m.reqres.SendRequest(ctx, inv.From, TopicGroup, body); err != nil {
		return err
	}

	if accepted {
		m.mu.Lock()
		if info, exists := m.groups[inv.Group]; exists {
			info.Members[m.self] = struct{}{}
		} else {
			m.groups[inv.Group] = &GroupInfo{
				Name:     inv.GroupName,
				LeaderID: inv.From,
				Members:  map[hyveid.PeerId]struct{}{m.self: {}, inv.From: {}},
			}
		}
		m.mu.Unlock()
	}
	return nil
}

// HandleIncoming answers one req-resp request addressed to TopicGroup.
// Callers dispatch to this from the overlay's shared Incoming() channel
// after filtering by topic.
func (m *Manager) HandleIncoming(req overlay.IncomingRequest) {
	if req.Topic != TopicGroup {
		return
	}
	var in wireRequest
	if err := json.Unmarshal(req.Data, &in); err != nil {
		m.respondErr(req.RequestID, hyveerr.New(hyveerr.InvalidArgument, "groups", err))
		return
	}
	switch in.Type {
	case typeInvitation:
		m.handleInvitation(req.RequestID, req.Peer, in)
	case typeInvitationResponse:
		m.handleInvitationResponse(req.RequestID, in)
	default:
		m.respondErr(req.RequestID, hyveerr.Newf(hyveerr.InvalidArgument, "groups", "unknown request type %q", in.Type))
	}
}

func (m *Manager) handleInvitation(requestID uint64, from hyveid.PeerId, in wireRequest) {
	if in.GroupID == nil {
		m.respondErr(requestID, hyveerr.Newf(hyveerr.InvalidArgument, "groups", "invitation missing group_id"))
		return
	}
	id := InvitationID(m.ulids.Next())
	m.mu.Lock()
	m.incoming[id] = incomingInvite{Group: *in.GroupID, GroupName: in.GroupName, From: from}
	m.mu.Unlock()

	b, err := json.Marshal(wireResponse{Type: typeInvitationAck, InvitationID: &id})
	if err != nil {
		m.log.Error("failed to marshal invitation ack", "err", err)
		return
	}
	if err := m.reqres.SendResponse(requestID, b); err != nil {
		m.log.Error("failed to send invitation ack", "err", err)
	}
}

func (m *Manager) handleInvitationResponse(requestID uint64, in wireRequest) {
	if in.InvitationID == nil {
		m.respondErr(requestID, hyveerr.Newf(hyveerr.InvalidArgument, "groups", "invitation_response missing invitation_id"))
		return
	}

	m.mu.Lock()
	out, ok := m.outgoing[*in.InvitationID]
	if ok {
		delete(m.outgoing, *in.InvitationID)
		if in.Accepted {
			if info, exists := m.groups[out.Group]; exists {
				info.Members[out.Peer] = struct{}{}
			}
		}
	}
	m.mu.Unlock()

	b, err := json.Marshal(wireResponse{Type: typeInvitationResponseAck, Success: ok})
	if err != nil {
		m.log.Error("failed to marshal invitation response ack", "err", err)
		return
	}
	if err := m.reqres.SendResponse(requestID, b); err != nil {
		m.log.Error("failed to send invitation response ack", "err", err)
	}
}

func (m *Manager) respondErr(requestID uint64, err error) {
	b, marshalErr := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
	if marshalErr != nil {
		return
	}
	_ = m.reqres.SendResponse(requestID, b)
}
