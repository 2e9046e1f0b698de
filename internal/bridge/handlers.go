package bridge

import (
	"context"
	"encoding/json"
	"net"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/oklog/ulid/v2"

	"github.com/p2p-industries/hyveos-sub001/internal/apps"
	"github.com/p2p-industries/hyveos-sub001/internal/debugfanout"
	"github.com/p2p-industries/hyveos-sub001/internal/groups"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveerr"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
	"github.com/p2p-industries/hyveos-sub001/internal/overlay"
)

func handleWhoami(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	writeOK(conn, struct {
		PeerId hyveid.PeerId `json:"peer_id"`
	}{PeerId: s.deps.Overlay.PeerId()})
}

func handleHeartbeat(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	if s.deps.Heartbeat != nil {
		s.deps.Heartbeat()
	}
	writeOK(conn, struct{}{})
}

func handleKVGet(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Key string `json:"key"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	v, err := s.deps.KV.BridgeKV().Get(in.Key)
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, struct {
		Value []byte `json:"value"`
	}{Value: v})
}

func handleKVPut(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Key   string `json:"key"`
		Value []byte `json:"value"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	if err := s.deps.KV.BridgeKV().Put(in.Key, in.Value); err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, struct{}{})
}

func handleKVDelete(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Key string `json:"key"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	if err := s.deps.KV.BridgeKV().Delete(in.Key); err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, struct{}{})
}

func handlePublish(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Topic string `json:"topic"`
		Data  []byte `json:"data"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	id, err := s.deps.Overlay.Publish(ctx, in.Topic, in.Data)
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, struct {
		MessageID string `json:"message_id"`
	}{MessageID: id})
}

// handleSubscribe streams ReceivedMessage frames until the peer disconnects
// or the subscription lags and is dropped (spec §4.3/§4.5 overflow policy).
func handleSubscribe(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Topic string `json:"topic"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	sub, err := s.deps.Overlay.Subscribe(in.Topic)
	if err != nil {
		writeErr(conn, err)
		return
	}
	defer sub.Close()

	for {
		msg, err := sub.Next()
		if err != nil {
			writeFrame(conn, response{Error: err.Error(), Final: true})
			return
		}
		if err := writeFrame(conn, response{Data: mustJSON(msg), Final: false}); err != nil {
			return
		}
	}
}

func handleSendRequest(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Peer  hyveid.PeerId `json:"peer"`
		Topic string        `json:"topic"`
		Data  []byte        `json:"data"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	data, err := s.deps.Overlay.Reqres.SendRequest(ctx, in.Peer, in.Topic, in.Data)
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, struct {
		Data []byte `json:"data"`
	}{Data: data})
}

func handleSendResponse(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		RequestID uint64 `json:"request_id"`
		Data      []byte `json:"data"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	if err := s.deps.Overlay.Reqres.SendResponse(in.RequestID, in.Data); err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, struct{}{})
}

// handleReqResSubscribe streams every IncomingRequest the node receives,
// optionally filtered to one topic (spec §4.3 subscribe(topic?)).
func handleReqResSubscribe(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Topic string `json:"topic,omitempty"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-s.deps.Overlay.Reqres.Incoming():
			if !ok {
				writeFrame(conn, response{Final: true})
				return
			}
			if in.Topic != "" && req.Topic != in.Topic {
				continue
			}
			if err := writeFrame(conn, response{Data: mustJSON(req), Final: false}); err != nil {
				return
			}
		}
	}
}

func handlePutRecord(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Topic string `json:"topic"`
		Key   []byte `json:"key"`
		Value []byte `json:"value"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	key := hyveid.Key{Topic: in.Topic, Bytes: in.Key}
	if err := s.deps.Overlay.PutRecord(ctx, key, in.Value); err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, struct{}{})
}

func handleGetRecord(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Topic  string `json:"topic"`
		Key    []byte `json:"key"`
		Quorum string `json:"quorum,omitempty"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	key := hyveid.Key{Topic: in.Topic, Bytes: in.Key}
	vals, err := s.deps.Overlay.GetRecord(ctx, key, quorumFromString(in.Quorum))
	if err != nil {
		writeErr(conn, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-vals:
			if !ok {
				writeFrame(conn, response{Final: true})
				return
			}
			if err := writeFrame(conn, response{Data: mustJSON(struct {
				Value []byte `json:"value"`
			}{Value: v}), Final: false}); err != nil {
				return
			}
		}
	}
}

func quorumFromString(s string) overlay.Quorum {
	switch s {
	case "majority":
		return overlay.QuorumMajority
	case "all":
		return overlay.QuorumAll
	default:
		return overlay.QuorumOne
	}
}

func handleStartProviding(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Topic string `json:"topic"`
		Key   []byte `json:"key"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	if err := s.deps.Overlay.StartProviding(ctx, hyveid.Key{Topic: in.Topic, Bytes: in.Key}); err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, struct{}{})
}

func handleStopProviding(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Topic string `json:"topic"`
		Key   []byte `json:"key"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	if err := s.deps.Overlay.StopProviding(ctx, hyveid.Key{Topic: in.Topic, Bytes: in.Key}); err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, struct{}{})
}

func handleGetProviders(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Topic string `json:"topic"`
		Key   []byte `json:"key"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	providers, err := s.deps.Overlay.GetProviders(ctx, hyveid.Key{Topic: in.Topic, Bytes: in.Key})
	if err != nil {
		writeErr(conn, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-providers:
			if !ok {
				writeFrame(conn, response{Final: true})
				return
			}
			if err := writeFrame(conn, response{Data: mustJSON(struct {
				PeerId hyveid.PeerId `json:"peer_id"`
			}{PeerId: p}), Final: false}); err != nil {
				return
			}
		}
	}
}

func handleRemoveRecord(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Topic string `json:"topic"`
		Key   []byte `json:"key"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	if err := s.deps.Overlay.RemoveRecord(ctx, hyveid.Key{Topic: in.Topic, Bytes: in.Key}); err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, struct{}{})
}

// handleBootstrap re-runs DHT bootstrap, optionally dialing a fresh set of
// peer multiaddrs alongside the configured bootstrap set (spec §4.3's DHT
// bootstrap is otherwise only ever triggered once, at startup).
func handleBootstrap(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Peers []string `json:"peers,omitempty"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}

	infos := make([]peer.AddrInfo, 0, len(in.Peers))
	for _, addr := range in.Peers {
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			writeErr(conn, hyveerr.New(hyveerr.InvalidArgument, "discovery.bootstrap", err))
			return
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			writeErr(conn, hyveerr.New(hyveerr.InvalidArgument, "discovery.bootstrap", err))
			return
		}
		infos = append(infos, *info)
	}

	connectErrs, err := s.deps.Overlay.Bootstrap(ctx, infos)
	if err != nil {
		writeErr(conn, err)
		return
	}
	for range connectErrs {
		// individual dial failures among the bootstrap set are non-fatal;
		// the DHT routing table still benefits from whichever peers answer.
	}
	writeOK(conn, struct{}{})
}

func handleGroupsCreate(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	id := s.deps.Groups.CreateGroup(in.Name)
	writeOK(conn, struct {
		GroupID string `json:"group_id"`
	}{GroupID: id.String()})
}

func handleGroupsInvite(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		GroupID string        `json:"group_id"`
		Peer    hyveid.PeerId `json:"peer"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	gid, err := parseGroupID(in.GroupID)
	if err != nil {
		writeErr(conn, err)
		return
	}
	if err := s.deps.Groups.InviteMember(ctx, gid, in.Peer); err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, struct{}{})
}

func handleGroupsRespond(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		InvitationID string `json:"invitation_id"`
		Accepted     bool   `json:"accepted"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	iid, err := parseInvitationID(in.InvitationID)
	if err != nil {
		writeErr(conn, err)
		return
	}
	if err := s.deps.Groups.RespondToInvitation(ctx, iid, in.Accepted); err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, struct{}{})
}

func handleGroupsMembers(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		GroupID string `json:"group_id"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	gid, err := parseGroupID(in.GroupID)
	if err != nil {
		writeErr(conn, err)
		return
	}
	members, err := s.deps.Groups.GroupMembers(gid)
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, struct {
		Members []hyveid.PeerId `json:"members"`
	}{Members: members})
}

func handleGroupsPendingInvitations(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	pending := s.deps.Groups.PendingInvitations()
	out := make([]string, len(pending))
	for i, id := range pending {
		out[i] = id.String()
	}
	writeOK(conn, struct {
		InvitationIds []string `json:"invitation_ids"`
	}{InvitationIds: out})
}

func parseGroupID(s string) (groups.GroupID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return groups.GroupID{}, hyveerr.New(hyveerr.InvalidArgument, "groups", err)
	}
	return groups.GroupID(id), nil
}

func parseInvitationID(s string) (groups.InvitationID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return groups.InvitationID{}, hyveerr.New(hyveerr.InvalidArgument, "groups", err)
	}
	return groups.InvitationID(id), nil
}

func handleDeployImage(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	deployImage(ctx, s, conn, params, false)
}

func handleSelfDeployImage(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	deployImage(ctx, s, conn, params, true)
}

func deployImage(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, selfOnly bool) {
	var in struct {
		Image      string        `json:"image"`
		Name       string        `json:"name,omitempty"`
		Ports      []int         `json:"ports,omitempty"`
		Persistent bool          `json:"persistent,omitempty"`
		Peer       hyveid.PeerId `json:"peer,omitempty"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	req := apps.DeployRequest{Image: in.Image, Name: in.Name, Ports: in.Ports, Persistent: in.Persistent}
	if !selfOnly && !in.Peer.IsZero() {
		writeErr(conn, hyveerr.Newf(hyveerr.Unavailable, "apps.deploy_image", "remote deploy_image is not delegated; target the peer's own bridge"))
		return
	}
	app, err := s.deps.Apps.DeployImage(ctx, req)
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, app)
}

func handleListContainers(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Peer hyveid.PeerId `json:"peer,omitempty"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	if !in.Peer.IsZero() {
		apps, err := s.deps.AppsDelegate.ListRemote(ctx, in.Peer)
		if err != nil {
			writeErr(conn, err)
			return
		}
		writeOK(conn, apps)
		return
	}
	apps, err := s.deps.Apps.ListContainers(ctx)
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, apps)
}

func handleStopContainer(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		ULID string        `json:"ulid"`
		Peer hyveid.PeerId `json:"peer,omitempty"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	var err error
	if !in.Peer.IsZero() {
		err = s.deps.AppsDelegate.StopRemote(ctx, in.Peer, in.ULID)
	} else {
		err = s.deps.Apps.StopContainer(ctx, in.ULID)
	}
	if err != nil {
		writeErr(conn, err)
		return
	}
	writeOK(conn, struct{}{})
}

// handleFilePublish imports a file already placed in the per-connection
// shared directory into the content store (spec §4.4: file paths exchanged
// over the bridge are container-visible paths under /shared/data, rewritten
// to host-visible paths under sharedDir).
func handleFilePublish(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Path string `json:"path"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	cid, err := s.deps.Store.PublishFile(hostPath(sharedDir, in.Path))
	if err != nil {
		writeErr(conn, err)
		return
	}
	if s.deps.Overlay != nil {
		if err := s.deps.Overlay.StartProviding(ctx, overlay.FileKeyFor(cid.Hash)); err != nil {
			s.log.Debug("file.publish: failed to announce DHT provider record", "err", err)
		}
	}
	writeOK(conn, struct {
		Cid string `json:"cid"`
	}{Cid: cid.String()})
}

// handleFileGet resolves a file.get call from the local content store,
// falling back to fetching the content over the network from an explicit
// peer, or from whichever peer the DHT says is providing it, when the store
// doesn't already have it (spec §4.4).
func handleFileGet(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		ULID string        `json:"ulid"`
		Hash []byte        `json:"hash"`
		Path string        `json:"path,omitempty"`
		Peer hyveid.PeerId `json:"peer,omitempty"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	id, err := ulid.Parse(in.ULID)
	if err != nil {
		writeErr(conn, hyveerr.New(hyveerr.InvalidArgument, "file.get", err))
		return
	}
	hash, err := hyveid.HashFromBytes(in.Hash)
	if err != nil {
		writeErr(conn, hyveerr.New(hyveerr.InvalidArgument, "file.get", err))
		return
	}

	cid := hyveid.Cid{ID: id, Hash: hash}
	got, err := s.deps.Store.GetFile(cid, sharedDir)
	if err != nil {
		if s.deps.FileTransfer == nil {
			writeErr(conn, err)
			return
		}
		peer := in.Peer
		if peer.IsZero() {
			peer, err = s.deps.FileTransfer.FindProvider(ctx, hash)
			if err != nil {
				writeErr(conn, err)
				return
			}
		}
		got, err = s.deps.FileTransfer.Fetch(ctx, peer, cid, sharedDir)
		if err != nil {
			writeErr(conn, err)
			return
		}
	}
	writeOK(conn, struct {
		Path string `json:"path"`
	}{Path: containerPath(sharedDir, got)})
}

// handleInspectSubscribe streams debug-fanout events (topology and message
// logs, spec §4.5) for one logical topic until the caller disconnects, at
// which point the subscription's Unsubscribe drops the fanout's refcount
// and, if it reaches zero, releases the underlying overlay subscription.
func handleInspectSubscribe(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string) {
	var in struct {
		Topic string `json:"topic"`
	}
	if err := decodeParams(params, &in); err != nil {
		writeErr(conn, err)
		return
	}
	if s.deps.Debug == nil {
		writeErr(conn, hyveerr.Newf(hyveerr.Unavailable, "inspect.subscribe", "debug fan-out is not enabled"))
		return
	}
	sub := s.deps.Debug.Subscribe(debugfanout.Topic(in.Topic))
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				writeFrame(conn, response{Final: true})
				return
			}
			if err := writeFrame(conn, response{Data: mustJSON(ev), Final: false}); err != nil {
				return
			}
		}
	}
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

const containerSharedPrefix = "/shared/data/"

func hostPath(sharedDir, containerVisiblePath string) string {
	if len(containerVisiblePath) > len(containerSharedPrefix) && containerVisiblePath[:len(containerSharedPrefix)] == containerSharedPrefix {
		return sharedDir + "/" + containerVisiblePath[len(containerSharedPrefix):]
	}
	return containerVisiblePath
}

func containerPath(sharedDir, hostVisiblePath string) string {
	if len(hostVisiblePath) > len(sharedDir) && hostVisiblePath[:len(sharedDir)] == sharedDir {
		return containerSharedPrefix + hostVisiblePath[len(sharedDir)+1:]
	}
	return hostVisiblePath
}
