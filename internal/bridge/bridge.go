// Package bridge implements the daemon's local RPC bridge (spec §4.6): a
// per-connection unix socket server translating length-prefixed JSON calls
// into operations against the overlay, KV store, file-transfer engine and
// container supervisor, and streaming one or more JSON responses back (the
// last tagged final). Framing matches the convention already settled on for
// internal/overlay's req-resp and neighbour side-channel protocols, in the
// style of pss/trojan/message.go's length-prefixed records, rather than a
// generated IDL stub (SPEC_FULL.md §6).
//
// Unlike the rest of the daemon, which runs inside internal/actor's single
// cooperative loop, each bridge connection is its own goroutine (spec §4.6:
// "the RPC bridge... spawns one cooperative task per accepted connection").
// The subsystems it calls into (overlay, kv, filetransfer, apps) are already
// safe for concurrent use by design, so the bridge calls them directly
// rather than funnelling every request through the actor's command channel.
package bridge

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/p2p-industries/hyveos-sub001/internal/apps"
	"github.com/p2p-industries/hyveos-sub001/internal/debugfanout"
	"github.com/p2p-industries/hyveos-sub001/internal/filetransfer"
	"github.com/p2p-industries/hyveos-sub001/internal/groups"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveerr"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
	"github.com/p2p-industries/hyveos-sub001/internal/kv"
	"github.com/p2p-industries/hyveos-sub001/internal/overlay"
)

// request is one call frame: Method selects the handler, Params carries its
// arguments as raw JSON decoded by that handler.
type request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// response is one reply frame. Final marks the last frame of a call; unary
// calls always send exactly one frame with Final true.
type response struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Final bool            `json:"final"`
}

// Deps are the subsystems the bridge dispatches calls into.
type Deps struct {
	Overlay      *overlay.Overlay
	KV           *kv.DB
	Store        *filetransfer.Store
	// FileTransfer serves local content to remote peers and fetches content
	// file.get misses locally from a peer or DHT-discovered provider. Nil
	// disables the network fallback; a local-store miss then just fails.
	FileTransfer *overlay.FileTransfer
	Apps         *apps.Supervisor
	AppsDelegate *apps.PeerDelegate
	// Groups lets a local operator originate group operations (create,
	// invite, respond, list members/pending invitations); it already
	// answers inbound group protocol requests via HandleIncoming wired
	// into the daemon's reserved-topic dispatcher.
	Groups *groups.Manager
	// Debug is the reference-counted topology/message broadcast (spec §4.5)
	// the "inspect.subscribe" method streams from.
	Debug *debugfanout.Fanout
	// Heartbeat, if non-nil, is invoked by the "heartbeat" method to ping a
	// watchdog notifier (spec §4.6: "An optional heartbeat method... pings a
	// watchdog notifier").
	Heartbeat func()
}

// Server listens on one unix socket and serves the bridge protocol on every
// accepted connection.
type Server struct {
	deps       Deps
	runtimeDir string
	groupID    int
	log        hyvelog.Logger

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer binds the bridge socket at <runtimeDir>/bridge.sock, mode 0o660
// and owned by groupID (spec §4.6/§6: "configures the socket file mode to
// 0o660 with a group owner of a dedicated group"). groupID < 0 skips the
// chown (e.g. when running outside a multi-user deployment).
func NewServer(runtimeDir string, groupID int, deps Deps) (*Server, error) {
	if err := os.MkdirAll(runtimeDir, 0o750); err != nil {
		return nil, hyveerr.New(hyveerr.Internal, "bridge.listen", err)
	}
	sockPath := filepath.Join(runtimeDir, "bridge.sock")
	_ = os.Remove(sockPath) // a stale socket from a prior crash must not block bind

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, hyveerr.New(hyveerr.Internal, "bridge.listen", err)
	}
	if err := unix.Chmod(sockPath, 0o660); err != nil {
		ln.Close()
		return nil, hyveerr.New(hyveerr.Internal, "bridge.listen", err)
	}
	if groupID >= 0 {
		if err := unix.Chown(sockPath, -1, groupID); err != nil {
			ln.Close()
			return nil, hyveerr.New(hyveerr.Internal, "bridge.listen", err)
		}
	}

	return &Server{
		deps:       deps,
		runtimeDir: runtimeDir,
		groupID:    groupID,
		log:        hyvelog.New("component", "bridge"),
		listener:   ln,
	}, nil
}

// Serve accepts connections until ctx is cancelled or the listener closes.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
			}
			return hyveerr.New(hyveerr.Internal, "bridge.serve", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close tears down the listener; in-flight connections are left to drain.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	id := hyveid.NewULIDSource().Next().String()
	sharedDir := filepath.Join(s.runtimeDir, id, "shared")
	if err := os.MkdirAll(sharedDir, 0o770); err != nil {
		s.log.Error("failed to create per-connection shared dir", "err", err)
		return
	}

	for {
		var req request
		if err := readFrame(conn, &req); err != nil {
			if err != io.EOF {
				s.log.Debug("bridge: connection read failed", "err", err)
			}
			return
		}
		s.dispatch(ctx, conn, req, sharedDir)
	}
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn, req request, sharedDir string) {
	h, ok := handlers[req.Method]
	if !ok {
		writeFrame(conn, response{Error: fmt.Sprintf("unknown method %q", req.Method), Final: true})
		return
	}
	h(ctx, s, conn, req.Params, sharedDir)
}

type handlerFunc func(ctx context.Context, s *Server, conn net.Conn, params json.RawMessage, sharedDir string)

var handlers = map[string]handlerFunc{
	"whoami":                handleWhoami,
	"heartbeat":             handleHeartbeat,
	"kv.get":                handleKVGet,
	"kv.put":                handleKVPut,
	"kv.delete":             handleKVDelete,
	"pub_sub.publish":       handlePublish,
	"pub_sub.subscribe":     handleSubscribe,
	"req_res.send_request":  handleSendRequest,
	"req_res.send_response": handleSendResponse,
	"req_res.subscribe":     handleReqResSubscribe,
	"discovery.put_record":     handlePutRecord,
	"discovery.get_record":     handleGetRecord,
	"discovery.start_providing": handleStartProviding,
	"discovery.stop_providing":  handleStopProviding,
	"discovery.get_providers":   handleGetProviders,
	"discovery.remove_record":   handleRemoveRecord,
	"discovery.bootstrap":       handleBootstrap,
	"apps.deploy_image":      handleDeployImage,
	"apps.self_deploy_image": handleSelfDeployImage,
	"apps.list_containers":  handleListContainers,
	"apps.stop_container":   handleStopContainer,
	"file.publish":          handleFilePublish,
	"file.get":               handleFileGet,
	"inspect.subscribe":     handleInspectSubscribe,
	"groups.create":               handleGroupsCreate,
	"groups.invite":               handleGroupsInvite,
	"groups.respond":              handleGroupsRespond,
	"groups.members":              handleGroupsMembers,
	"groups.pending_invitations":  handleGroupsPendingInvitations,
}

func writeOK(conn net.Conn, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		writeFrame(conn, response{Error: err.Error(), Final: true})
		return
	}
	writeFrame(conn, response{Data: b, Final: true})
}

func writeErr(conn net.Conn, err error) {
	writeFrame(conn, response{Error: err.Error(), Final: true})
}

func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, v)
}

func writeFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readFrame(r io.Reader, v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header[:])
	const maxFrame = 1 << 24
	if size > maxFrame {
		return fmt.Errorf("bridge: frame of %d bytes exceeds limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
