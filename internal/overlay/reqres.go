package overlay

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/rcrowley/go-metrics"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveerr"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
)

// ReqResProtocol is the libp2p protocol ID req-resp streams negotiate,
// analogous to the bridge's own hand-framed protocol (overlay.go's doc
// comment) but over a network.Stream instead of a unix socket.
const ReqResProtocol = protocol.ID("/hyveos/reqres/1.0.0")

// IncomingRequest is one request delivered to a req-resp subscriber (spec
// §4.3). RequestID is unique per node for the lifetime of the process
// (§4.3: "a per-node-unique request_id"); responding twice, or with an
// unknown id, fails.
type IncomingRequest struct {
	RequestID uint64
	Peer      hyveid.PeerId
	Topic     string
	Data      []byte
}

type wireRequest struct {
	Topic string `json:"topic,omitempty"`
	Data  []byte `json:"data"`
}

type wireResponse struct {
	Data  []byte `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// ReqRes implements spec §4.3's request/response sub-actor: stream-per-request
// over libp2p, framed the way the bridge frames its own socket (length-prefixed
// JSON, see overlay.go's DESIGN.md entry cross-reference) since go-libp2p-gorpc
// is explicitly out of scope per SPEC_FULL.md §4.7.
type ReqRes struct {
	host host.Host
	log  hyvelog.Logger

	nextID   uint64
	mu       sync.Mutex
	incoming chan IncomingRequest
	streams  map[uint64]network.Stream
}

func newReqRes(h host.Host, log hyvelog.Logger) *ReqRes {
	r := &ReqRes{
		host:     h,
		log:      log,
		incoming: make(chan IncomingRequest, 64),
		streams:  make(map[uint64]network.Stream),
	}
	h.SetStreamHandler(ReqResProtocol, r.handleStream)
	return r
}

// Incoming is the stream subscribers read IncomingRequest values from (spec
// §4.3 subscribe(topic?) → stream<IncomingRequest>); topic filtering, when
// requested, is applied by the caller over this single shared channel.
func (r *ReqRes) Incoming() <-chan IncomingRequest { return r.incoming }

func (r *ReqRes) handleStream(s network.Stream) {
	var req wireRequest
	if err := readJSONFrame(s, &req); err != nil {
		r.log.Debug("reqres: failed to read request frame", "err", err)
		s.Close()
		return
	}

	id := r.newRequestID()
	r.mu.Lock()
	r.streams[id] = s
	metrics.GetOrRegisterGauge("reqres.pending_responses", nil).Update(int64(len(r.streams)))
	r.mu.Unlock()

	remote, err := hyveid.PeerIdFromBytes([]byte(s.Conn().RemotePeer()))
	if err != nil {
		r.mu.Lock()
		delete(r.streams, id)
		r.mu.Unlock()
		s.Close()
		return
	}

	select {
	case r.incoming <- IncomingRequest{RequestID: id, Peer: remote, Topic: req.Topic, Data: req.Data}:
		metrics.GetOrRegisterGauge("reqres.incoming.len", nil).Update(int64(len(r.incoming)))
	default:
		// subscriber queue full: drop and close, matching the bounded-queue
		// overflow behaviour spec §4.3/§4.5 requires elsewhere.
		metrics.GetOrRegisterCounter("reqres.incoming.full", nil).Inc(1)
		r.mu.Lock()
		delete(r.streams, id)
		r.mu.Unlock()
		s.Close()
		return
	}

	// the stream stays open until SendResponse writes the matching reply or
	// the connection drops; handleStream's own goroutine ends here, the
	// stream lives on in r.streams.
}

func (r *ReqRes) newRequestID() uint64 {
	return atomic.AddUint64(&r.nextID, 1)
}

// SendResponse answers a still-pending incoming request. An unknown or
// already-used requestID is an InvalidArgument error (spec §4.3).
func (r *ReqRes) SendResponse(requestID uint64, data []byte) error {
	r.mu.Lock()
	s, ok := r.streams[requestID]
	if ok {
		delete(r.streams, requestID)
		metrics.GetOrRegisterGauge("reqres.pending_responses", nil).Update(int64(len(r.streams)))
	}
	r.mu.Unlock()
	if !ok {
		return hyveerr.Newf(hyveerr.InvalidArgument, "reqres.send_response", "unknown or already-used request id %d", requestID)
	}
	defer s.Close()
	return writeJSONFrame(s, wireResponse{Data: data})
}

// SendRequest opens a new stream to peer, writes the request frame, and
// blocks for the single response frame.
func (r *ReqRes) SendRequest(ctx context.Context, peerID hyveid.PeerId, topic string, data []byte) ([]byte, error) {
	pid, err := peerIDFromHyveID(peerID)
	if err != nil {
		return nil, hyveerr.New(hyveerr.InvalidArgument, "reqres.send_request", err)
	}

	s, err := r.host.NewStream(ctx, pid, ReqResProtocol)
	if err != nil {
		return nil, hyveerr.New(hyveerr.Transient, "reqres.send_request", err)
	}
	defer s.Close()

	if err := writeJSONFrame(s, wireRequest{Topic: topic, Data: data}); err != nil {
		return nil, hyveerr.New(hyveerr.Transient, "reqres.send_request", err)
	}

	var resp wireResponse
	if err := readJSONFrame(s, &resp); err != nil {
		return nil, hyveerr.New(hyveerr.Transient, "reqres.send_request", err)
	}
	if resp.Error != "" {
		return nil, hyveerr.Newf(hyveerr.Internal, "reqres.send_request", "%s", resp.Error)
	}
	return resp.Data, nil
}

func writeJSONFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("overlay/reqres: marshal: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readJSONFrame(r io.Reader, v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header[:])
	const maxFrame = 1 << 24
	if size > maxFrame {
		return fmt.Errorf("overlay/reqres: frame of %d bytes exceeds limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
