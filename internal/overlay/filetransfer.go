package overlay

import (
	"context"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/p2p-industries/hyveos-sub001/internal/filetransfer"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveerr"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
)

// FileTransferProtocol is the libp2p protocol a content fetch negotiates.
// Past the single request/response handshake below, the stream carries
// filetransfer's windowed-ack framing directly: a network.Stream is already
// full-duplex, so the same stream serves as both AckReader/AckWriter's data
// direction and its ack direction, one on each side.
const FileTransferProtocol = protocol.ID("/hyveos/filetransfer/1.0.0")

// fileProviderTopic namespaces the DHT provider records a published file's
// hash is advertised under (spec §4.4: a peer missing content locally
// locates a holder via the DHT provider mechanism).
const fileProviderTopic = "file"

// FileKeyFor builds the DHT key a content hash's provider record lives at.
func FileKeyFor(hash [hyveid.HashSize]byte) hyveid.Key {
	return hyveid.Key{Topic: fileProviderTopic, Bytes: hash[:]}
}

type fileTransferRequest struct {
	Hash [hyveid.HashSize]byte `json:"hash"`
}

type fileTransferResponse struct {
	Size  int64  `json:"size,omitempty"`
	Error string `json:"error,omitempty"`
}

// FileTransfer serves locally-held content store entries to requesting peers
// and fetches missing ones from a peer or DHT-discovered provider (spec
// §4.4's windowed-ack chunked transport, ported in internal/filetransfer/ack.go).
type FileTransfer struct {
	ov    *Overlay
	store *filetransfer.Store
	log   hyvelog.Logger
}

// RegisterFileTransfer installs the file-transfer stream handler on o's host
// and returns the handle handleFileGet's network fallback dials out through.
func (o *Overlay) RegisterFileTransfer(store *filetransfer.Store) *FileTransfer {
	ft := &FileTransfer{ov: o, store: store, log: hyvelog.New("component", "filetransfer-net")}
	o.Host.SetStreamHandler(FileTransferProtocol, ft.handleStream)
	return ft
}

func (ft *FileTransfer) handleStream(s network.Stream) {
	defer s.Close()

	var req fileTransferRequest
	if err := readJSONFrame(s, &req); err != nil {
		ft.log.Debug("filetransfer: failed to read request frame", "err", err)
		return
	}

	f, size, err := ft.store.OpenHash(req.Hash)
	if err != nil {
		writeJSONFrame(s, fileTransferResponse{Error: err.Error()})
		return
	}
	defer f.Close()

	if err := writeJSONFrame(s, fileTransferResponse{Size: size}); err != nil {
		ft.log.Debug("filetransfer: failed to write response frame", "err", err)
		return
	}

	if err := filetransfer.AckWriter(s, s, f); err != nil {
		ft.log.Debug("filetransfer: serving content failed", "peer", s.Conn().RemotePeer(), "err", err)
	}
}

// FindProvider resolves a peer advertising cid's content hash via the DHT,
// returning the first one GetProviders surfaces.
func (ft *FileTransfer) FindProvider(ctx context.Context, hash [hyveid.HashSize]byte) (hyveid.PeerId, error) {
	ch, err := ft.ov.GetProviders(ctx, FileKeyFor(hash))
	if err != nil {
		return hyveid.PeerId{}, err
	}
	for id := range ch {
		return id, nil
	}
	return hyveid.PeerId{}, hyveerr.Newf(hyveerr.InvalidArgument, "filetransfer.find_provider", "no providers found for content hash")
}

// Fetch requests cid's content from peerID, verifies it against cid.Hash,
// adopts it into the local store so a repeat request is served without
// refetching, and returns the host-visible path — the same shape
// filetransfer.Store.GetFile returns on a local hit.
func (ft *FileTransfer) Fetch(ctx context.Context, peerID hyveid.PeerId, cid hyveid.Cid, destDir string) (string, error) {
	pid, err := peerIDFromHyveID(peerID)
	if err != nil {
		return "", hyveerr.New(hyveerr.InvalidArgument, "filetransfer.fetch", err)
	}

	s, err := ft.ov.Host.NewStream(ctx, pid, FileTransferProtocol)
	if err != nil {
		return "", hyveerr.New(hyveerr.Transient, "filetransfer.fetch", err)
	}
	defer s.Close()

	if err := writeJSONFrame(s, fileTransferRequest{Hash: cid.Hash}); err != nil {
		return "", hyveerr.New(hyveerr.Transient, "filetransfer.fetch", err)
	}

	var resp fileTransferResponse
	if err := readJSONFrame(s, &resp); err != nil {
		return "", hyveerr.New(hyveerr.Transient, "filetransfer.fetch", err)
	}
	if resp.Error != "" {
		return "", hyveerr.Newf(hyveerr.InvalidArgument, "filetransfer.fetch", "peer %s: %s", peerID, resp.Error)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", hyveerr.New(hyveerr.Internal, "filetransfer.fetch", err)
	}
	dest := filepath.Join(destDir, cid.ID.String())
	out, err := os.Create(dest)
	if err != nil {
		return "", hyveerr.New(hyveerr.Internal, "filetransfer.fetch", err)
	}

	if err := filetransfer.AckReader(s, s, out); err != nil {
		os.Remove(dest)
		return "", hyveerr.New(hyveerr.Transient, "filetransfer.fetch", err)
	}

	if err := ft.store.AdoptFetched(cid.Hash, dest); err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}
