package neighside

import (
	"net"
	"os"
	"time"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
)

// NeighbourSource abstracts the kernel neighbour table lookup the helper
// daemon performs; cmd/hyveos-neighbours-helper implements it over netlink,
// and tests substitute a fake.
type NeighbourSource interface {
	// Neighbours returns one row per link-layer neighbour currently known
	// on ifIndex. lastSeen is how long ago the entry was last refreshed.
	Neighbours(ifIndex int) ([]Row, error)
}

// Row is one kernel neighbour-table entry as the source reports it.
type Row struct {
	Mac        [6]byte
	LastSeen   time.Duration
	Throughput *uint32
}

// Server accepts connections on a unix socket and answers get_neighbours
// requests from NeighbourSource. One goroutine per connection, matching the
// "cooperative task per accepted connection" shape spec §4.6 describes for
// the bridge and reused here for its sibling socket.
type Server struct {
	source NeighbourSource
	log    hyvelog.Logger
}

func NewServer(source NeighbourSource) *Server {
	return &Server{source: source, log: hyvelog.New("component", "neighside-helper")}
}

// Listen binds socketPath with the given mode and group, removing any stale
// socket file left by a previous crashed run first.
func (s *Server) Listen(socketPath string, mode os.FileMode, gid int) (net.Listener, error) {
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(socketPath, mode); err != nil {
		ln.Close()
		return nil, err
	}
	if gid >= 0 {
		if err := os.Chown(socketPath, -1, gid); err != nil {
			ln.Close()
			return nil, err
		}
	}
	return ln, nil
}

// Serve accepts connections from ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	for {
		var req request
		if err := readFrame(conn, &req); err != nil {
			return
		}

		rows, err := s.source.Neighbours(req.InterfaceIndex)
		if err != nil {
			s.log.Debug("neighbour query failed", "interface", req.InterfaceIndex, "err", err)
			if werr := writeFrame(conn, response{Error: err.Error()}); werr != nil {
				return
			}
			continue
		}

		out := make([]neighbourWire, 0, len(rows))
		for _, r := range rows {
			out = append(out, encodeNeighbour(hyveid.MacAddress(r.Mac), r.LastSeen.Milliseconds(), req.InterfaceIndex, r.Throughput))
		}
		if err := writeFrame(conn, response{Neighbours: out}); err != nil {
			return
		}
	}
}
