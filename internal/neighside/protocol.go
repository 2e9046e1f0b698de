// Package neighside implements both ends of the neighbour side-channel
// (spec §6): a local unix-domain stream socket, by default
// /var/run/batman-neighbours.sock, exposing a single get_neighbours method.
// Client is the daemon's end; Server is the end run by the privileged helper
// daemon in cmd/hyveos-neighbours-helper.
//
// The wire format is a length-prefixed JSON frame in each direction, framed
// the way the teacher hand-rolls trojan.Message in pss/trojan/message.go
// rather than through a generated codec: a single internal method does not
// earn a schema compiler.
package neighside

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
)

// DefaultSocketPath is the socket the helper daemon listens on and the
// client dials by default (spec §6).
const DefaultSocketPath = "/var/run/batman-neighbours.sock"

// maxFrameSize bounds a single frame to guard the helper against a
// malformed or hostile peer on the socket; a neighbour table large enough to
// approach this is not realistic on any deployed mesh.
const maxFrameSize = 1 << 20

// request is the sole method this protocol exposes.
type request struct {
	InterfaceIndex int `json:"if_index"`
}

// neighbourWire is the wire representation of one resolver.NeighbourRow; the
// MAC travels as its canonical string form since hyveid.MacAddress has no
// JSON marshaling of its own.
type neighbourWire struct {
	InterfaceIndex int     `json:"if_index"`
	Mac            string  `json:"mac"`
	LastSeenMillis int64   `json:"last_seen_ms"`
	ThroughputKbps *uint32 `json:"throughput_kbps,omitempty"`
}

type response struct {
	Neighbours []neighbourWire `json:"neighbours,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// writeFrame writes v as a single length-prefixed JSON frame.
func writeFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("neighside: marshal frame: %w", err)
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("neighside: frame of %d bytes exceeds limit", len(body))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("neighside: write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("neighside: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed JSON frame into v.
func readFrame(r io.Reader, v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return fmt.Errorf("neighside: peer announced frame of %d bytes, over limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("neighside: read frame body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("neighside: unmarshal frame: %w", err)
	}
	return nil
}

func encodeNeighbour(mac hyveid.MacAddress, lastSeenMillis int64, ifIndex int, throughput *uint32) neighbourWire {
	return neighbourWire{
		InterfaceIndex: ifIndex,
		Mac:            mac.String(),
		LastSeenMillis: lastSeenMillis,
		ThroughputKbps: throughput,
	}
}
