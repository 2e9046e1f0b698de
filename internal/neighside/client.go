package neighside

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveerr"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
	"github.com/p2p-industries/hyveos-sub001/internal/resolver"
)

// Client dials the helper daemon's socket and implements resolver.SideChannel.
// One connection is kept open and reused across calls; on any I/O error it is
// dropped and redialed on the next request, matching the "a side-channel
// send failure is Transient, retried per policy" classification of spec §7.
type Client struct {
	path string
	mu   sync.Mutex
	conn net.Conn
}

func NewClient(path string) *Client {
	if path == "" {
		path = DefaultSocketPath
	}
	return &Client{path: path}
}

func (c *Client) connectLocked() (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := net.DialTimeout("unix", c.path, 2*time.Second)
	if err != nil {
		return nil, hyveerr.New(hyveerr.Transient, "neighside.dial", err)
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// GetNeighbours satisfies resolver.SideChannel.
func (c *Client) GetNeighbours(ifIndex int) ([]resolver.NeighbourRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connectLocked()
	if err != nil {
		return nil, err
	}

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := writeFrame(conn, request{InterfaceIndex: ifIndex}); err != nil {
		c.dropLocked()
		return nil, hyveerr.New(hyveerr.Transient, "neighside.get_neighbours", err)
	}

	var resp response
	if err := readFrame(conn, &resp); err != nil {
		c.dropLocked()
		return nil, hyveerr.New(hyveerr.Transient, "neighside.get_neighbours", err)
	}
	if resp.Error != "" {
		return nil, hyveerr.Newf(hyveerr.Unavailable, "neighside.get_neighbours", "%s", resp.Error)
	}

	rows := make([]resolver.NeighbourRow, 0, len(resp.Neighbours))
	for _, nw := range resp.Neighbours {
		mac, err := hyveid.ParseMac(nw.Mac)
		if err != nil {
			return nil, hyveerr.New(hyveerr.Integrity, "neighside.get_neighbours", fmt.Errorf("bad mac %q from helper: %w", nw.Mac, err))
		}
		rows = append(rows, resolver.NeighbourRow{
			InterfaceIndex: nw.InterfaceIndex,
			Mac:            mac,
			LastSeen:       time.Duration(nw.LastSeenMillis) * time.Millisecond,
			ThroughputKbps: nw.ThroughputKbps,
		})
	}
	return rows, nil
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}
