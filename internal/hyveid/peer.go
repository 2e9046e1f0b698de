// Package hyveid defines the identifiers and addresses shared across the
// daemon: overlay peer ids, link-layer MAC addresses, interface-scoped IPv6
// addresses and content ids.
package hyveid

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// PeerId is the opaque canonical identifier of an overlay participant. The
// underlying bytes are the libp2p peer id (the multihash of the node's
// public key); callers must treat it as opaque beyond (de)serialization.
type PeerId struct {
	raw string // canonical base58btc-free string form, as produced by the overlay library
}

// ErrInvalidPeerId is returned when a string does not decode to a PeerId.
var ErrInvalidPeerId = errors.New("hyveid: invalid peer id")

// ParsePeerId parses the canonical string form of a peer id.
func ParsePeerId(s string) (PeerId, error) {
	if s == "" {
		return PeerId{}, ErrInvalidPeerId
	}
	return PeerId{raw: s}, nil
}

// PeerIdFromBytes wraps raw identity bytes (e.g. a libp2p peer.ID converted
// to string) into a PeerId without validation beyond emptiness.
func PeerIdFromBytes(b []byte) (PeerId, error) {
	if len(b) == 0 {
		return PeerId{}, ErrInvalidPeerId
	}
	return PeerId{raw: base64.RawURLEncoding.EncodeToString(b)}, nil
}

// String returns the canonical string form.
func (p PeerId) String() string { return p.raw }

// Bytes decodes the canonical string form back into the raw identity bytes
// passed to PeerIdFromBytes (the overlay library's native peer id bytes).
func (p PeerId) Bytes() ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(p.raw)
	if err != nil {
		return nil, ErrInvalidPeerId
	}
	return b, nil
}

// IsZero reports whether p is the zero value.
func (p PeerId) IsZero() bool { return p.raw == "" }

// Equal reports structural equality, suitable for use as a map key via ==.
func (p PeerId) Equal(other PeerId) bool { return p.raw == other.raw }

func (p PeerId) MarshalText() ([]byte, error) { return []byte(p.raw), nil }

func (p *PeerId) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		return ErrInvalidPeerId
	}
	p.raw = string(b)
	return nil
}

func (p PeerId) GoString() string { return fmt.Sprintf("PeerId(%s)", p.raw) }
