package hyveid

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// HashSize is the length in bytes of a content hash. Frozen per node at
// BLAKE2b-256 (see DESIGN.md for why BLAKE2b was substituted for the
// BLAKE3 recommendation left open by the spec).
const HashSize = 32

// Cid identifies immutable content by a monotonic ULID assigned at import
// time together with the content's hash. Equality is structural: two Cids
// with the same ULID and hash are the same content id, but two imports of
// identical bytes get distinct ULIDs (see invariants in spec §3).
type Cid struct {
	ID   ulid.ULID
	Hash [HashSize]byte
}

func (c Cid) Equal(other Cid) bool {
	return c.ID == other.ID && c.Hash == other.Hash
}

func (c Cid) String() string {
	return c.ID.String() + "-" + hexEncode(c.Hash[:])
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

// ULIDSource generates strictly monotonic ULIDs for a single node, matching
// the invariant that importing identical bytes twice must yield distinct,
// lexicographically increasing ids.
type ULIDSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	last    ulid.ULID
}

// NewULIDSource constructs an independent monotonic ULID generator. The
// content store (internal/filetransfer) owns one per daemon instance; this
// constructor also backs the package-level default used by NewCid.
func NewULIDSource() *ULIDSource {
	return &ULIDSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *ULIDSource) Next() ulid.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy)
	// ulid.Monotonic already guarantees monotonicity for calls sharing a
	// timestamp, but the daemon's clock is the sole source of truth here;
	// guard against wall-clock regression across restarts defensively.
	if id.Compare(s.last) <= 0 {
		id = s.last
		incrementULID(&id)
	}
	s.last = id
	return id
}

func incrementULID(id *ulid.ULID) {
	for i := len(id) - 1; i >= 0; i-- {
		id[i]++
		if id[i] != 0 {
			return
		}
	}
}

// defaultULIDSource is the process-wide monotonic id generator used by
// NewCid. The file-transfer engine owns one per daemon instance in
// production (see internal/filetransfer), this default exists only for
// tests and standalone use of the hyveid package.
var defaultULIDSource = NewULIDSource()

// NewCid computes a Cid for hash, minting a fresh ULID from the default
// source. Production code should go through internal/filetransfer's own
// generator instead so that ULID monotonicity is scoped to one store.
func NewCid(hash [HashSize]byte) Cid {
	return Cid{ID: defaultULIDSource.Next(), Hash: hash}
}

var ErrInvalidHashLength = errors.New("hyveid: content hash must be 32 bytes")

// HashFromBytes validates and copies a raw digest into the fixed-size form.
func HashFromBytes(b []byte) (h [HashSize]byte, err error) {
	if len(b) != HashSize {
		return h, ErrInvalidHashLength
	}
	copy(h[:], b)
	return h, nil
}
