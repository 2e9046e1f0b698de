package overlay

import (
	"testing"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
)

func TestKeyToCidIsStableForIdenticalKeys(t *testing.T) {
	k := hyveid.Key{Topic: "providers", Bytes: []byte("shard-3")}

	a, err := keyToCid(k)
	if err != nil {
		t.Fatalf("keyToCid: %v", err)
	}
	b, err := keyToCid(k)
	if err != nil {
		t.Fatalf("keyToCid: %v", err)
	}
	if !a.Equals(b) {
		t.Fatalf("expected identical keys to produce identical cids, got %s vs %s", a, b)
	}
}

func TestKeyToCidDiffersAcrossKeys(t *testing.T) {
	a, err := keyToCid(hyveid.Key{Topic: "providers", Bytes: []byte("shard-1")})
	if err != nil {
		t.Fatalf("keyToCid: %v", err)
	}
	b, err := keyToCid(hyveid.Key{Topic: "providers", Bytes: []byte("shard-2")})
	if err != nil {
		t.Fatalf("keyToCid: %v", err)
	}
	if a.Equals(b) {
		t.Fatal("expected different keys to produce different cids")
	}
}

func TestKeyToCidRejectsInvalidTopic(t *testing.T) {
	if _, err := keyToCid(hyveid.Key{Topic: "a/b", Bytes: []byte("x")}); err == nil {
		t.Fatal("expected an error for a topic containing '/'")
	}
}

func TestQuorumCountDefaultsToOneForUnknownValue(t *testing.T) {
	if got := quorumCount(Quorum(99)); got != 1 {
		t.Fatalf("expected unknown quorum value to default to 1, got %d", got)
	}
}

func TestQuorumCountOne(t *testing.T) {
	if got := quorumCount(QuorumOne); got != 1 {
		t.Fatalf("expected QuorumOne to request exactly 1 value, got %d", got)
	}
}
