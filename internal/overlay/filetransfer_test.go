package overlay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/p2p-industries/hyveos-sub001/internal/filetransfer"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveerr"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
)

func newTestOverlayWithHost(t *testing.T) *Overlay {
	t.Helper()
	return &Overlay{Host: newTestHost(t)}
}

func TestFileTransferFetchRoundTripsAndAdoptsIntoStore(t *testing.T) {
	ovA := newTestOverlayWithHost(t)
	ovB := newTestOverlayWithHost(t)

	storeA, err := filetransfer.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("filetransfer.NewStore: %v", err)
	}
	storeB, err := filetransfer.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("filetransfer.NewStore: %v", err)
	}

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "a.bin")
	if err := os.WriteFile(srcPath, []byte("content served over the mesh"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cid, err := storeA.PublishFile(srcPath)
	if err != nil {
		t.Fatalf("PublishFile: %v", err)
	}

	ovA.RegisterFileTransfer(storeA)
	ftB := ovB.RegisterFileTransfer(storeB)

	addrInfoA := peer.AddrInfo{ID: ovA.Host.ID(), Addrs: ovA.Host.Addrs()}
	if err := ovB.Host.Connect(context.Background(), addrInfoA); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	idA, err := hyveid.PeerIdFromBytes([]byte(ovA.Host.ID()))
	if err != nil {
		t.Fatalf("PeerIdFromBytes: %v", err)
	}

	destDir := t.TempDir()
	got, err := ftB.Fetch(context.Background(), idA, cid, destDir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "content served over the mesh" {
		t.Fatalf("got %q", data)
	}
	if !storeB.HasHash(cid.Hash) {
		t.Fatal("expected fetched content to be adopted into the requester's own store")
	}
}

func TestFileTransferFetchFailsWhenPeerHasNoContent(t *testing.T) {
	ovA := newTestOverlayWithHost(t)
	ovB := newTestOverlayWithHost(t)

	storeA, err := filetransfer.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("filetransfer.NewStore: %v", err)
	}
	storeB, err := filetransfer.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("filetransfer.NewStore: %v", err)
	}

	ovA.RegisterFileTransfer(storeA)
	ftB := ovB.RegisterFileTransfer(storeB)

	addrInfoA := peer.AddrInfo{ID: ovA.Host.ID(), Addrs: ovA.Host.Addrs()}
	if err := ovB.Host.Connect(context.Background(), addrInfoA); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	idA, err := hyveid.PeerIdFromBytes([]byte(ovA.Host.ID()))
	if err != nil {
		t.Fatalf("PeerIdFromBytes: %v", err)
	}

	var hash [hyveid.HashSize]byte
	copy(hash[:], []byte("content A never published here.."))
	_, err = ftB.Fetch(context.Background(), idA, hyveid.NewCid(hash), t.TempDir())
	if err == nil {
		t.Fatal("expected an error fetching content the peer never published")
	}
	if hyveerr.KindOf(err) != hyveerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", hyveerr.KindOf(err))
	}
}
