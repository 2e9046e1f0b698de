package neighside

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
)

type fakeSource struct {
	rows []Row
	err  error
}

func (f *fakeSource) Neighbours(ifIndex int) ([]Row, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func TestClientServerGetNeighboursRoundTrip(t *testing.T) {
	mac, err := hyveid.ParseMac("aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{rows: []Row{{Mac: [6]byte(mac), LastSeen: 3 * time.Second}}}
	srv := NewServer(src)

	sockPath := filepath.Join(t.TempDir(), "neigh.sock")
	ln, err := srv.Listen(sockPath, 0o660, -1)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go srv.Serve(ln)

	client := NewClient(sockPath)
	defer client.Close()

	rows, err := client.GetNeighbours(3)
	if err != nil {
		t.Fatalf("GetNeighbours: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Mac != mac {
		t.Fatalf("got mac %v, want %v", rows[0].Mac, mac)
	}
	if rows[0].InterfaceIndex != 3 {
		t.Fatalf("got interface %d, want 3", rows[0].InterfaceIndex)
	}
}

func TestClientSurfacesHelperError(t *testing.T) {
	src := &fakeSource{err: os.ErrPermission}
	srv := NewServer(src)

	sockPath := filepath.Join(t.TempDir(), "neigh.sock")
	ln, err := srv.Listen(sockPath, 0o660, -1)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go srv.Serve(ln)

	client := NewClient(sockPath)
	defer client.Close()

	if _, err := client.GetNeighbours(1); err == nil {
		t.Fatal("expected an error surfaced from the helper, got nil")
	}
}

func TestListenRemovesStaleSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "neigh.sock")
	stale, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatal(err)
	}
	stale.Close() // leaves the socket file behind, as a crash would

	srv := NewServer(&fakeSource{})
	ln, err := srv.Listen(sockPath, 0o660, -1)
	if err != nil {
		t.Fatalf("Listen should clean up a stale socket file: %v", err)
	}
	ln.Close()
}
