package kv

import (
	"path/filepath"
	"testing"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveerr"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "hyveos.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBridgeKVPutGetDelete(t *testing.T) {
	db := openTestDB(t)
	kv := db.BridgeKV()

	if err := kv.Put("greeting", []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := kv.Get("greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}

	if err := kv.Delete("greeting"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kv.Get("greeting"); err == nil {
		t.Fatal("expected an error for a deleted key")
	} else if hyveerr.KindOf(err) != hyveerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", hyveerr.KindOf(err))
	}
}

func TestStartupAppsListReturnsOnlyStartupAppsEntries(t *testing.T) {
	db := openTestDB(t)

	if err := db.BridgeKV().Put("unrelated", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	apps := db.StartupApps()
	if err := apps.Put(StartupApp{Image: "hyveos/echo:latest", Ports: []int{8080}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := apps.Put(StartupApp{Image: "hyveos/relay:latest", Ports: []int{9000, 9001}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	list, err := apps.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 startup apps, got %d: %v", len(list), list)
	}
}

func TestStartupAppsRemove(t *testing.T) {
	db := openTestDB(t)
	apps := db.StartupApps()

	if err := apps.Put(StartupApp{Image: "hyveos/echo:latest", Ports: []int{8080}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := apps.Remove("hyveos/echo:latest"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	list, err := apps.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no startup apps after removal, got %v", list)
	}
}
