package filetransfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
)

func writeTempFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestPublishThenGetFileRoundTrips(t *testing.T) {
	storeDir := t.TempDir()
	srcDir := t.TempDir()
	destDir := t.TempDir()

	store, err := NewStore(storeDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	src := writeTempFile(t, srcDir, "a.bin", []byte("hyveos content"))
	cid, err := store.PublishFile(src)
	if err != nil {
		t.Fatalf("PublishFile: %v", err)
	}

	got, err := store.GetFile(cid, destDir)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hyveos content" {
		t.Fatalf("got %q", data)
	}
}

func TestPublishFileTwiceWithSameBytesYieldsDistinctCidsSharedStore(t *testing.T) {
	storeDir := t.TempDir()
	srcDir := t.TempDir()

	store, err := NewStore(storeDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	p1 := writeTempFile(t, srcDir, "one.bin", []byte("same bytes"))
	p2 := writeTempFile(t, srcDir, "two.bin", []byte("same bytes"))

	cid1, err := store.PublishFile(p1)
	if err != nil {
		t.Fatalf("PublishFile: %v", err)
	}
	cid2, err := store.PublishFile(p2)
	if err != nil {
		t.Fatalf("PublishFile: %v", err)
	}

	if cid1.ID == cid2.ID {
		t.Fatal("expected distinct ULIDs for two separate publishes")
	}
	if cid1.Hash != cid2.Hash {
		t.Fatal("expected identical hashes for identical bytes")
	}
	if cid1.Equal(cid2) {
		t.Fatal("Cids should not be equal when ULIDs differ")
	}
}

func TestPublishFileMakesSourceReadOnly(t *testing.T) {
	storeDir := t.TempDir()
	srcDir := t.TempDir()

	store, err := NewStore(storeDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	src := writeTempFile(t, srcDir, "ro.bin", []byte("immutable"))
	if _, err := store.PublishFile(src); err != nil {
		t.Fatalf("PublishFile: %v", err)
	}

	info, err := os.Stat(src)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm()&0o222 != 0 {
		t.Fatalf("expected source to be read-only after publish, mode is %v", info.Mode())
	}
}

func TestGetFileRejectsUnknownCid(t *testing.T) {
	storeDir := t.TempDir()
	destDir := t.TempDir()

	store, err := NewStore(storeDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	var hash [hyveid.HashSize]byte
	copy(hash[:], []byte("not a real content hash........."))
	_, err = store.GetFile(hyveid.NewCid(hash), destDir)
	if err == nil {
		t.Fatal("expected an error for an unknown content id")
	}
}

func TestHasHashAndOpenHashReflectStoreContents(t *testing.T) {
	storeDir := t.TempDir()
	srcDir := t.TempDir()

	store, err := NewStore(storeDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	var absent [hyveid.HashSize]byte
	copy(absent[:], []byte("nothing stored under this hash.."))
	if store.HasHash(absent) {
		t.Fatal("expected HasHash to report false for content never published")
	}
	if _, _, err := store.OpenHash(absent); err == nil {
		t.Fatal("expected OpenHash to fail for content never published")
	}

	src := writeTempFile(t, srcDir, "served.bin", []byte("served over the network"))
	cid, err := store.PublishFile(src)
	if err != nil {
		t.Fatalf("PublishFile: %v", err)
	}

	if !store.HasHash(cid.Hash) {
		t.Fatal("expected HasHash to report true after publishing")
	}
	f, size, err := store.OpenHash(cid.Hash)
	if err != nil {
		t.Fatalf("OpenHash: %v", err)
	}
	defer f.Close()
	if size != int64(len("served over the network")) {
		t.Fatalf("expected size %d, got %d", len("served over the network"), size)
	}
}

func TestAdoptFetchedLinksVerifiedContentIntoStore(t *testing.T) {
	storeDir := t.TempDir()
	fetchedDir := t.TempDir()

	store, err := NewStore(storeDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	fetched := writeTempFile(t, fetchedDir, "fetched.bin", []byte("fetched content"))
	realHash, err := hashFile(fetched)
	if err != nil {
		t.Fatalf("hashFile: %v", err)
	}

	if err := store.AdoptFetched(realHash, fetched); err != nil {
		t.Fatalf("AdoptFetched: %v", err)
	}
	if !store.HasHash(realHash) {
		t.Fatal("expected the fetched content to be adopted into the store")
	}
}

func TestAdoptFetchedRejectsHashMismatch(t *testing.T) {
	storeDir := t.TempDir()
	fetchedDir := t.TempDir()

	store, err := NewStore(storeDir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	fetched := writeTempFile(t, fetchedDir, "tampered.bin", []byte("tampered content"))
	var wrongHash [hyveid.HashSize]byte
	copy(wrongHash[:], []byte("this does not match the bytes.."))

	if err := store.AdoptFetched(wrongHash, fetched); err == nil {
		t.Fatal("expected a hash mismatch error")
	}
	if store.HasHash(wrongHash) {
		t.Fatal("a mismatched fetch must not be adopted into the store")
	}
}
