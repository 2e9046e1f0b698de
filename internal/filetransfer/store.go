// Package filetransfer implements the daemon's content-addressed file store
// and the windowed-ack chunked transport used to move file bytes between
// peers (spec §3 content store invariants, §4.4).
package filetransfer

import (
	"crypto/subtle"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveerr"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
)

// Store is a daemon-private, hash-addressed content directory. Every
// imported file lives under dir at a path derived from its content hash
// (spec: "each imported file is stored at a path derived from its content
// hash"); the source path is chmod'd read-only and hard-linked into the
// store rather than copied, so publishing a large file is O(1) disk I/O
// beyond the initial hash pass.
type Store struct {
	dir   string
	ulids *hyveid.ULIDSource
	log   hyvelog.Logger
}

// NewStore opens (creating if necessary) the content store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, hyveerr.New(hyveerr.Internal, "filetransfer.new_store", err)
	}
	return &Store{dir: dir, ulids: hyveid.NewULIDSource(), log: hyvelog.New("component", "filetransfer")}, nil
}

func (s *Store) pathForHash(hash [hyveid.HashSize]byte) string {
	return filepath.Join(s.dir, hexEncode(hash[:]))
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

// PublishFile hashes the file at path, hard-links it (read-only) into the
// store under its hash if not already present, and assigns it a fresh ULID
// (spec: "If a file with this hash already exists, reuse it and allocate a
// new ULID" — two publishes of identical bytes yield distinct Cids sharing
// one on-disk copy).
func (s *Store) PublishFile(path string) (hyveid.Cid, error) {
	hash, err := hashFile(path)
	if err != nil {
		return hyveid.Cid{}, hyveerr.New(hyveerr.Internal, "filetransfer.publish_file", err)
	}

	dest := s.pathForHash(hash)
	if _, err := os.Stat(dest); err != nil {
		if !os.IsNotExist(err) {
			return hyveid.Cid{}, hyveerr.New(hyveerr.Internal, "filetransfer.publish_file", err)
		}
		if err := readOnlyHardLink(path, dest); err != nil {
			return hyveid.Cid{}, hyveerr.New(hyveerr.Internal, "filetransfer.publish_file", err)
		}
	}

	return hyveid.Cid{ID: s.ulids.Next(), Hash: hash}, nil
}

// GetFile copies the stored content for cid into destDir, verifying the
// copy's hash matches cid.Hash before returning, and removing the partial
// copy on mismatch (spec: content hash verification on fetch, partial-file
// cleanup on mismatch).
func (s *Store) GetFile(cid hyveid.Cid, destDir string) (string, error) {
	src := s.pathForHash(cid.Hash)
	if _, err := os.Stat(src); err != nil {
		return "", hyveerr.New(hyveerr.InvalidArgument, "filetransfer.get_file", fmt.Errorf("unknown content id %s: %w", cid, err))
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", hyveerr.New(hyveerr.Internal, "filetransfer.get_file", err)
	}
	dest := filepath.Join(destDir, cid.ID.String())

	if err := copyFile(src, dest); err != nil {
		os.Remove(dest)
		return "", hyveerr.New(hyveerr.Internal, "filetransfer.get_file", err)
	}

	gotHash, err := hashFile(dest)
	if err != nil {
		os.Remove(dest)
		return "", hyveerr.New(hyveerr.Internal, "filetransfer.get_file", err)
	}
	if subtle.ConstantTimeCompare(gotHash[:], cid.Hash[:]) != 1 {
		os.Remove(dest)
		return "", hyveerr.Newf(hyveerr.Integrity, "filetransfer.get_file", "content hash mismatch for %s", cid)
	}

	return dest, nil
}

// HasHash reports whether content with this hash is already present in the
// store, without needing a full Cid (a peer asking to fetch content only
// ever knows its hash, not the asker's ULID for it).
func (s *Store) HasHash(hash [hyveid.HashSize]byte) bool {
	_, err := os.Stat(s.pathForHash(hash))
	return err == nil
}

// OpenHash opens locally-held content by hash for streaming to a peer that
// requested it over the network (spec §4.4: a node serves content it holds
// to any peer that asks for it by hash).
func (s *Store) OpenHash(hash [hyveid.HashSize]byte) (*os.File, int64, error) {
	f, err := os.Open(s.pathForHash(hash))
	if err != nil {
		return nil, 0, hyveerr.New(hyveerr.InvalidArgument, "filetransfer.open_hash", fmt.Errorf("no local content for this hash: %w", err))
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, hyveerr.New(hyveerr.Internal, "filetransfer.open_hash", err)
	}
	return f, fi.Size(), nil
}

// AdoptFetched verifies path's content against hash and, on a match,
// hard-links it into the store under that hash so a later local request is
// served without re-fetching (mirrors PublishFile's "reuse if already
// present" rule). path is left in place either way; the caller owns removing
// it on mismatch.
func (s *Store) AdoptFetched(hash [hyveid.HashSize]byte, path string) error {
	got, err := hashFile(path)
	if err != nil {
		return hyveerr.New(hyveerr.Internal, "filetransfer.adopt_fetched", err)
	}
	if subtle.ConstantTimeCompare(got[:], hash[:]) != 1 {
		return hyveerr.Newf(hyveerr.Integrity, "filetransfer.adopt_fetched", "fetched content hash mismatch")
	}

	dest := s.pathForHash(hash)
	if _, err := os.Stat(dest); err != nil {
		if !os.IsNotExist(err) {
			return hyveerr.New(hyveerr.Internal, "filetransfer.adopt_fetched", err)
		}
		if err := os.Link(path, dest); err != nil {
			return hyveerr.New(hyveerr.Internal, "filetransfer.adopt_fetched", err)
		}
	}
	return nil
}

func hashFile(path string) ([hyveid.HashSize]byte, error) {
	var out [hyveid.HashSize]byte
	f, err := os.Open(path)
	if err != nil {
		return out, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return out, err
	}
	if _, err := io.Copy(h, f); err != nil {
		return out, err
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// readOnlyHardLink chmods src to 0o444 then hard-links it to dest, which
// inherits the mode (spec: "the source is first chmod'd to 0o444 and then
// hard-linked; the destination inherits the mode"). The daemon never writes
// through the resulting handle, which is how published content stays
// immutable.
func readOnlyHardLink(src, dest string) error {
	if err := os.Chmod(src, 0o444); err != nil {
		return err
	}
	return os.Link(src, dest)
}
