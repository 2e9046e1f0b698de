// Package kv implements the daemon's embedded key-value store: one LevelDB
// file holding two tables, `startup_apps` (image -> published ports, for the
// container supervisor's restart registry) and `bridge_kv` (string ->
// bytes, the generic store apps reach through the bridge). Both tables share
// one on-disk file distinguished by a one-byte key prefix, the same scheme
// shed.GenericIndex uses to multiplex indexes over a single LevelDB instance.
package kv

import (
	"encoding/json"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveerr"
)

const (
	prefixStartupApps byte = 0x01
	prefixBridgeKV    byte = 0x02
)

// DB is the embedded store. Writes are serialized by an explicit
// reader-writer lock (spec: "guarded by a reader-writer lock; write
// transactions are serialized") rather than relying on goleveldb's own
// internal locking, so multi-step read-modify-write sequences (the startup
// registry's add/remove) are atomic from every caller's point of view.
type DB struct {
	mu  sync.RWMutex
	ldb *leveldb.DB
}

// Open opens (creating if necessary) the LevelDB file at path.
func Open(path string) (*DB, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, hyveerr.New(hyveerr.Internal, "kv.open", err)
	}
	return &DB{ldb: ldb}, nil
}

func (db *DB) Close() error {
	return db.ldb.Close()
}

// withReadLock and withWriteLock recover a poisoned lock by taking the inner
// value and continuing (spec: "poisoned locks are recovered by taking the
// inner value -- poisoning is a bug indicator, not a runtime state"). Go's
// sync.RWMutex has no poisoning concept of its own (unlike the Rust std
// library's RwLock this was ported from); a panic inside a held lock would
// otherwise deadlock every future caller, so both helpers release the lock,
// recover the panic and return it as an Internal error instead of
// re-panicking: the lock itself never stays poisoned.
func (db *DB) withReadLock(f func() error) (err error) {
	db.mu.RLock()
	defer func() {
		db.mu.RUnlock()
		if r := recover(); r != nil {
			err = hyveerr.Newf(hyveerr.Internal, "kv", "recovered panic: %v", r)
		}
	}()
	return f()
}

func (db *DB) withWriteLock(f func() error) (err error) {
	db.mu.Lock()
	defer func() {
		db.mu.Unlock()
		if r := recover(); r != nil {
			err = hyveerr.Newf(hyveerr.Internal, "kv", "recovered panic: %v", r)
		}
	}()
	return f()
}

func tableKey(prefix byte, key string) []byte {
	b := make([]byte, 0, 1+len(key))
	b = append(b, prefix)
	b = append(b, key...)
	return b
}

// BridgeKV is the generic string -> bytes table apps reach through the
// bridge's kv family.
type BridgeKV struct{ db *DB }

func (db *DB) BridgeKV() BridgeKV { return BridgeKV{db: db} }

func (b BridgeKV) Get(key string) (value []byte, err error) {
	err = b.db.withReadLock(func() error {
		v, getErr := b.db.ldb.Get(tableKey(prefixBridgeKV, key), nil)
		if getErr == leveldb.ErrNotFound {
			return hyveerr.Newf(hyveerr.InvalidArgument, "kv.bridge_kv.get", "no value for key %q", key)
		}
		if getErr != nil {
			return hyveerr.New(hyveerr.Internal, "kv.bridge_kv.get", getErr)
		}
		value = append([]byte(nil), v...)
		return nil
	})
	return value, err
}

func (b BridgeKV) Put(key string, value []byte) error {
	return b.db.withWriteLock(func() error {
		if err := b.db.ldb.Put(tableKey(prefixBridgeKV, key), value, nil); err != nil {
			return hyveerr.New(hyveerr.Internal, "kv.bridge_kv.put", err)
		}
		return nil
	})
}

func (b BridgeKV) Delete(key string) error {
	return b.db.withWriteLock(func() error {
		if err := b.db.ldb.Delete(tableKey(prefixBridgeKV, key), nil); err != nil {
			return hyveerr.New(hyveerr.Internal, "kv.bridge_kv.delete", err)
		}
		return nil
	})
}

// StartupApp is one entry of the startup_apps table: an image the supervisor
// re-deploys on daemon restart, with the ports it was published on.
type StartupApp struct {
	Image string `json:"image"`
	Ports []int  `json:"ports"`
}

// StartupApps is the image -> ports table the container supervisor consults
// on startup (spec §4.6, SPEC_FULL §/apps: "persistent causes the supervisor
// to re-deploy the image on daemon restart from the local KV registry").
type StartupApps struct{ db *DB }

func (db *DB) StartupApps() StartupApps { return StartupApps{db: db} }

func (s StartupApps) Put(app StartupApp) error {
	return s.db.withWriteLock(func() error {
		b, err := json.Marshal(app)
		if err != nil {
			return hyveerr.New(hyveerr.Internal, "kv.startup_apps.put", err)
		}
		if err := s.db.ldb.Put(tableKey(prefixStartupApps, app.Image), b, nil); err != nil {
			return hyveerr.New(hyveerr.Internal, "kv.startup_apps.put", err)
		}
		return nil
	})
}

func (s StartupApps) Remove(image string) error {
	return s.db.withWriteLock(func() error {
		if err := s.db.ldb.Delete(tableKey(prefixStartupApps, image), nil); err != nil {
			return hyveerr.New(hyveerr.Internal, "kv.startup_apps.remove", err)
		}
		return nil
	})
}

// List returns every registered startup app, for the supervisor's
// restart-time re-deploy pass.
func (s StartupApps) List() (apps []StartupApp, err error) {
	err = s.db.withReadLock(func() error {
		iter := s.db.ldb.NewIterator(util.BytesPrefix([]byte{prefixStartupApps}), nil)
		defer iter.Release()
		for iter.Next() {
			var app StartupApp
			if unmarshalErr := json.Unmarshal(iter.Value(), &app); unmarshalErr != nil {
				return hyveerr.New(hyveerr.Internal, "kv.startup_apps.list", unmarshalErr)
			}
			apps = append(apps, app)
		}
		return iter.Error()
	})
	return apps, err
}
