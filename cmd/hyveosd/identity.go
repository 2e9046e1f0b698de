package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
)

// loadOrCreateIdentity loads the node's persisted Ed25519 keypair from
// keyFile, or generates and persists a fresh one on first start (SPEC_FULL.md
// §4.7: "peer_id() derives from an Ed25519 keypair loaded from key-file
// (generated on first start via crypto/ed25519 + libp2p's
// crypto.UnmarshalEd25519PrivateKey)"). Grounded on klingnet's own
// loadOrCreateIdentity, substituting the stdlib ed25519 generator the spec
// names in place of libp2p's own GenerateEd25519Key.
func loadOrCreateIdentity(keyFile string) (libp2pcrypto.PrivKey, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		raw, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("hyveosd: decode key file %s: %w", keyFile, err)
		}
		return libp2pcrypto.UnmarshalEd25519PrivateKey(raw)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("hyveosd: read key file %s: %w", keyFile, err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("hyveosd: generate identity: %w", err)
	}
	privKey, err := libp2pcrypto.UnmarshalEd25519PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("hyveosd: wrap generated identity: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("hyveosd: create key file directory: %w", err)
		}
	}
	if err := os.WriteFile(keyFile, []byte(hex.EncodeToString(priv)), 0o600); err != nil {
		return nil, fmt.Errorf("hyveosd: write key file %s: %w", keyFile, err)
	}
	return privKey, nil
}
