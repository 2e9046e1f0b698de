package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateIdentityGeneratesAndPersists(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "identity.key")

	first, err := loadOrCreateIdentity(keyFile)
	if err != nil {
		t.Fatalf("loadOrCreateIdentity (generate): %v", err)
	}

	second, err := loadOrCreateIdentity(keyFile)
	if err != nil {
		t.Fatalf("loadOrCreateIdentity (reload): %v", err)
	}

	firstBytes, err := first.Raw()
	if err != nil {
		t.Fatalf("first.Raw: %v", err)
	}
	secondBytes, err := second.Raw()
	if err != nil {
		t.Fatalf("second.Raw: %v", err)
	}
	if string(firstBytes) != string(secondBytes) {
		t.Fatal("expected the reloaded identity to match the generated one")
	}
}

func TestLoadOrCreateIdentityRejectsCorruptKeyFile(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "identity.key")
	if err := os.WriteFile(keyFile, []byte("not-hex-at-all"), 0o600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	if _, err := loadOrCreateIdentity(keyFile); err == nil {
		t.Fatal("expected an error decoding a corrupt key file")
	}
}
