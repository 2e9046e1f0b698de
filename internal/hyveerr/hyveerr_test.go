package hyveerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	base := New(Integrity, "filetransfer.get_file", errors.New("hash mismatch"))
	wrapped := fmt.Errorf("fetch failed: %w", base)

	if KindOf(wrapped) != Integrity {
		t.Fatalf("got %v, want Integrity", KindOf(wrapped))
	}
}

func TestKindOfDefaultsToInternalForPlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != Internal {
		t.Fatalf("expected Internal for an unclassified error")
	}
}

func TestRetryableOnlyForTransient(t *testing.T) {
	if !Retryable(New(Transient, "op", errors.New("x"))) {
		t.Fatal("Transient errors must be retryable")
	}
	if Retryable(New(Integrity, "op", errors.New("x"))) {
		t.Fatal("Integrity errors must never be retryable")
	}
}

func TestErrorStringIncludesOpAndKind(t *testing.T) {
	err := Newf(InvalidArgument, "hyveid.parse_peer_id", "empty string")
	msg := err.Error()
	if msg == "" {
		t.Fatal("Error() returned empty string")
	}
	if !strings.Contains(msg, "hyveid.parse_peer_id") || !strings.Contains(msg, InvalidArgument.String()) {
		t.Fatalf("Error() = %q, want it to include the op and the kind", msg)
	}
	if errors.Unwrap(err) == nil {
		t.Fatal("Unwrap should return the underlying cause")
	}
}
