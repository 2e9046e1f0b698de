package apps

import (
	"testing"

	"github.com/docker/docker/api/types"
)

func TestPortBindingsExposesEachPortOnceAsTCP(t *testing.T) {
	exposed, bindings := portBindings([]int{8080, 9000})

	if len(exposed) != 2 {
		t.Fatalf("expected 2 exposed ports, got %d", len(exposed))
	}
	if len(bindings) != 2 {
		t.Fatalf("expected 2 port bindings, got %d", len(bindings))
	}
	for port, bs := range bindings {
		if len(bs) != 1 {
			t.Fatalf("expected exactly one binding for %s, got %d", port, len(bs))
		}
		if bs[0].HostPort == "" {
			t.Fatalf("expected a host port for %s", port)
		}
	}
}

func TestPortBindingsEmptyForNoPorts(t *testing.T) {
	exposed, bindings := portBindings(nil)
	if len(exposed) != 0 || len(bindings) != 0 {
		t.Fatalf("expected no bindings, got %d exposed / %d bindings", len(exposed), len(bindings))
	}
}

func TestPortsFromContainerDedupesAndSkipsUnpublished(t *testing.T) {
	ports := []types.Port{
		{PrivatePort: 80, PublicPort: 8080},
		{PrivatePort: 80, PublicPort: 8080},
		{PrivatePort: 443},
	}
	got := portsFromContainer(ports)
	if len(got) != 1 || got[0] != 8080 {
		t.Fatalf("expected [8080], got %v", got)
	}
}

func TestFirstOrEmpty(t *testing.T) {
	if got := firstOrEmpty(nil); got != "" {
		t.Fatalf("expected empty string for nil, got %q", got)
	}
	if got := firstOrEmpty([]string{"/web-1", "/web-1/alias"}); got != "/web-1" {
		t.Fatalf("expected first name, got %q", got)
	}
}
