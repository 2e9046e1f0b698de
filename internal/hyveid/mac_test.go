package hyveid

import (
	"net"
	"testing"
)

func TestLinkLocalEUI64Exclusion(t *testing.T) {
	mac, err := ParseMac("02:11:22:33:44:55")
	if err != nil {
		t.Fatalf("ParseMac: %v", err)
	}
	ll := mac.LinkLocalAddr()
	if !mac.IsLinkLocalEUI64(ll) {
		t.Fatalf("expected %v to be recognized as EUI-64 link-local for %v", ll, mac)
	}
	other := net.ParseIP("fd00::1")
	if mac.IsLinkLocalEUI64(other) {
		t.Fatalf("fd00::1 must not be classified as EUI-64 link-local")
	}
}

func TestEUI64Expansion(t *testing.T) {
	mac, _ := ParseMac("00:00:00:00:00:01")
	eui := mac.EUI64()
	want := [8]byte{0x02, 0x00, 0x00, 0xff, 0xfe, 0x00, 0x00, 0x01}
	if eui != want {
		t.Fatalf("got %x, want %x", eui, want)
	}
}
