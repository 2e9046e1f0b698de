package hyveid

import (
	"errors"
	"fmt"
	"net"
)

// MacAddress is a 48-bit link-layer address.
type MacAddress [6]byte

var ErrInvalidMac = errors.New("hyveid: invalid mac address")

// ParseMac parses the standard colon-separated hex form.
func ParseMac(s string) (MacAddress, error) {
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return MacAddress{}, ErrInvalidMac
	}
	var m MacAddress
	copy(m[:], hw)
	return m, nil
}

func MacFromHardwareAddr(hw net.HardwareAddr) (MacAddress, error) {
	if len(hw) != 6 {
		return MacAddress{}, ErrInvalidMac
	}
	var m MacAddress
	copy(m[:], hw)
	return m, nil
}

func (m MacAddress) String() string {
	return net.HardwareAddr(m[:]).String()
}

// IsLinkLocalEUI64 reports whether ip is the link-local (fe80::/10) address
// whose interface identifier is the EUI-64 expansion of m. Such addresses
// must be excluded from overlay address promotion (spec §4.2 edge case,
// scenario 6): they bind the overlay to a specific physical interface and
// would prevent roaming.
func (m MacAddress) IsLinkLocalEUI64(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 != nil {
		return false
	}
	ip16 := ip.To16()
	if ip16 == nil || !ip16.IsLinkLocalUnicast() {
		return false
	}
	eui := m.EUI64()
	for i := 0; i < 8; i++ {
		if ip16[8+i] != eui[i] {
			return false
		}
	}
	return true
}

// EUI64 expands the MAC into its 8-byte EUI-64 interface identifier by
// inserting 0xFFFE in the middle and flipping the universal/local bit, per
// RFC 4291 appendix A.
func (m MacAddress) EUI64() [8]byte {
	var out [8]byte
	out[0] = m[0] ^ 0x02
	out[1] = m[1]
	out[2] = m[2]
	out[3] = 0xff
	out[4] = 0xfe
	out[5] = m[3]
	out[6] = m[4]
	out[7] = m[5]
	return out
}

// LinkLocalAddr returns the fe80::-prefixed link-local IPv6 address derived
// from this MAC's EUI-64 identifier. The returned net.IP carries no
// interface scope.
func (m MacAddress) LinkLocalAddr() net.IP {
	ip := make(net.IP, 16)
	ip[0] = 0xfe
	ip[1] = 0x80
	eui := m.EUI64()
	copy(ip[8:], eui[:])
	return ip
}

// InterfaceAddress is the triple (index, name, IPv6 address) that the
// resolver tracks for each configured mesh interface. An address whose index
// cannot be resolved to an interface name via the OS is invalid.
type InterfaceAddress struct {
	Index int
	Name  string
	Addr  net.IP
}

func (a InterfaceAddress) Valid() bool {
	return a.Index > 0 && a.Name != "" && a.Addr != nil
}

func (a InterfaceAddress) String() string {
	return fmt.Sprintf("%s[%d]@%s", a.Name, a.Index, a.Addr)
}

// ResolveInterfaceAddress looks up the interface name for index via the OS
// and pairs it with addr.
func ResolveInterfaceAddress(index int, addr net.IP) (InterfaceAddress, error) {
	ifi, err := net.InterfaceByIndex(index)
	if err != nil {
		return InterfaceAddress{}, fmt.Errorf("hyveid: resolve interface %d: %w", index, err)
	}
	return InterfaceAddress{Index: index, Name: ifi.Name, Addr: addr}, nil
}
