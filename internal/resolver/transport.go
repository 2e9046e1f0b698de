package resolver

import (
	"encoding/json"
	"fmt"
	"net"

	"golang.org/x/net/ipv6"

	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
)

// ResolutionPort is the fixed UDP6 port resolution request/response packets
// are exchanged on, scoped to each mesh interface's link-local address.
const ResolutionPort = 7946

// packetWire is the datagram payload; exactly one of the two fields is set.
type packetWire struct {
	Request  *ResolutionRequest  `json:"request,omitempty"`
	Response *ResolutionResponse `json:"response,omitempty"`
}

// UDP6Transport implements ResolutionTransport over one shared UDP6 socket,
// using golang.org/x/net/ipv6 control messages to tag outgoing packets with
// the sending interface and learn the arriving interface of incoming ones —
// a plain net.UDPConn can't do either for a link-local, multi-homed address.
type UDP6Transport struct {
	conn *ipv6.PacketConn
	log  hyvelog.Logger
	out  chan TransportResponse

	// OnRequest answers an incoming resolution request with this node's own
	// identity; ok is false to ignore the request instead of responding.
	OnRequest func(ifIndex int, req ResolutionRequest) (resp ResolutionResponse, ok bool)
}

// NewUDP6Transport binds the shared resolution socket and starts its read
// loop. Close stops the loop by closing the underlying connection.
func NewUDP6Transport() (*UDP6Transport, error) {
	raw, err := net.ListenUDP("udp6", &net.UDPAddr{Port: ResolutionPort})
	if err != nil {
		return nil, fmt.Errorf("resolver: listen udp6: %w", err)
	}
	pc := ipv6.NewPacketConn(raw)
	if err := pc.SetControlMessage(ipv6.FlagInterface, true); err != nil {
		raw.Close()
		return nil, fmt.Errorf("resolver: enable interface control messages: %w", err)
	}
	t := &UDP6Transport{
		conn: pc,
		log:  hyvelog.New("component", "resolver-transport"),
		out:  make(chan TransportResponse, 32),
	}
	go t.readLoop()
	return t, nil
}

func (t *UDP6Transport) SendRequest(ifIndex int, dst net.IP, req ResolutionRequest) error {
	return t.send(ifIndex, dst, packetWire{Request: &req})
}

func (t *UDP6Transport) Responses() <-chan TransportResponse {
	return t.out
}

func (t *UDP6Transport) Close() error {
	return t.conn.Close()
}

func (t *UDP6Transport) send(ifIndex int, dst net.IP, w packetWire) error {
	ifi, err := net.InterfaceByIndex(ifIndex)
	if err != nil {
		return fmt.Errorf("resolver: resolve interface %d: %w", ifIndex, err)
	}
	body, err := json.Marshal(w)
	if err != nil {
		return err
	}
	addr := &net.UDPAddr{IP: dst, Port: ResolutionPort, Zone: ifi.Name}
	cm := &ipv6.ControlMessage{IfIndex: ifIndex}
	_, err = t.conn.WriteTo(body, cm, addr)
	return err
}

func (t *UDP6Transport) readLoop() {
	buf := make([]byte, 2048)
	for {
		n, cm, src, err := t.conn.ReadFrom(buf)
		if err != nil {
			close(t.out)
			return
		}
		var w packetWire
		if err := json.Unmarshal(buf[:n], &w); err != nil {
			t.log.Debug("malformed resolution packet", "from", src, "err", err)
			continue
		}
		ifIndex := 0
		if cm != nil {
			ifIndex = cm.IfIndex
		}

		if w.Response != nil {
			select {
			case t.out <- TransportResponse{InterfaceIndex: ifIndex, Resp: *w.Response}:
			default:
				t.log.Debug("response channel full, dropping", "from", src)
			}
			continue
		}
		if w.Request != nil && t.OnRequest != nil {
			t.respond(ifIndex, src, *w.Request)
		}
	}
}

func (t *UDP6Transport) respond(ifIndex int, src net.Addr, req ResolutionRequest) {
	resp, ok := t.OnRequest(ifIndex, req)
	if !ok {
		return
	}
	udpSrc, ok := src.(*net.UDPAddr)
	if !ok {
		return
	}
	if err := t.send(ifIndex, udpSrc.IP, packetWire{Response: &resp}); err != nil {
		t.log.Debug("resolution response send failed", "to", src, "err", err)
	}
}
