package server

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/lobby"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/message"
	"github.com/Faervan/yggdrasil-sub000/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func udpFrom(t *testing.T, ip string) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(ip)})
	if err != nil {
		t.Fatalf("listen udp on %s: %v", ip, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendDatagram(t *testing.T, conn *net.UDPConn, to netip.AddrPort, seq uint16, body message.ClientBody) {
	t.Helper()
	encoded, err := message.Encode(body)
	if err != nil {
		t.Fatalf("encode body: %v", err)
	}
	if _, err := conn.WriteToUDPAddrPort(message.AppendClientDatagram(nil, seq, 0, encoded), to); err != nil {
		t.Fatalf("write datagram: %v", err)
	}
}

func readDatagram(t *testing.T, conn *net.UDPConn) message.ServerDatagram {
	t.Helper()
	buf := make([]byte, readBufferLen)
	_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))
	n, _, err := conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		t.Fatalf("read datagram: %v", err)
	}
	d, err := message.ParseServerDatagram(buf[:n])
	if err != nil {
		t.Fatalf("parse datagram: %v", err)
	}
	return d
}

// expectRelay skips acknowledgments until a relayed action arrives.
func expectRelay(t *testing.T, conn *net.UDPConn) (uint16, message.Action) {
	t.Helper()
	for i := 0; i < 16; i++ {
		d := readDatagram(t, conn)
		if r, ok := d.Body.(message.Relayed); ok {
			return d.Sender, r.Action
		}
	}
	t.Fatalf("no relayed action")
	return 0, nil
}

func TestKeepAliveIsAcknowledged(t *testing.T) {
	testlog.Start(t)
	ts := startServer(t, Config{})
	conn := udpFrom(t, "127.0.0.1")

	sendDatagram(t, conn, ts.udpAddr, 41, message.KeepAlive{})
	d := readDatagram(t, conn)
	resp, ok := d.Body.(message.Response)
	if !ok || resp.ID != 41 || d.Sender != message.ServerSender {
		t.Fatalf("unexpected ack %+v", d)
	}
}

func TestDataFromUnknownSenderIsNotAcknowledged(t *testing.T) {
	testlog.Start(t)
	ts := startServer(t, Config{})
	conn := udpFrom(t, "127.0.0.1")

	sendDatagram(t, conn, ts.udpAddr, 7, message.Data{Action: message.Jump{}})
	sendDatagram(t, conn, ts.udpAddr, 8, message.KeepAlive{})
	d := readDatagram(t, conn)
	resp, ok := d.Body.(message.Response)
	if !ok || resp.ID != 8 {
		t.Fatalf("first reply %+v, want ack for the keepalive only", d)
	}
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, readBufferLen)
	if n, _, err := conn.ReadFromUDPAddrPort(buf); err == nil {
		t.Fatalf("unexpected %d byte reply to undeliverable data", n)
	}
}

func TestActionsRelayedWithinGame(t *testing.T) {
	testlog.Start(t)
	ts := startServer(t, Config{})
	hostConn, resp := join(t, ts.tcpAddr, "127.0.0.1", "host")
	hostID := accepted(t, resp).ClientID
	guestConn, resp := join(t, ts.tcpAddr, "127.0.0.2", "guest")
	guestID := accepted(t, resp).ClientID
	outsiderConn, _ := join(t, ts.tcpAddr, "127.0.0.3", "outsider")

	sendRequest(t, hostConn, message.CreateGame{Name: "arena"})
	game := expect[message.GameCreated](t, guestConn).Game
	sendRequest(t, guestConn, message.EnterGame{GameID: game.ID})
	expect[message.GameEntered](t, hostConn)
	expect[message.GameEntered](t, outsiderConn)

	// The router learns game membership from its own subscription.
	time.Sleep(50 * time.Millisecond)
	hostUDP := udpFrom(t, "127.0.0.1")
	guestUDP := udpFrom(t, "127.0.0.2")
	outsiderUDP := udpFrom(t, "127.0.0.3")
	for i, c := range []*net.UDPConn{hostUDP, guestUDP, outsiderUDP} {
		sendDatagram(t, c, ts.udpAddr, uint16(i), message.KeepAlive{})
		readDatagram(t, c)
	}

	move := message.Move{X: 1, Y: 2, Z: 3}
	sendDatagram(t, hostUDP, ts.udpAddr, 10, message.Data{Action: move})
	sender, action := expectRelay(t, guestUDP)
	if sender != hostID || action != move {
		t.Fatalf("unexpected relay sender=%d action=%#v", sender, action)
	}

	sendDatagram(t, guestUDP, ts.udpAddr, 11, message.Data{Action: message.Attack{Target: hostID}})
	sender, action = expectRelay(t, hostUDP)
	if sender != guestID || action != (message.Attack{Target: hostID}) {
		t.Fatalf("unexpected relay sender=%d action=%#v", sender, action)
	}

	_ = outsiderUDP.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, readBufferLen)
	if n, _, err := outsiderUDP.ReadFromUDPAddrPort(buf); err == nil {
		t.Fatalf("outsider received %d bytes", n)
	}
}

func TestRouterTableFollowsLobby(t *testing.T) {
	testlog.Start(t)
	r := newRouter(nil, nil, zerolog.Nop())
	ip := netip.MustParseAddr("10.1.1.1")
	r.register(4, 2, ip)
	r.byID[4].known = true
	r.register(5, 2, netip.MustParseAddr("10.1.1.2"))

	r.apply(lobby.Event{Kind: lobby.EventInterrupted, ClientID: 4})
	if r.byID[4].known {
		t.Fatalf("interrupted client should need a fresh keep-alive")
	}
	r.apply(lobby.Event{Kind: lobby.EventGameDeleted, GameID: 2})
	if len(r.byID) != 0 || len(r.byIP) != 0 {
		t.Fatalf("game deletion left registrations: %v %v", r.byID, r.byIP)
	}
}
