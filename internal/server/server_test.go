package server

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/protocol/frame"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/message"
	"github.com/Faervan/yggdrasil-sub000/internal/testutil/testlog"
)

const ioTimeout = 2 * time.Second

type testServer struct {
	srv     *Server
	tcpAddr string
	udpAddr netip.AddrPort
}

func startServer(t *testing.T, cfg Config) testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	srv := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln, pc) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Errorf("server did not stop")
		}
	})
	return testServer{
		srv:     srv,
		tcpAddr: ln.Addr().String(),
		udpAddr: pc.LocalAddr().(*net.UDPAddr).AddrPort(),
	}
}

// dialFrom opens a lobby connection whose source is ip, so several sessions
// can share the loopback interface.
func dialFrom(t *testing.T, addr, ip string) net.Conn {
	t.Helper()
	d := net.Dialer{LocalAddr: &net.TCPAddr{IP: net.ParseIP(ip)}, Timeout: ioTimeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial from %s: %v", ip, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	if err := frame.WriteFrame(conn, payload, frame.DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func sendRequest(t *testing.T, conn net.Conn, req message.Request) {
	t.Helper()
	payload, err := message.Encode(req)
	if err != nil {
		t.Fatalf("encode %T: %v", req, err)
	}
	send(t, conn, payload)
}

func join(t *testing.T, addr, ip, name string) (net.Conn, message.HandshakeResponse) {
	t.Helper()
	conn := dialFrom(t, addr, ip)
	payload, err := message.Encode(message.HandshakeRequest{Name: name})
	if err != nil {
		t.Fatalf("encode handshake: %v", err)
	}
	send(t, conn, payload)
	_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))
	raw, err := frame.ReadFrame(conn, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	resp, err := message.ParseHandshakeResponse(raw)
	if err != nil {
		t.Fatalf("decode handshake response: %v", err)
	}
	return conn, resp
}

func accepted(t *testing.T, resp message.HandshakeResponse) message.Accept {
	t.Helper()
	accept, ok := resp.(message.Accept)
	if !ok {
		t.Fatalf("expected Accept, got %#v", resp)
	}
	return accept
}

// expect reads updates until one of type T arrives.
func expect[T message.Update](t *testing.T, conn net.Conn) T {
	t.Helper()
	deadline := time.Now().Add(ioTimeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		raw, err := frame.ReadFrame(conn, frame.DefaultLimits())
		if err != nil {
			var zero T
			t.Fatalf("waiting for %T: %v", zero, err)
		}
		u, err := message.ParseUpdate(raw)
		if err != nil {
			t.Fatalf("decode update: %v", err)
		}
		if v, ok := u.(T); ok {
			return v
		}
	}
}

func TestFirstClientAcceptedIntoEmptyLobby(t *testing.T) {
	testlog.Start(t)
	ts := startServer(t, Config{})
	_, resp := join(t, ts.tcpAddr, "127.0.0.1", "Jon")
	accept := accepted(t, resp)
	if accept.ClientID != 0 || len(accept.Lobby.Clients) != 0 || len(accept.Lobby.Games) != 0 {
		t.Fatalf("unexpected accept %+v", accept)
	}
}

func TestSecondSessionFromSameAddressDenied(t *testing.T) {
	testlog.Start(t)
	ts := startServer(t, Config{})
	join(t, ts.tcpAddr, "127.0.0.1", "a")
	_, resp := join(t, ts.tcpAddr, "127.0.0.1", "b")
	if _, ok := resp.(message.Deny); !ok {
		t.Fatalf("expected Deny, got %#v", resp)
	}
}

func TestInvalidHandshakeDenied(t *testing.T) {
	testlog.Start(t)
	ts := startServer(t, Config{})
	_, resp := join(t, ts.tcpAddr, "127.0.0.1", "")
	if _, ok := resp.(message.Deny); !ok {
		t.Fatalf("expected Deny for empty name, got %#v", resp)
	}
}

func TestLobbyUpdatesReachOtherClients(t *testing.T) {
	testlog.Start(t)
	ts := startServer(t, Config{})
	hostConn, resp := join(t, ts.tcpAddr, "127.0.0.1", "host")
	hostID := accepted(t, resp).ClientID
	guestConn, resp := join(t, ts.tcpAddr, "127.0.0.2", "guest")
	guest := accepted(t, resp)
	if len(guest.Lobby.Clients) != 1 || guest.Lobby.Clients[0].ID != hostID {
		t.Fatalf("guest should see the host in its lobby: %+v", guest.Lobby)
	}
	if got := expect[message.ClientConnected](t, hostConn); got.Client.ID != guest.ClientID {
		t.Fatalf("host saw wrong client %+v", got.Client)
	}

	sendRequest(t, hostConn, message.CreateGame{Name: "arena", MaxPlayers: 4})
	created := expect[message.GameCreated](t, guestConn)
	if created.Game.HostID != hostID || created.Game.Name != "arena" {
		t.Fatalf("unexpected game %+v", created.Game)
	}
	expect[message.GameCreated](t, hostConn)

	sendRequest(t, guestConn, message.EnterGame{GameID: created.Game.ID})
	entered := expect[message.GameEntered](t, hostConn)
	if entered.ClientID != guest.ClientID || entered.GameID != created.Game.ID {
		t.Fatalf("unexpected entry %+v", entered)
	}

	sendRequest(t, guestConn, message.SendChat{Content: "gg", GameOnly: true})
	if chat := expect[message.ChatPosted](t, hostConn); chat.Sender != guest.ClientID || chat.Content != "gg" {
		t.Fatalf("unexpected chat %+v", chat)
	}

	sendRequest(t, hostConn, message.ShareWorld{Scene: `{"seed":7}`})
	if world := expect[message.WorldShared](t, guestConn); world.HostID != hostID || world.Scene != `{"seed":7}` {
		t.Fatalf("unexpected world %+v", world)
	}
}

func TestDroppedConnectionResumesWithinGrace(t *testing.T) {
	testlog.Start(t)
	ts := startServer(t, Config{})
	conn, resp := join(t, ts.tcpAddr, "127.0.0.1", "flaky")
	id := accepted(t, resp).ClientID
	watcher, _ := join(t, ts.tcpAddr, "127.0.0.2", "watcher")

	_ = conn.Close()
	if got := expect[message.ClientInterrupted](t, watcher); got.ClientID != id {
		t.Fatalf("interrupt for wrong client %d", got.ClientID)
	}

	_, resp = join(t, ts.tcpAddr, "127.0.0.1", "flaky")
	if again := accepted(t, resp); again.ClientID != id {
		t.Fatalf("expected resumed id %d, got %d", id, again.ClientID)
	}
	if got := expect[message.ClientReconnected](t, watcher); got.ClientID != id {
		t.Fatalf("reconnect for wrong client %d", got.ClientID)
	}
}

func TestSilentConnectionTimesOut(t *testing.T) {
	testlog.Start(t)
	ts := startServer(t, Config{IdleTimeout: 150 * time.Millisecond})
	quiet, resp := join(t, ts.tcpAddr, "127.0.0.1", "quiet")
	id := accepted(t, resp).ClientID
	watcher, _ := join(t, ts.tcpAddr, "127.0.0.2", "watcher")

	stop := make(chan struct{})
	defer close(stop)
	heartbeat, err := message.Encode(message.Heartbeat{})
	if err != nil {
		t.Fatalf("encode heartbeat: %v", err)
	}
	go func() {
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				_ = frame.WriteFrame(watcher, heartbeat, frame.DefaultLimits())
			}
		}
	}()

	if got := expect[message.ClientInterrupted](t, watcher); got.ClientID != id {
		t.Fatalf("expected %d interrupted, got %d", id, got.ClientID)
	}
	_ = quiet.SetReadDeadline(time.Now().Add(ioTimeout))
	if _, err := frame.ReadFrame(quiet, frame.DefaultLimits()); err == nil {
		t.Fatalf("expected the server to close the idle connection")
	}
}

func TestExplicitDisconnectFreesID(t *testing.T) {
	testlog.Start(t)
	ts := startServer(t, Config{})
	conn, resp := join(t, ts.tcpAddr, "127.0.0.1", "leaver")
	id := accepted(t, resp).ClientID
	watcher, _ := join(t, ts.tcpAddr, "127.0.0.2", "watcher")

	sendRequest(t, conn, message.Disconnect{})
	if got := expect[message.ClientDisconnected](t, watcher); got.ClientID != id {
		t.Fatalf("expected %d disconnected, got %d", id, got.ClientID)
	}
	_, resp = join(t, ts.tcpAddr, "127.0.0.3", "next")
	if next := accepted(t, resp); next.ClientID != id {
		t.Fatalf("expected recycled id %d, got %d", id, next.ClientID)
	}
}
