package server

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/lobby"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/frame"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/message"
	"github.com/Faervan/yggdrasil-sub000/internal/testutil/testlog"
)

// pipeHandshake runs the server side of a handshake over an in-memory pipe
// and returns what the client read back, if anything.
func pipeHandshake(t *testing.T, s *Server, ip netip.Addr, sub *lobby.Subscription, name string) (uint16, bool, message.HandshakeResponse) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	payload, err := message.Encode(message.HandshakeRequest{Name: name})
	if err != nil {
		t.Fatalf("encode handshake: %v", err)
	}
	respCh := make(chan message.HandshakeResponse, 1)
	go func() {
		defer close(respCh)
		if err := frame.WriteFrame(clientSide, payload, frame.DefaultLimits()); err != nil {
			return
		}
		raw, err := frame.ReadFrame(clientSide, frame.DefaultLimits())
		if err != nil {
			return
		}
		if resp, err := message.ParseHandshakeResponse(raw); err == nil {
			respCh <- resp
		}
	}()

	id, ok := s.handshake(context.Background(), serverSide, ip, sub, s.logger)
	_ = serverSide.Close()
	return id, ok, <-respCh
}

func TestHandshakeWithoutVerdictReleasesSession(t *testing.T) {
	testlog.Start(t)
	s := New(Config{HandshakeTimeout: 100 * time.Millisecond})
	ip := netip.MustParseAddr("127.0.0.40")

	// The manager is not running yet, so the verdict cannot arrive in time.
	if _, ok, resp := pipeHandshake(t, s, ip, nil, "late"); ok || resp != nil {
		t.Fatalf("handshake without verdict: ok=%v resp=%#v", ok, resp)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.manager.Run(ctx) }()

	deadline := time.Now().Add(ioTimeout)
	for {
		clients := s.manager.Snapshot().Lobby.Clients
		if len(clients) == 1 && clients[0].Status.Idle {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("abandoned session never went idle: %+v", clients)
		}
		time.Sleep(10 * time.Millisecond)
	}

	sub, err := s.manager.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	id, ok, resp := pipeHandshake(t, s, ip, sub, "late")
	if !ok {
		t.Fatalf("retry from the same address refused: %#v", resp)
	}
	if accept := accepted(t, resp); accept.ClientID != id || id != 0 {
		t.Fatalf("retry resumed id %d (accept %d), want 0", id, accept.ClientID)
	}
}

func TestHandshakesAnsweredWhileEventsAreDropped(t *testing.T) {
	testlog.Start(t)
	ts := startServer(t, Config{
		HandshakeTimeout: time.Second,
		Lobby:            lobby.Config{EventBuffer: 1},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var spam sync.WaitGroup
	for i := 0; i < 4; i++ {
		spam.Add(1)
		go func() {
			defer spam.Done()
			for ctx.Err() == nil {
				_ = ts.srv.Manager().Command(ctx, lobby.Command{Op: lobby.PostNotice, Text: "noise"})
			}
		}()
	}
	defer spam.Wait()
	defer cancel()

	const clients = 20
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		ip := fmt.Sprintf("127.0.0.%d", 10+i)
		go func() { errs <- tryJoin(ts.tcpAddr, ip) }()
	}
	for i := 0; i < clients; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("handshake: %v", err)
		}
	}
}

// tryJoin is join without the testing.T, for use off the test goroutine.
func tryJoin(addr, ip string) error {
	d := net.Dialer{LocalAddr: &net.TCPAddr{IP: net.ParseIP(ip)}, Timeout: ioTimeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	payload, err := message.Encode(message.HandshakeRequest{Name: ip})
	if err != nil {
		return err
	}
	_ = conn.SetDeadline(time.Now().Add(2 * ioTimeout))
	if err := frame.WriteFrame(conn, payload, frame.DefaultLimits()); err != nil {
		return err
	}
	raw, err := frame.ReadFrame(conn, frame.DefaultLimits())
	if err != nil {
		return fmt.Errorf("%s: no reply: %w", ip, err)
	}
	resp, err := message.ParseHandshakeResponse(raw)
	if err != nil {
		return err
	}
	if _, ok := resp.(message.Accept); !ok {
		return fmt.Errorf("%s: got %#v", ip, resp)
	}
	return nil
}
