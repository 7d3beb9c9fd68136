package server

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/lobby"
	"github.com/Faervan/yggdrasil-sub000/internal/observability"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/frame"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/message"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// session is one connection past its handshake.
type session struct {
	s      *Server
	conn   net.Conn
	ip     netip.Addr
	id     uint16
	sub    *lobby.Subscription
	logger zerolog.Logger
}

// handleConn runs one lobby connection: handshake, then the active loop
// until the peer leaves, goes quiet, or the server stops.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	if ctx.Err() != nil {
		return
	}

	ip := peerIP(conn.RemoteAddr())
	logger := s.logger.With().
		Str("conn_id", uuid.NewString()).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	observability.ConnectionOpened()
	active := s.activeConns.Add(1)
	logger.Debug().Int64("active_conns", active).Msg("server.handleConn opened")
	defer func() {
		observability.ConnectionClosed()
		remaining := s.activeConns.Add(-1)
		logger.Debug().Int64("active_conns", remaining).Msg("server.handleConn closed")
	}()

	sub, err := s.manager.Subscribe(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("server.handleConn subscribe failed")
		return
	}
	defer sub.Close()

	id, ok := s.handshake(ctx, conn, ip, sub, logger)
	if !ok {
		return
	}
	sess := &session{
		s:      s,
		conn:   conn,
		ip:     ip,
		id:     id,
		sub:    sub,
		logger: logger.With().Uint16("client_id", id).Logger(),
	}
	sess.run(ctx)
}

// handshake reads the client's name and waits for the manager's verdict on
// it. It reports the assigned id once Accept has been written.
func (s *Server) handshake(
	ctx context.Context,
	conn net.Conn,
	ip netip.Addr,
	sub *lobby.Subscription,
	logger zerolog.Logger,
) (uint16, bool) {
	_ = conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	payload, err := frame.ReadFrame(conn, s.cfg.Limits)
	if err != nil {
		logger.Warn().Err(err).Msg("server.handshake read failed")
		return 0, false
	}
	req, err := message.ParseHandshakeRequest(payload)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		logger.Warn().Err(err).Msg("server.handshake invalid request")
		_ = s.writeMessage(conn, message.Deny{Reason: "invalid handshake"})
		return 0, false
	}

	verdict := make(chan lobby.Event, 1)
	in := lobby.Connected{Addr: ip, Name: req.Name, Token: uuid.New(), Reply: verdict}
	if err := s.manager.Submit(ctx, in); err != nil {
		return 0, false
	}
	timeout := time.NewTimer(s.cfg.HandshakeTimeout)
	defer timeout.Stop()

	var ev lobby.Event
	select {
	case ev = <-verdict:
	case <-timeout.C:
		logger.Warn().Dur("timeout", s.cfg.HandshakeTimeout).Msg("server.handshake no verdict")
		go s.releaseAbandoned(ip, verdict, logger)
		return 0, false
	case <-ctx.Done():
		go s.releaseAbandoned(ip, verdict, logger)
		return 0, false
	}

	if ev.Kind == lobby.EventDenied {
		logger.Warn().Str("reason", ev.Reason).Msg("server.handshake denied")
		_ = s.writeMessage(conn, message.Deny{Reason: ev.Reason})
		return 0, false
	}
	skipThrough(sub, in.Token)
	accept := message.Accept{
		ClientID: ev.ClientID,
		Lobby:    s.manager.Snapshot().Without(ev.ClientID),
	}
	if err := s.writeMessage(conn, accept); err != nil {
		logger.Warn().Err(err).Msg("server.handshake write accept failed")
		s.submit(lobby.ConnectionInterrupt{Addr: ip})
		return 0, false
	}
	_ = conn.SetDeadline(time.Time{})
	logger.Info().
		Uint16("client_id", ev.ClientID).
		Str("name", req.Name).
		Bool("resumed", ev.Kind == lobby.EventReconnected).
		Msg("server.handshake accepted")
	return ev.ClientID, true
}

// skipThrough discards queued events up to and including the broadcast
// copy of the handshake verdict. They are already part of the snapshot
// sent with Accept.
func skipThrough(sub *lobby.Subscription, token uuid.UUID) {
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok || ev.Token == token {
				return
			}
		default:
			return
		}
	}
}

// releaseAbandoned waits out a verdict nobody is listening for. A session
// the manager activated for the departed connection is interrupted so the
// address can resume it within the grace window.
func (s *Server) releaseAbandoned(ip netip.Addr, verdict <-chan lobby.Event, logger zerolog.Logger) {
	select {
	case ev := <-verdict:
		if ev.Kind == lobby.EventConnected || ev.Kind == lobby.EventReconnected {
			logger.Info().Uint16("client_id", ev.ClientID).Msg("server.handshake releasing abandoned session")
			s.submit(lobby.ConnectionInterrupt{Addr: ip})
		}
	case <-s.manager.Done():
	}
}

func (ss *session) run(ctx context.Context) {
	requests := make(chan message.Request)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go ss.readLoop(requests, readErr, stop)

	idle := time.NewTimer(ss.s.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			ss.logger.Info().Err(err).Msg("server.session connection lost")
			ss.s.submit(lobby.ConnectionInterrupt{Addr: ss.ip})
			return
		case <-idle.C:
			ss.logger.Warn().Dur("idle", ss.s.cfg.IdleTimeout).Msg("server.session idle timeout")
			ss.s.submit(lobby.ConnectionInterrupt{Addr: ss.ip})
			return
		case req := <-requests:
			idle.Reset(ss.s.cfg.IdleTimeout)
			if done := ss.handleRequest(ctx, req); done {
				return
			}
		case ev, ok := <-ss.sub.C:
			if !ok {
				return
			}
			if !ev.DeliverTo(ss.id) {
				continue
			}
			if err := ss.s.writeMessage(ss.conn, ev.Update); err != nil {
				ss.logger.Info().Err(err).Msg("server.session write failed")
				ss.s.submit(lobby.ConnectionInterrupt{Addr: ss.ip})
				return
			}
			if ev.Kind == lobby.EventDisconnected && ev.ClientID == ss.id {
				ss.logger.Warn().Msg("server.session removed by lobby")
				return
			}
		}
	}
}

// readLoop decodes framed requests. Undecodable frames are dropped; framing
// or socket errors end the loop.
func (ss *session) readLoop(out chan<- message.Request, errc chan<- error, stop <-chan struct{}) {
	for {
		payload, err := frame.ReadFrame(ss.conn, ss.s.cfg.Limits)
		if err != nil {
			errc <- err
			return
		}
		req, err := message.ParseRequest(payload)
		if err != nil {
			ss.logger.Warn().Err(err).Int("bytes", len(payload)).Msg("server.session dropped malformed request")
			continue
		}
		select {
		case out <- req:
		case <-stop:
			return
		}
	}
}

// handleRequest maps a request onto a lobby intent. It reports true when
// the session should end.
func (ss *session) handleRequest(ctx context.Context, req message.Request) bool {
	var in lobby.Intent
	switch r := req.(type) {
	case message.Heartbeat:
		return false
	case message.Disconnect:
		ss.logger.Info().Msg("server.session client disconnected")
		ss.s.submit(lobby.Disconnected{Addr: ss.ip})
		return true
	case message.CreateGame:
		in = lobby.GameCreation{Addr: ss.ip, Name: r.Name, MaxPlayers: r.MaxPlayers, Password: r.Password}
	case message.DeleteGame:
		in = lobby.GameDeletion{Addr: ss.ip}
	case message.EnterGame:
		in = lobby.GameEntry{Addr: ss.ip, GameID: r.GameID, Password: r.Password}
	case message.ExitGame:
		in = lobby.GameExit{Addr: ss.ip}
	case message.ShareWorld:
		in = lobby.GameWorld{Addr: ss.ip, Scene: r.Scene}
	case message.SendChat:
		in = lobby.Chat{Addr: ss.ip, Content: r.Content, GameOnly: r.GameOnly}
	default:
		return false
	}
	ss.logger.Debug().Str("request", message.RequestName(req)).Msg("server.session request")
	return ss.s.manager.Submit(ctx, in) != nil
}

// submit delivers teardown intents even while the server context is being
// cancelled.
func (s *Server) submit(in lobby.Intent) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.manager.Submit(ctx, in); err != nil {
		s.logger.Debug().Err(err).Msg("server.submit dropped intent")
	}
}

func (s *Server) writeMessage(conn net.Conn, m wire.Encoder) error {
	payload, err := message.Encode(m)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return frame.WriteFrame(conn, payload, s.cfg.Limits)
}
