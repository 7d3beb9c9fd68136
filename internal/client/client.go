// Package client connects to a lobby server. Build performs the handshake;
// the returned Connection runs the lobby stream over TCP and game actions
// over reliable UDP until it is closed or the server goes away.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/protocol/frame"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/message"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RelayedAction is a game action performed by another member of the game.
type RelayedAction struct {
	Sender uint16
	Action message.Action
}

type Connection struct {
	cfg    Config
	id     uint16
	view   lobbyView
	tcp    net.Conn
	udp    *net.UDPConn
	server netip.AddrPort
	logger zerolog.Logger

	requests      chan message.Request
	outActions    chan message.Action
	updates       chan message.Update
	actions       chan RelayedAction
	worldRequests chan uint16
	rtt           atomic.Int64

	closeOnce sync.Once
	closing   chan struct{}
	notify    bool
	err       error
	writerWG  sync.WaitGroup
	wg        sync.WaitGroup
	done      chan struct{}
}

// Build dials the lobby, performs the handshake, and starts the connection
// loops once the server accepts.
func Build(ctx context.Context, cfg Config) (*Connection, error) {
	cfg = cfg.WithDefaults()
	if err := (message.HandshakeRequest{Name: cfg.Name}).Validate(); err != nil {
		return nil, err
	}
	bind, err := net.ResolveUDPAddr("udp", cfg.UDPBindAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve udp bind: %w", ErrNetwork, err)
	}
	serverUDP, err := net.ResolveUDPAddr("udp", cfg.ServerUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve server udp: %w", ErrNetwork, err)
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	if bind.IP != nil && !bind.IP.IsUnspecified() {
		dialer.LocalAddr = &net.TCPAddr{IP: bind.IP}
	}
	tcp, err := dialer.DialContext(ctx, "tcp", cfg.LobbyAddr)
	if err != nil {
		return nil, classify("dial lobby", err)
	}
	udp, err := net.ListenUDP("udp", bind)
	if err != nil {
		_ = tcp.Close()
		return nil, fmt.Errorf("%w: bind udp: %w", ErrNetwork, err)
	}

	accept, err := handshake(ctx, tcp, cfg)
	if err != nil {
		_ = tcp.Close()
		_ = udp.Close()
		return nil, err
	}

	c := &Connection{
		cfg:           cfg,
		id:            accept.ClientID,
		tcp:           tcp,
		udp:           udp,
		server:        serverUDP.AddrPort(),
		logger:        log.With().Str("component", "client").Uint16("client_id", accept.ClientID).Logger(),
		requests:      make(chan message.Request, cfg.QueueSize),
		outActions:    make(chan message.Action, cfg.QueueSize),
		updates:       make(chan message.Update, cfg.QueueSize),
		actions:       make(chan RelayedAction, cfg.QueueSize),
		worldRequests: make(chan uint16, cfg.QueueSize),
		closing:       make(chan struct{}),
		done:          make(chan struct{}),
	}
	c.view.lobby = accept.Lobby
	c.rtt.Store(int64(cfg.Reliable.InitialRTT))
	c.logger.Info().
		Str("lobby", cfg.LobbyAddr).
		Str("udp", udp.LocalAddr().String()).
		Int("clients", len(accept.Lobby.Clients)).
		Int("games", len(accept.Lobby.Games)).
		Msg("client.Build accepted")

	c.writerWG.Add(1)
	go c.tcpWriteLoop()
	c.wg.Add(2)
	go c.tcpReadLoop()
	go c.udpLoop()
	return c, nil
}

func handshake(ctx context.Context, conn net.Conn, cfg Config) (message.Accept, error) {
	deadline := time.Now().Add(cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	payload, err := message.Encode(message.HandshakeRequest{Name: cfg.Name})
	if err != nil {
		return message.Accept{}, err
	}
	if err := frame.WriteFrame(conn, payload, cfg.Limits); err != nil {
		return message.Accept{}, classify("write handshake", err)
	}
	raw, err := frame.ReadFrame(conn, cfg.Limits)
	if err != nil {
		if errors.Is(err, frame.ErrPayloadTooLarge) || errors.Is(err, frame.ErrEmptyFrame) {
			return message.Accept{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
		}
		return message.Accept{}, classify("read handshake", err)
	}
	resp, err := message.ParseHandshakeResponse(raw)
	if err != nil {
		return message.Accept{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	switch r := resp.(type) {
	case message.Accept:
		return r, nil
	case message.Deny:
		return message.Accept{}, &DeniedError{Reason: r.Reason}
	default:
		return message.Accept{}, ErrInvalidResponse
	}
}

func (c *Connection) ClientID() uint16 {
	return c.id
}

// Lobby returns the current lobby as seen by this client. The client itself
// is not listed.
func (c *Connection) Lobby() message.Lobby {
	return c.view.snapshot()
}

// Send queues a lobby request.
func (c *Connection) Send(ctx context.Context, req message.Request) error {
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.requests <- req:
		return nil
	case <-c.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendAction queues a game action for reliable delivery to the server.
func (c *Connection) SendAction(ctx context.Context, a message.Action) error {
	if a == nil {
		return message.ErrNilAction
	}
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.outActions <- a:
		return nil
	case <-c.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Updates delivers lobby updates in arrival order. It is closed when the
// connection ends.
func (c *Connection) Updates() <-chan message.Update {
	return c.updates
}

// Actions delivers actions relayed from other members of the current game.
func (c *Connection) Actions() <-chan RelayedAction {
	return c.actions
}

// WorldRequests yields the ids of clients that entered a game this client
// hosts; the host answers with a ShareWorld request.
func (c *Connection) WorldRequests() <-chan uint16 {
	return c.worldRequests
}

// RTT is the current round-trip estimate of the UDP path.
func (c *Connection) RTT() time.Duration {
	return time.Duration(c.rtt.Load())
}

// Done is closed once every loop has stopped.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended. It is nil while the connection runs.
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close tells the server the client is leaving and releases both sockets.
func (c *Connection) Close() error {
	c.shutdown(ErrClosed, true)
	<-c.done
	return nil
}

func (c *Connection) shutdown(err error, notify bool) {
	c.closeOnce.Do(func() {
		c.err = err
		c.notify = notify
		close(c.closing)
		go c.finish()
	})
}

func (c *Connection) finish() {
	c.writerWG.Wait()
	_ = c.tcp.Close()
	_ = c.udp.Close()
	c.wg.Wait()
	close(c.updates)
	close(c.actions)
	close(c.worldRequests)
	if errors.Is(c.err, ErrClosed) {
		c.logger.Info().Msg("client.Connection closed")
	} else {
		c.logger.Warn().Err(c.err).Msg("client.Connection lost")
	}
	close(c.done)
}
