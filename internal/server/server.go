// Package server hosts the lobby: a TCP accept loop with one handler per
// connection, the UDP datagram router, and an optional admin HTTP surface.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/lobby"
	"github.com/Faervan/yggdrasil-sub000/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PacketConn is the UDP socket surface the router needs; *net.UDPConn
// satisfies it.
type PacketConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	Close() error
}

type Server struct {
	cfg     Config
	manager *lobby.Manager
	admin   *gin.Engine
	started time.Time
	logger  zerolog.Logger

	connsMu     sync.Mutex
	conns       map[net.Conn]struct{}
	activeConns atomic.Int64
}

func New(cfg Config) *Server {
	cfg = cfg.WithDefaults()
	observability.RegisterMetrics()
	s := &Server{
		cfg:     cfg,
		manager: lobby.NewManager(cfg.Lobby),
		started: time.Now(),
		logger:  log.With().Str("component", "server").Str("server", cfg.Name).Logger(),
		conns:   make(map[net.Conn]struct{}),
	}
	s.admin = s.newAdminRouter()
	return s
}

func (s *Server) Manager() *lobby.Manager {
	return s.manager
}

// AdminHandler serves the admin HTTP routes.
func (s *Server) AdminHandler() http.Handler {
	return s.admin
}

// Run binds the configured addresses and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.LobbyAddr)
	if err != nil {
		return err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", s.cfg.UDPAddr)
	if err != nil {
		_ = ln.Close()
		return err
	}
	pc, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		_ = ln.Close()
		return err
	}
	s.logger.Info().
		Str("tcp", ln.Addr().String()).
		Str("udp", pc.LocalAddr().String()).
		Msg("server.Run listening")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	adminErr := make(chan error, 1)
	if s.cfg.AdminAddr != "" {
		httpSrv := &http.Server{Addr: s.cfg.AdminAddr, Handler: s.admin, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
		go func() {
			s.logger.Info().Str("addr", s.cfg.AdminAddr).Msg("server.Run admin listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				adminErr <- err
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln, pc)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		s.logger.Error().Err(err).Msg("server.Run admin listener failed")
		cancel()
		return errors.Join(err, <-serveErr)
	}
}

// Serve runs the lobby on existing sockets. Both are closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener, pc PacketConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.manager.Run(ctx)
	}()

	sub, err := s.manager.Subscribe(ctx)
	if err != nil {
		_ = ln.Close()
		_ = pc.Close()
		cancel()
		wg.Wait()
		return err
	}
	router := newRouter(pc, sub, s.logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		router.Run(ctx)
	}()

	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
		_ = pc.Close()
	}()
	defer wg.Wait()
	defer cancel()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// peerIP is the session identity of a remote endpoint.
func peerIP(addr net.Addr) netip.Addr {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.AddrPort().Addr().Unmap()
	case *net.UDPAddr:
		return a.AddrPort().Addr().Unmap()
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.Addr{}
	}
	return ap.Addr().Unmap()
}
