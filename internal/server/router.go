package server

import (
	"context"
	"errors"
	"net"
	"net/netip"

	"github.com/Faervan/yggdrasil-sub000/internal/lobby"
	"github.com/Faervan/yggdrasil-sub000/internal/observability"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/message"
	"github.com/rs/zerolog"
)

const readBufferLen = 2048

type packet struct {
	from netip.AddrPort
	data []byte
}

// registration is a client in a game. addr is known once a keep-alive from
// the client's IP has been seen.
type registration struct {
	clientID uint16
	gameID   uint16
	ip       netip.Addr
	addr     netip.AddrPort
	known    bool
}

// Router relays game actions between members of the same game and
// acknowledges every client datagram. Its table is kept in step with the
// lobby through a subscription.
type Router struct {
	conn   PacketConn
	sub    *lobby.Subscription
	logger zerolog.Logger

	byID map[uint16]*registration
	byIP map[netip.Addr]uint16
}

func newRouter(conn PacketConn, sub *lobby.Subscription, logger zerolog.Logger) *Router {
	return &Router{
		conn:   conn,
		sub:    sub,
		logger: logger.With().Str("subsystem", "router").Logger(),
		byID:   make(map[uint16]*registration),
		byIP:   make(map[netip.Addr]uint16),
	}
}

// Run owns the registration table until ctx is cancelled or the lobby stops.
func (r *Router) Run(ctx context.Context) {
	defer r.sub.Close()
	packets := make(chan packet, 256)
	go r.readLoop(ctx, packets)

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-packets:
			r.handleDatagram(p)
		case ev, ok := <-r.sub.C:
			if !ok {
				return
			}
			r.apply(ev)
		}
	}
}

func (r *Router) readLoop(ctx context.Context, out chan<- packet) {
	buf := make([]byte, readBufferLen)
	for {
		n, from, err := r.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Warn().Err(err).Msg("server.router read failed")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case out <- packet{from: from, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Router) handleDatagram(p packet) {
	d, err := message.ParseClientDatagram(p.data)
	if err != nil {
		observability.RecordDatagram("in", "malformed")
		r.logger.Debug().Err(err).Str("from", p.from.String()).Msg("server.router dropped datagram")
		return
	}
	ip := p.from.Addr().Unmap()
	var reg *registration
	if id, ok := r.byIP[ip]; ok {
		reg = r.byID[id]
	}

	switch body := d.Body.(type) {
	case message.KeepAlive:
		observability.RecordDatagram("in", "keepalive")
		r.ack(p.from, d.Seq)
		if reg != nil && (!reg.known || reg.addr != p.from) {
			reg.addr = p.from
			reg.known = true
			r.logger.Debug().Uint16("client_id", reg.clientID).Str("addr", p.from.String()).Msg("server.router endpoint learned")
		}
	case message.Data:
		observability.RecordDatagram("in", "data")
		// Unacknowledged data is resent by the client, so it can still be
		// relayed once a keepalive has made the sender known.
		if reg == nil || !reg.known {
			return
		}
		r.ack(p.from, d.Seq)
		out, err := message.MarshalServerDatagram(reg.clientID, message.Relayed{Action: body.Action})
		if err != nil {
			r.logger.Warn().Err(err).Msg("server.router encode relay failed")
			return
		}
		for _, other := range r.byID {
			if other.gameID != reg.gameID || other.clientID == reg.clientID || !other.known {
				continue
			}
			r.write(out, other.addr, "relayed")
		}
	}
}

func (r *Router) ack(to netip.AddrPort, seq uint16) {
	out, err := message.MarshalServerDatagram(message.ServerSender, message.Response{ID: seq})
	if err != nil {
		return
	}
	r.write(out, to, "response")
}

func (r *Router) write(b []byte, to netip.AddrPort, kind string) {
	if _, err := r.conn.WriteToUDPAddrPort(b, to); err != nil {
		r.logger.Debug().Err(err).Str("to", to.String()).Msg("server.router write failed")
		return
	}
	observability.RecordDatagram("out", kind)
}

func (r *Router) apply(ev lobby.Event) {
	switch ev.Kind {
	case lobby.EventGameCreated, lobby.EventGameEntered:
		r.register(ev.ClientID, ev.GameID, ev.Origin)
	case lobby.EventGameExited, lobby.EventDisconnected:
		r.unregister(ev.ClientID)
	case lobby.EventGameDeleted:
		for id, reg := range r.byID {
			if reg.gameID == ev.GameID {
				r.unregister(id)
			}
		}
	case lobby.EventInterrupted, lobby.EventReconnected:
		// The client may come back from a new port.
		if reg, ok := r.byID[ev.ClientID]; ok {
			reg.known = false
		}
	}
}

func (r *Router) register(clientID, gameID uint16, ip netip.Addr) {
	if !ip.IsValid() {
		return
	}
	ip = ip.Unmap()
	r.unregister(clientID)
	r.byID[clientID] = &registration{clientID: clientID, gameID: gameID, ip: ip}
	r.byIP[ip] = clientID
}

func (r *Router) unregister(clientID uint16) {
	reg, ok := r.byID[clientID]
	if !ok {
		return
	}
	delete(r.byID, clientID)
	if r.byIP[reg.ip] == clientID {
		delete(r.byIP, reg.ip)
	}
}
