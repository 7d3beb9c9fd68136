package client

import (
	"errors"
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/observability"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/message"
	"github.com/Faervan/yggdrasil-sub000/internal/reliable"
)

// udpLoop is the only goroutine touching the supervisor. It runs one timer
// against the supervisor's earliest deadline.
func (c *Connection) udpLoop() {
	defer c.wg.Done()

	packets := make(chan []byte, c.cfg.QueueSize)
	c.wg.Add(1)
	go c.udpReadLoop(packets)

	sup := reliable.New(c.cfg.Reliable)
	resend := time.NewTimer(time.Hour)
	resend.Stop()
	defer resend.Stop()
	rearm := func() {
		if _, at, ok := sup.Next(); ok {
			resend.Reset(time.Until(at))
			return
		}
		resend.Stop()
	}

	keepAlive := time.NewTicker(c.cfg.KeepAliveInterval)
	defer keepAlive.Stop()

	send := func(body message.ClientBody, kind string) {
		payload, err := message.Encode(body)
		if err != nil {
			c.logger.Warn().Err(err).Msg("client.udp encode failed")
			return
		}
		env, err := sup.Send(payload)
		if err != nil {
			c.logger.Warn().Err(err).Msg("client.udp send refused")
			return
		}
		c.transmit(env, kind)
		rearm()
	}

	send(message.KeepAlive{}, "keepalive")
	for {
		select {
		case <-c.closing:
			return
		case a := <-c.outActions:
			send(message.Data{Action: a}, "data")
		case <-keepAlive.C:
			send(message.KeepAlive{}, "keepalive")
		case raw := <-packets:
			c.handleDatagram(sup, raw)
			rearm()
		case <-resend.C:
			now := time.Now()
			for {
				id, at, ok := sup.Next()
				if !ok || at.After(now) {
					break
				}
				env, err := sup.Resend(id)
				if errors.Is(err, reliable.ErrEvicted) {
					observability.RecordResend(true)
					c.logger.Warn().Uint16("seq", id).Msg("client.udp datagram evicted after resend limit")
					continue
				}
				if err != nil {
					break
				}
				observability.RecordResend(false)
				c.transmit(env, "resend")
			}
			rearm()
		}
	}
}

func (c *Connection) handleDatagram(sup *reliable.Supervisor, raw []byte) {
	dg, err := message.ParseServerDatagram(raw)
	if err != nil {
		observability.RecordDatagram("in", "malformed")
		c.logger.Debug().Err(err).Int("bytes", len(raw)).Msg("client.udp dropped malformed datagram")
		return
	}
	switch body := dg.Body.(type) {
	case message.Response:
		observability.RecordDatagram("in", "response")
		if sup.Received(body.ID) {
			rtt := sup.RTT()
			c.rtt.Store(int64(rtt))
			observability.ObserveRTT(rtt)
		}
	case message.Relayed:
		observability.RecordDatagram("in", "relayed")
		select {
		case c.actions <- RelayedAction{Sender: dg.Sender, Action: body.Action}:
		default:
			c.logger.Warn().Uint16("sender", dg.Sender).Msg("client.udp relayed action dropped")
		}
	}
}

func (c *Connection) transmit(env reliable.Envelope, kind string) {
	buf := message.AppendClientDatagram(make([]byte, 0, message.DatagramHeaderLen+3+len(env.Payload)), env.ID, env.Resend, env.Payload)
	if _, err := c.udp.WriteToUDPAddrPort(buf, c.server); err != nil {
		c.logger.Debug().Err(err).Str("kind", kind).Msg("client.udp write failed")
		return
	}
	observability.RecordDatagram("out", kind)
}

// udpReadLoop forwards datagrams from the server's address. It ends when
// the socket is closed.
func (c *Connection) udpReadLoop(out chan<- []byte) {
	defer c.wg.Done()
	buf := make([]byte, message.MaxDatagramLen)
	for {
		n, from, err := c.udp.ReadFromUDPAddrPort(buf)
		if err != nil {
			return
		}
		if from.Addr().Unmap() != c.server.Addr().Unmap() {
			continue
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		select {
		case out <- raw:
		case <-c.closing:
			return
		}
	}
}
