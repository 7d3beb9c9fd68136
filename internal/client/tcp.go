package client

import (
	"errors"
	"io"
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/protocol/frame"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/message"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/wire"
)

// tcpReadLoop applies every lobby update to the local view before handing
// it to the application.
func (c *Connection) tcpReadLoop() {
	defer c.wg.Done()
	for {
		payload, err := frame.ReadFrame(c.tcp, c.cfg.Limits)
		if err != nil {
			select {
			case <-c.closing:
			default:
				if errors.Is(err, io.EOF) {
					c.logger.Info().Msg("client.tcp server closed the connection")
				}
				c.shutdown(classify("read lobby", err), false)
			}
			return
		}
		u, err := message.ParseUpdate(payload)
		if err != nil {
			c.logger.Warn().Err(err).Int("bytes", len(payload)).Msg("client.tcp dropped malformed update")
			continue
		}
		c.view.apply(u)
		if entered, ok := u.(message.GameEntered); ok && entered.ClientID != c.id {
			if gameID, hosting := c.view.hostedBy(c.id); hosting && gameID == entered.GameID {
				select {
				case c.worldRequests <- entered.ClientID:
				default:
					c.logger.Warn().Uint16("peer", entered.ClientID).Msg("client.tcp world request dropped")
				}
			}
		}
		select {
		case c.updates <- u:
		case <-c.closing:
			return
		}
	}
}

// tcpWriteLoop owns writes on the lobby connection. A heartbeat goes out
// whenever the interval passes so the server does not time the session out.
func (c *Connection) tcpWriteLoop() {
	defer c.writerWG.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closing:
			if c.notify {
				if err := c.write(message.Disconnect{}); err != nil {
					c.logger.Debug().Err(err).Msg("client.tcp disconnect not delivered")
				}
			}
			return
		case req := <-c.requests:
			if err := c.write(req); err != nil {
				c.shutdown(classify("write "+message.RequestName(req), err), false)
				return
			}
			ticker.Reset(c.cfg.HeartbeatInterval)
		case <-ticker.C:
			if err := c.write(message.Heartbeat{}); err != nil {
				c.shutdown(classify("write heartbeat", err), false)
				return
			}
		}
	}
}

func (c *Connection) write(m wire.Encoder) error {
	payload, err := message.Encode(m)
	if err != nil {
		return err
	}
	_ = c.tcp.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return frame.WriteFrame(c.tcp, payload, c.cfg.Limits)
}
