package config

import (
	"github.com/Faervan/yggdrasil-sub000/internal/lobby"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/frame"
	"github.com/Faervan/yggdrasil-sub000/internal/server"
)

// Runtime converts the file form into the server's runtime configuration.
func (c ServerConfig) Runtime() server.Config {
	cfg := server.DefaultConfig()
	cfg.Name = c.Name
	cfg.LobbyAddr = c.LobbyAddr
	cfg.UDPAddr = c.UDPAddr
	cfg.AdminAddr = c.AdminAddr
	cfg.CorsOrigins = append([]string(nil), c.CorsOrigins...)
	cfg.IdleTimeout = c.IdleTimeout.Duration
	cfg.HandshakeTimeout = c.HandshakeTimeout.Duration
	cfg.Limits = frame.Limits{MaxPayloadBytes: c.MaxFrameBytes}
	cfg.Lobby = lobby.Config{
		GraceWindow: c.GraceWindow.Duration,
		EventBuffer: c.EventBuffer,
	}
	return cfg
}
