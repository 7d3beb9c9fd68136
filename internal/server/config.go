package server

import (
	"strings"
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/lobby"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/frame"
)

// Lobby server runtime configuration.
type Config struct {
	Name      string
	LobbyAddr string
	// UDPAddr defaults to LobbyAddr; the game port is shared by both
	// protocols.
	UDPAddr string
	// AdminAddr enables the HTTP admin surface when set.
	AdminAddr        string
	CorsOrigins      []string
	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Limits           frame.Limits
	Lobby            lobby.Config
}

func DefaultConfig() Config {
	return Config{
		Name:             "yggdrasil",
		LobbyAddr:        ":7341",
		IdleTimeout:      6 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		Limits:           frame.DefaultLimits(),
		Lobby:            lobby.DefaultConfig(),
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = d.Name
	}
	if strings.TrimSpace(c.LobbyAddr) == "" {
		c.LobbyAddr = d.LobbyAddr
	}
	if strings.TrimSpace(c.UDPAddr) == "" {
		c.UDPAddr = c.LobbyAddr
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = d.Limits
	}
	c.Lobby = c.Lobby.WithDefaults()
	return c
}
