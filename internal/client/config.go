package client

import (
	"strings"
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/protocol/frame"
	"github.com/Faervan/yggdrasil-sub000/internal/reliable"
)

// Client connection configuration.
type Config struct {
	Name      string
	LobbyAddr string
	// ServerUDPAddr defaults to LobbyAddr.
	ServerUDPAddr string
	// UDPBindAddr is the local UDP endpoint. The lobby connection is dialed
	// from the same IP, which is what the server keys sessions on.
	UDPBindAddr       string
	ConnectTimeout    time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	KeepAliveInterval time.Duration
	QueueSize         int
	Limits            frame.Limits
	Reliable          reliable.Config
}

func DefaultConfig() Config {
	return Config{
		LobbyAddr:         "127.0.0.1:7341",
		UDPBindAddr:       "0.0.0.0:0",
		ConnectTimeout:    5 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		WriteTimeout:      5 * time.Second,
		HeartbeatInterval: 2 * time.Second,
		KeepAliveInterval: time.Second,
		QueueSize:         64,
		Limits:            frame.DefaultLimits(),
		Reliable:          reliable.DefaultConfig(),
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.LobbyAddr) == "" {
		c.LobbyAddr = d.LobbyAddr
	}
	if strings.TrimSpace(c.ServerUDPAddr) == "" {
		c.ServerUDPAddr = c.LobbyAddr
	}
	if strings.TrimSpace(c.UDPBindAddr) == "" {
		c.UDPBindAddr = d.UDPBindAddr
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = d.KeepAliveInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = d.Limits
	}
	c.Reliable = c.Reliable.WithDefaults()
	return c
}
