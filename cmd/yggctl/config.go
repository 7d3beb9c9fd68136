package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Faervan/yggdrasil-sub000/internal/client"
)

type fileConfig struct {
	Name              string `toml:"name"`
	LobbyAddr         string `toml:"lobby_addr"`
	UDPAddr           string `toml:"udp_addr"`
	UDPBind           string `toml:"udp_bind"`
	ConnectTimeout    string `toml:"connect_timeout"`
	HandshakeTimeout  string `toml:"handshake_timeout"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	KeepAliveInterval string `toml:"keepalive_interval"`
	MaxResends        int    `toml:"max_resends"`
	QueueSize         int    `toml:"queue_size"`
	World             string `toml:"world"`
}

// cliConfig is the connection config plus what the shell itself needs.
type cliConfig struct {
	Client client.Config
	// World is the scene shared with players entering a hosted game.
	World string
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		Client: client.DefaultConfig(),
		World:  "meadow",
	}
}

func loadCLIConfig(path string) (cliConfig, error) {
	cfg := defaultCLIConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cliConfig{}, fmt.Errorf("load yggctl config: %w", err)
	}

	if meta.IsDefined("name") {
		cfg.Client.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("lobby_addr") {
		cfg.Client.LobbyAddr = strings.TrimSpace(raw.LobbyAddr)
	}
	if meta.IsDefined("udp_addr") {
		cfg.Client.ServerUDPAddr = strings.TrimSpace(raw.UDPAddr)
	}
	if meta.IsDefined("udp_bind") {
		cfg.Client.UDPBindAddr = strings.TrimSpace(raw.UDPBind)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Client.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.Client.HandshakeTimeout},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.Client.HeartbeatInterval},
		{"keepalive_interval", raw.KeepAliveInterval, &cfg.Client.KeepAliveInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		if v <= 0 {
			return cliConfig{}, fmt.Errorf("%s must be positive", d.key)
		}
		*d.dst = v
	}

	if meta.IsDefined("max_resends") {
		if raw.MaxResends < 0 {
			return cliConfig{}, fmt.Errorf("max_resends must not be negative")
		}
		cfg.Client.Reliable.MaxResends = raw.MaxResends
	}
	if meta.IsDefined("queue_size") {
		cfg.Client.QueueSize = raw.QueueSize
	}
	if meta.IsDefined("world") {
		cfg.World = raw.World
	}

	return cfg, nil
}
