package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration decodes TOML strings such as "60s" or "1m30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ServerConfig struct {
	Name             string   `toml:"name"`
	LobbyAddr        string   `toml:"lobby_addr"`
	UDPAddr          string   `toml:"udp_addr"`
	AdminAddr        string   `toml:"admin_addr"`
	CorsOrigins      []string `toml:"cors_origins"`
	GraceWindow      Duration `toml:"grace_window"`
	IdleTimeout      Duration `toml:"idle_timeout"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	EventBuffer      int      `toml:"event_buffer"`
	MaxFrameBytes    uint32   `toml:"max_frame_bytes"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Name:             "yggd",
		LobbyAddr:        ":7341",
		AdminAddr:        "",
		GraceWindow:      Duration{60 * time.Second},
		IdleTimeout:      Duration{6 * time.Second},
		HandshakeTimeout: Duration{5 * time.Second},
		EventBuffer:      64,
		MaxFrameBytes:    256 * 1024,
	}
}

// LoadServerConfig reads path over the defaults and validates the result.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ServerConfig{}, err
	}
	if strings.TrimSpace(cfg.UDPAddr) == "" {
		cfg.UDPAddr = cfg.LobbyAddr
	}
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("server config missing name")
	}
	if err := validateAddr("lobby_addr", cfg.LobbyAddr); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.UDPAddr) != "" {
		if err := validateAddr("udp_addr", cfg.UDPAddr); err != nil {
			return err
		}
	}
	if strings.TrimSpace(cfg.AdminAddr) != "" {
		if err := validateAddr("admin_addr", cfg.AdminAddr); err != nil {
			return err
		}
	}
	if cfg.GraceWindow.Duration <= 0 {
		return fmt.Errorf("grace_window must be positive")
	}
	if cfg.IdleTimeout.Duration <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if cfg.HandshakeTimeout.Duration <= 0 {
		return fmt.Errorf("handshake_timeout must be positive")
	}
	if cfg.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be positive")
	}
	return nil
}

func validateAddr(field, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("%s is required", field)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s invalid: %w", field, err)
	}
	return nil
}
