package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `name = "yggd"
lobby_addr = ":7341"
udp_addr = ":7341"
admin_addr = "127.0.0.1:7342"
cors_origins = ["http://localhost:3000"]
grace_window = "60s"
idle_timeout = "6s"
handshake_timeout = "5s"
event_buffer = 64
max_frame_bytes = 262144
`

const clientTemplate = `name = "Jon"
lobby_addr = "127.0.0.1:7341"
udp_bind = "0.0.0.0:0"
connect_timeout = "5s"
keepalive_interval = "1s"
heartbeat_interval = "2s"
max_resends = 30
world = "meadow"
`
