package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Faervan/yggdrasil-sub000/internal/protocol/message"
)

var errQuit = errors.New("quit")

// command is one parsed input line. Exactly one of Request, Action, or
// Local is set.
type command struct {
	Request message.Request
	Action  message.Action
	Local   string
}

const shellHelp = `commands:
  <text>                     chat with the whole lobby
  /g <text>                  chat with your game only
  /create <name> [max] [pw]  host a game
  /delete                    close the game you host
  /join <id> [pw]            enter a game
  /leave                     exit your game
  /world <scene>             share a world with your game
  /move <x> <y> <z>          send a move action
  /rotate <yaw> <pitch>      send a rotate action
  /jump                      send a jump action
  /attack <id>               send an attack action
  /lobby                     print the lobby
  /rtt                       print the round-trip estimate
  /quit                      leave the lobby`

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errors.New("empty input")
	}
	if !strings.HasPrefix(line, "/") {
		return command{Request: message.SendChat{Content: line}}, nil
	}

	verb, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)
	switch verb {
	case "g":
		if rest == "" {
			return command{}, errors.New("usage: /g <text>")
		}
		return command{Request: message.SendChat{Content: rest, GameOnly: true}}, nil
	case "create":
		if len(args) < 1 || len(args) > 3 {
			return command{}, errors.New("usage: /create <name> [max] [pw]")
		}
		req := message.CreateGame{Name: args[0]}
		if len(args) > 1 {
			n, err := strconv.ParseUint(args[1], 10, 8)
			if err != nil {
				return command{}, fmt.Errorf("max players: %w", err)
			}
			req.MaxPlayers = uint8(n)
		}
		if len(args) > 2 {
			pw := args[2]
			req.Password = &pw
		}
		return command{Request: req}, nil
	case "delete":
		return command{Request: message.DeleteGame{}}, nil
	case "join":
		if len(args) < 1 || len(args) > 2 {
			return command{}, errors.New("usage: /join <id> [pw]")
		}
		id, err := parseU16(args[0])
		if err != nil {
			return command{}, fmt.Errorf("game id: %w", err)
		}
		req := message.EnterGame{GameID: id}
		if len(args) > 1 {
			pw := args[1]
			req.Password = &pw
		}
		return command{Request: req}, nil
	case "leave":
		return command{Request: message.ExitGame{}}, nil
	case "world":
		if rest == "" {
			return command{}, errors.New("usage: /world <scene>")
		}
		return command{Request: message.ShareWorld{Scene: rest}}, nil
	case "move":
		v, err := parseFloats(args, 3)
		if err != nil {
			return command{}, fmt.Errorf("usage: /move <x> <y> <z>: %w", err)
		}
		return command{Action: message.Move{X: v[0], Y: v[1], Z: v[2]}}, nil
	case "rotate":
		v, err := parseFloats(args, 2)
		if err != nil {
			return command{}, fmt.Errorf("usage: /rotate <yaw> <pitch>: %w", err)
		}
		return command{Action: message.Rotate{Yaw: v[0], Pitch: v[1]}}, nil
	case "jump":
		return command{Action: message.Jump{}}, nil
	case "attack":
		if len(args) != 1 {
			return command{}, errors.New("usage: /attack <id>")
		}
		id, err := parseU16(args[0])
		if err != nil {
			return command{}, fmt.Errorf("target: %w", err)
		}
		return command{Action: message.Attack{Target: id}}, nil
	case "lobby", "rtt", "help":
		return command{Local: verb}, nil
	case "quit", "exit":
		return command{}, errQuit
	default:
		return command{}, fmt.Errorf("unknown command /%s", verb)
	}
}

func parseU16(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	return uint16(n), err
}

func parseFloats(args []string, n int) ([]float32, error) {
	if len(args) != n {
		return nil, fmt.Errorf("want %d numbers, got %d", n, len(args))
	}
	out := make([]float32, n)
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}

// describe renders an update as one line of shell output.
func describe(u message.Update) string {
	switch u := u.(type) {
	case message.ClientConnected:
		return fmt.Sprintf("* %s joined as #%d", u.Client.Name, u.Client.ID)
	case message.ClientDisconnected:
		return fmt.Sprintf("* #%d left", u.ClientID)
	case message.ClientInterrupted:
		return fmt.Sprintf("* #%d lost connection", u.ClientID)
	case message.ClientReconnected:
		return fmt.Sprintf("* #%d is back", u.ClientID)
	case message.ChatPosted:
		if u.GameOnly {
			return fmt.Sprintf("[game] #%d: %s", u.Sender, u.Content)
		}
		return fmt.Sprintf("#%d: %s", u.Sender, u.Content)
	case message.GameCreated:
		return fmt.Sprintf("* game #%d %q hosted by #%d", u.Game.ID, u.Game.Name, u.Game.HostID)
	case message.GameDeleted:
		return fmt.Sprintf("* game #%d closed", u.GameID)
	case message.GameEntered:
		return fmt.Sprintf("* #%d entered game #%d", u.ClientID, u.GameID)
	case message.GameExited:
		return fmt.Sprintf("* #%d left game #%d", u.ClientID, u.GameID)
	case message.WorldShared:
		return fmt.Sprintf("* world from #%d: %s", u.HostID, u.Scene)
	case message.Notice:
		return fmt.Sprintf("! %s", u.Text)
	case message.Rejected:
		return fmt.Sprintf("! rejected: %s", u.Reason)
	default:
		return fmt.Sprintf("? %T", u)
	}
}

func formatLobby(l message.Lobby) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d clients, %d games\n", len(l.Clients), len(l.Games))
	for _, c := range l.Clients {
		state := "active"
		if c.Status.Idle {
			state = fmt.Sprintf("idle %ds", c.Status.Seconds)
		}
		fmt.Fprintf(&b, "  #%d %s (%s", c.ID, c.Name, state)
		if c.InGame {
			b.WriteString(", in game")
		}
		b.WriteString(")\n")
	}
	for _, g := range l.Games {
		lock := ""
		if g.HasPassword {
			lock = " [locked]"
		}
		fmt.Fprintf(&b, "  game #%d %q host #%d members %v max %d%s\n", g.ID, g.Name, g.HostID, g.Members, g.MaxPlayers, lock)
	}
	return strings.TrimRight(b.String(), "\n")
}
