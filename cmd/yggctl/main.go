package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Faervan/yggdrasil-sub000/internal/client"
	"github.com/Faervan/yggdrasil-sub000/internal/logging"
	"github.com/Faervan/yggdrasil-sub000/internal/protocol/message"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "yggctl",
		Short:         "Interactive Yggdrasil lobby client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			if logLevel != "" && !logging.SetLevel(logLevel) {
				return fmt.Errorf("unknown log level: %s", logLevel)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the log level (debug, info, warn, error)")
	rootCmd.AddCommand(connectCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "yggctl: %v\n", err)
		os.Exit(1)
	}
}

func connectCmd() *cobra.Command {
	var (
		path  string
		lobby string
		udp   string
		bind  string
		name  string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a lobby and chat from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := defaultCLIConfig()
			if path != "" {
				loaded, err := loadCLIConfig(path)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			flags := cmd.Flags()
			if flags.Changed("lobby") {
				cfg.Client.LobbyAddr = lobby
			}
			if flags.Changed("udp") {
				cfg.Client.ServerUDPAddr = udp
			}
			if flags.Changed("bind") {
				cfg.Client.UDPBindAddr = bind
			}
			if flags.Changed("name") {
				cfg.Client.Name = name
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			conn, err := client.Build(ctx, cfg.Client)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connected as #%d\n%s\n", conn.ClientID(), formatLobby(conn.Lobby()))
			return runShell(ctx, conn, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "client config file")
	cmd.Flags().StringVar(&lobby, "lobby", "", "lobby TCP address")
	cmd.Flags().StringVar(&udp, "udp", "", "server UDP address (defaults to the lobby address)")
	cmd.Flags().StringVar(&bind, "bind", "", "local UDP bind address; the lobby is dialed from the same IP")
	cmd.Flags().StringVarP(&name, "name", "n", "", "player name")
	return cmd
}

func runShell(ctx context.Context, conn *client.Connection, cfg cliConfig, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return conn.Close()
		case <-conn.Done():
			return conn.Err()
		case u, ok := <-conn.Updates():
			if !ok {
				<-conn.Done()
				return conn.Err()
			}
			fmt.Fprintln(out, describe(u))
		case a, ok := <-conn.Actions():
			if !ok {
				<-conn.Done()
				return conn.Err()
			}
			fmt.Fprintf(out, "~ #%d %T %+v\n", a.Sender, a.Action, a.Action)
		case peer, ok := <-conn.WorldRequests():
			if !ok {
				<-conn.Done()
				return conn.Err()
			}
			if cfg.World == "" {
				continue
			}
			log.Debug().Uint16("peer", peer).Msg("yggctl sharing world")
			if err := conn.Send(ctx, message.ShareWorld{Scene: cfg.World}); err != nil {
				return err
			}
		case line, ok := <-lines:
			if !ok {
				return conn.Close()
			}
			if err := execute(ctx, conn, line, out); err != nil {
				if errors.Is(err, errQuit) {
					return conn.Close()
				}
				fmt.Fprintf(out, "! %v\n", err)
			}
		}
	}
}

func execute(ctx context.Context, conn *client.Connection, line string, out io.Writer) error {
	c, err := parseCommand(line)
	if err != nil {
		return err
	}
	switch {
	case c.Request != nil:
		return conn.Send(ctx, c.Request)
	case c.Action != nil:
		return conn.SendAction(ctx, c.Action)
	case c.Local == "lobby":
		fmt.Fprintln(out, formatLobby(conn.Lobby()))
	case c.Local == "rtt":
		fmt.Fprintf(out, "rtt %v\n", conn.RTT())
	case c.Local == "help":
		fmt.Fprintln(out, shellHelp)
	}
	return nil
}
