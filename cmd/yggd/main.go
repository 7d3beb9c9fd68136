package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Faervan/yggdrasil-sub000/internal/config"
	"github.com/Faervan/yggdrasil-sub000/internal/logging"
	"github.com/Faervan/yggdrasil-sub000/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "cmd/yggd/config.toml"

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "yggd",
		Short:         "Yggdrasil lobby server",
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

	rootCmd.AddCommand(
		serveCmd(),
		initConfigCmd(),
		validateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "yggd: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lobby and UDP router",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig(path)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info().Str("config", path).Str("lobby_addr", cfg.LobbyAddr).Msg("yggd starting")
			if err := server.New(cfg.Runtime()).Run(ctx); err != nil {
				return err
			}
			log.Info().Msg("yggd stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", defaultConfigPath, "server config file")
	return cmd
}

func initConfigCmd() *cobra.Command {
	var (
		kind   string
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := output
			if target == "" {
				switch kind {
				case "server":
					target = defaultConfigPath
				case "client":
					target = "cmd/yggctl/config.toml"
				default:
					return fmt.Errorf("unknown kind: %s", kind)
				}
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			log.Info().Str("kind", kind).Str("path", target).Msg("wrote config template")
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "server", "config kind: server|client")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path for the template")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func validateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a server config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadServerConfig(path); err != nil {
				return err
			}
			log.Info().Str("path", path).Msg("config valid")
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", defaultConfigPath, "server config file")
	return cmd
}
