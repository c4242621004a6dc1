// Command dsvpn is the point-to-point tunnel binary: "dsvpn server ..." listens
// for one peer, "dsvpn client ..." connects to one.
package main

import (
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/PacketPlayground/dsvpn/internal/config"
	"github.com/PacketPlayground/dsvpn/internal/endpoint"
)

var rootCmd = &cobra.Command{
	Use:   "dsvpn",
	Short: "A minimal point-to-point tunnel over a single authenticated TCP connection",
	Args:  cobra.ArbitraryArgs,
	// invoking dsvpn without a valid server/client subcommand is a usage error
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Usage()
		return config.ErrUsage
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serverCmd = &cobra.Command{
	Use:   "server <key_file> <vpn_server_ip|auto> <port|auto> <tun_name|auto> <local_tun_ip|auto> <remote_tun_ip|auto> <external_ip|auto>",
	Short: "Run the server side of the tunnel",
	Args:  exactArgs(7),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args, true)
	},
	SilenceUsage: true,
}

var clientCmd = &cobra.Command{
	Use:   "client <key_file> <vpn_server_ip> <port|auto> <tun_name|auto> <local_tun_ip|auto> <remote_tun_ip|auto> <gateway_ip|auto>",
	Short: "Run the client side of the tunnel",
	Args:  exactArgs(7),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args, false)
	},
	SilenceUsage: true,
}

// exactArgs mirrors cobra.ExactArgs but fails with config.ErrUsage, so main maps
// it to exit code 254 rather than the generic exit 1.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return config.ErrUsage
		}
		return nil
	}
}

func init() {
	rootCmd.AddCommand(serverCmd, clientCmd)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, config.ErrUsage) {
			os.Exit(254)
		}
		log.Error().Err(err).Msg("exited with error")
		os.Exit(1)
	}
}

func run(args []string, isServer bool) error {
	parse := config.ParseClient
	if isServer {
		parse = config.ParseServer
	}
	cfg, err := parse(args)
	if err != nil {
		return err
	}

	ep, err := endpoint.New(cfg, log.Logger)
	if err != nil {
		return err
	}

	return ep.Run()
}
