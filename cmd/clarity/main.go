// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

// clarity is the client tool: it sends requests to remote servers over
// the relay network and prints the correlated responses.
package main

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"

	"github.com/k0sti/clarity/common"
	"github.com/k0sti/clarity/config"
	"github.com/k0sti/clarity/core/message"
	"github.com/k0sti/clarity/proxy"
	"github.com/k0sti/clarity/relay"
	"github.com/k0sti/clarity/transport"
)

func main() {
	cmd := &cobra.Command{
		Use:   "clarity",
		Short: "Clarity relay network client",
	}
	cmd.AddCommand(newPingCommand())
	cmd.AddCommand(newKeygenCommand())

	common.ExecuteWithFang(cmd)
}

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a fresh identity keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			sk := nostr.GeneratePrivateKey()
			pk, err := nostr.GetPublicKey(sk)
			if err != nil {
				return err
			}
			fmt.Printf("private key: %s\n", sk)
			fmt.Printf("public key:  %s\n", pk)
			return nil
		},
	}
}

func newPingCommand() *cobra.Command {
	var (
		configFile string
		server     string
		encrypt    bool
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Send a ping request to a server and await the reply",
		Example: `  # Ping a server in plaintext
  clarity ping -c client.toml -s <server pubkey>

  # Ping inside an encrypted envelope
  clarity ping -c client.toml -s <server pubkey> --encrypt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				return fmt.Errorf("server pubkey must be specified with -s")
			}

			cfg := &config.Config{}
			if configFile != "" {
				var err error
				cfg, err = config.LoadFile(configFile)
				if err != nil {
					return fmt.Errorf("failed to load config file: %w", err)
				}
			} else if err := cfg.FixupAndValidate(); err != nil {
				return err
			}

			return runPing(cfg, server, encrypt)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "configuration file")
	cmd.Flags().StringVarP(&server, "server", "s", "", "server public key (hex)")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "gift wrap the request")

	return cmd
}

func runPing(cfg *config.Config, server string, encrypt bool) error {
	mylog, err := common.NewLogger(cfg.Logging.Disable, cfg.Logging.File, cfg.Logging.Level, "clarity")
	if err != nil {
		return err
	}

	pool, err := relay.NewPool(cfg.Nostr.PrivateKey, mylog)
	if err != nil {
		return err
	}

	ct := transport.NewClientTransport(pool, &transport.ClientConfig{
		RelayURLs:      cfg.Nostr.Relays,
		EncryptionMode: cfg.EncryptionMode(),
		RequestTimeout: cfg.RequestTimeout(),
	}, mylog)
	p := proxy.New(ct)
	defer p.Shutdown()

	ctx := context.Background()
	if err := p.Connect(ctx); err != nil {
		return err
	}

	request, err := message.NewRequest(1, "ping", nil)
	if err != nil {
		return err
	}

	response, err := p.Request(ctx, server, request, encrypt)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", response.Raw)
	return nil
}
