// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

// clarityd is the gateway daemon: it exposes a local MCP handler over
// the relay network, announcing itself and answering requests until
// interrupted.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/k0sti/clarity/common"
	"github.com/k0sti/clarity/config"
	"github.com/k0sti/clarity/core/message"
	"github.com/k0sti/clarity/gateway"
	"github.com/k0sti/clarity/relay"
	"github.com/k0sti/clarity/transport"
)

func main() {
	var configFile string

	cmd := &cobra.Command{
		Use:   "clarityd",
		Short: "Clarity gateway daemon",
		Long: `clarityd bridges a local MCP handler onto the Nostr relay network.
It announces the server, subscribes to requests addressed to its
identity and answers them, optionally inside encrypted envelopes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return fmt.Errorf("config file must be specified with -c")
			}
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config file: %w", err)
			}
			return runDaemon(cfg)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "configuration file")

	common.ExecuteWithFang(cmd)
}

func runDaemon(cfg *config.Config) error {
	mylog, err := common.NewLogger(cfg.Logging.Disable, cfg.Logging.File, cfg.Logging.Level, "clarityd")
	if err != nil {
		return err
	}

	pool, err := relay.NewPool(cfg.Nostr.PrivateKey, mylog)
	if err != nil {
		return err
	}

	st := transport.NewServerTransport(pool, &transport.ServerConfig{
		RelayURLs:      cfg.Nostr.Relays,
		EncryptionMode: cfg.EncryptionMode(),
		ServerInfo:     cfg.Server.Info(),
		SessionTimeout: cfg.SessionTimeout(),
	}, newEchoHandler(mylog), mylog)

	gw := gateway.New(st, cfg.SweepInterval(), mylog)

	ctx := context.Background()
	if err := gw.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("clarityd listening on pubkey %s\n", pool.PublicKey())

	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-haltCh
		gw.Shutdown()
	}()

	gw.Transport().Wait()
	return nil
}

// newEchoHandler answers ping requests with a pong and echoes the
// method name of anything else. Real deployments replace this with an
// MCP server bridge.
func newEchoHandler(mylog *log.Logger) transport.HandlerFunc {
	handlerLog := mylog.WithPrefix("echo_handler")
	return func(ctx context.Context, in transport.Incoming) (*message.Message, error) {
		if in.Message.Type != message.TypeRequest {
			return nil, nil
		}
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(in.Message.Raw, &req); err != nil {
			return nil, err
		}
		handlerLog.Info("request", "sender", in.Sender, "method", req.Method, "encrypted", in.Encrypted)

		var id interface{}
		if len(req.ID) > 0 {
			if err := json.Unmarshal(req.ID, &id); err != nil {
				return nil, err
			}
		}

		var result interface{}
		switch req.Method {
		case "ping":
			result = map[string]string{"op": "pong"}
		case "initialize":
			result = map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"serverInfo":      map[string]string{"name": "clarityd"},
			}
		default:
			result = map[string]interface{}{"echo": req.Method}
		}

		reply, err := message.NewResponse(id, result)
		if err != nil {
			return nil, err
		}
		return &reply, nil
	}
}
