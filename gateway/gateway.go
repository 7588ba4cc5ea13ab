// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package gateway bridges a local MCP server onto the relay network:
// it pairs a server transport with announcement and tool publication,
// and owns the recurring session sweep timer.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"

	"github.com/k0sti/clarity/core/worker"
	"github.com/k0sti/clarity/transport"
)

// defaultSweepInterval is how often inactive sessions are evicted.
const defaultSweepInterval = 60 * time.Second

// Gateway is the server-side composition root.
type Gateway struct {
	worker.Worker

	log           *log.Logger
	transport     *transport.ServerTransport
	sweepInterval time.Duration
}

// New creates a gateway around an existing server transport. A zero
// sweepInterval uses the default.
func New(st *transport.ServerTransport, sweepInterval time.Duration, mylog *log.Logger) *Gateway {
	if sweepInterval == 0 {
		sweepInterval = defaultSweepInterval
	}
	return &Gateway{
		log:           mylog.WithPrefix("gateway"),
		transport:     st,
		sweepInterval: sweepInterval,
	}
}

// Transport returns the underlying server transport.
func (g *Gateway) Transport() *transport.ServerTransport {
	return g.transport
}

// PublishTools publishes the tool list.
func (g *Gateway) PublishTools(ctx context.Context, tools []json.RawMessage) error {
	return g.transport.PublishTools(ctx, tools)
}

// Start announces the server, starts the inbound loop and spawns the
// session sweep timer.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.transport.Start(ctx); err != nil {
		return err
	}
	g.Go(g.sweepWorker)
	return nil
}

// Shutdown stops the sweep timer and the transport.
func (g *Gateway) Shutdown() {
	g.Halt()
	g.transport.Shutdown()
}

func (g *Gateway) sweepWorker() {
	ticker := time.NewTicker(g.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.HaltCh():
			return
		case <-ticker.C:
			g.transport.CleanupInactiveSessions()
		}
	}
}
