// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package proxy is the client-side composition root for accessing
// remote MCP servers over the relay network.
package proxy

import (
	"context"

	"github.com/k0sti/clarity/core/message"
	"github.com/k0sti/clarity/transport"
)

// Proxy wraps a client transport.
type Proxy struct {
	transport *transport.ClientTransport
}

// New creates a proxy around an existing client transport.
func New(ct *transport.ClientTransport) *Proxy {
	return &Proxy{transport: ct}
}

// Connect establishes the relay connections and starts the response
// drain.
func (p *Proxy) Connect(ctx context.Context) error {
	return p.transport.Connect(ctx)
}

// Request sends a request to a remote server and waits for the
// correlated response.
func (p *Proxy) Request(ctx context.Context, serverPubkey string, request message.Message, useEncryption bool) (message.Message, error) {
	return p.transport.SendRequest(ctx, serverPubkey, request, useEncryption)
}

// Shutdown stops the transport.
func (p *Proxy) Shutdown() {
	p.transport.Shutdown()
}
