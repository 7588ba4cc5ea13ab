// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package transport implements the ContextVM session and correlation
// layer: client-side request/response correlation with timeout, and
// server-side session lifecycle and inbound dispatch, both on top of a
// broadcast-only relay substrate.
package transport

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// RelayClient is the capability surface the transports consume from
// the underlying relay network client. Connection management, signing,
// and the cryptographic wrap/unwrap primitives live behind it; the
// relay package provides the production implementation and tests
// substitute an in-memory one.
type RelayClient interface {
	// Connect establishes connections to the given relay endpoints.
	Connect(ctx context.Context, urls []string) error

	// Disconnect tears down all relay connections.
	Disconnect()

	// PublicKey returns this role's own identity.
	PublicKey() string

	// Sign computes the event identifier and signature in place.
	Sign(ev *nostr.Event) error

	// Publish broadcasts a signed event and returns its identifier.
	Publish(ctx context.Context, ev nostr.Event) (string, error)

	// Subscribe returns a stream of events of the given kinds
	// addressed to recipient. The channel is closed on Disconnect.
	Subscribe(ctx context.Context, kinds []int, recipient string) (<-chan nostr.Event, error)

	// GiftWrap builds the outer encrypted envelope around a signed
	// inner event, addressed to recipient. The inner identifier is
	// unaffected.
	GiftWrap(recipient string, inner nostr.Event) (nostr.Event, error)

	// Unwrap peels an encrypted envelope, returning the inner event
	// and whether ev was wrapped at all. Non-wrapped events pass
	// through unchanged with wrapped=false.
	Unwrap(ev nostr.Event) (inner nostr.Event, wrapped bool, err error)
}

// eventCorrelationID extracts the identifier of the request an event
// answers, or "" if the event carries no correlation tag.
func eventCorrelationID(ev *nostr.Event) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "e" {
			return tag[1]
		}
	}
	return ""
}
