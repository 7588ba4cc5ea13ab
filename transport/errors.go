// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"errors"
)

// Error taxonomy of the session layer. Request-path failures wrap one
// of these sentinels and surface synchronously to the caller; passive
// loop failures are recovered locally and never cross this boundary.
var (
	// ErrTimeout indicates no correlated reply arrived within the
	// request deadline.
	ErrTimeout = errors.New("transport: timeout")

	// ErrTransport indicates a network level publish/subscribe
	// failure, or a fulfillment channel dropped without a value.
	ErrTransport = errors.New("transport: network failure")

	// ErrEncryption indicates a gift wrap operation failed.
	ErrEncryption = errors.New("transport: encryption failure")

	// ErrDecryption indicates unwrapping an envelope failed.
	ErrDecryption = errors.New("transport: decryption failure")

	// ErrInvalidMessage indicates a payload failed to decode.
	ErrInvalidMessage = errors.New("transport: invalid message")

	// ErrProtocol indicates an event kind or tag mismatch.
	ErrProtocol = errors.New("transport: protocol violation")

	// ErrSessionNotFound indicates a referenced session is absent.
	// Used by higher layers; the sweep itself never returns it.
	ErrSessionNotFound = errors.New("transport: session not found")

	// ErrMessageTooLarge indicates a payload exceeded MaxMessageSize.
	// Enforced before signing.
	ErrMessageTooLarge = errors.New("transport: message exceeds maximum size")
)
