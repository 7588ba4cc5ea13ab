// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

package message

import (
	"fmt"
	"strings"
)

// EncryptionMode is the transport encryption policy, fixed at
// transport construction time per role.
type EncryptionMode int

const (
	// EncryptionOptional mirrors the counterparty: a reply is wrapped
	// iff the triggering request arrived wrapped.
	EncryptionOptional EncryptionMode = iota

	// EncryptionRequired wraps every outbound message and refuses
	// plaintext inbound traffic.
	EncryptionRequired

	// EncryptionDisabled never wraps.
	EncryptionDisabled
)

// ParseEncryptionMode parses a configuration string. An unrecognized
// value is a configuration error, never silently defaulted.
func ParseEncryptionMode(s string) (EncryptionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "optional":
		return EncryptionOptional, nil
	case "required":
		return EncryptionRequired, nil
	case "disabled":
		return EncryptionDisabled, nil
	default:
		return 0, fmt.Errorf("message: invalid encryption mode %q", s)
	}
}

// String returns the configuration spelling of m.
func (m EncryptionMode) String() string {
	switch m {
	case EncryptionOptional:
		return "optional"
	case EncryptionRequired:
		return "required"
	case EncryptionDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ShouldEncrypt decides whether an outbound message must be wrapped.
// For server replies the argument is whether the triggering inbound
// message arrived wrapped; for client requests it is the caller's
// per-call preference. Either way Required forces true, Disabled
// forces false and Optional passes the argument through. Pure
// function; construction-time validation guarantees m is one of the
// three defined modes.
func (m EncryptionMode) ShouldEncrypt(inboundEncrypted bool) bool {
	switch m {
	case EncryptionRequired:
		return true
	case EncryptionDisabled:
		return false
	default:
		return inboundEncrypted
	}
}

// UnmarshalText implements encoding.TextUnmarshaler so the mode can be
// decoded directly from TOML.
func (m *EncryptionMode) UnmarshalText(text []byte) error {
	mode, err := ParseEncryptionMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}
