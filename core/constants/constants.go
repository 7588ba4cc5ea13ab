// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package constants defines the ContextVM wire vocabulary: Nostr event
// kinds, tag names and protocol limits. The numeric values must match
// other ContextVM implementations exactly.
package constants

import (
	"time"
)

const (
	// KindMessages is the ephemeral event kind carrying MCP
	// request/response/notification payloads.
	KindMessages = 25910

	// KindGiftWrap is the NIP-59 gift wrap kind used for encrypted
	// envelopes around any inner message.
	KindGiftWrap = 1059

	// KindServerAnnouncement is the addressable kind for server
	// announcements; a newer announcement replaces the prior one.
	KindServerAnnouncement = 11316

	// KindToolsList is the addressable kind for tool lists.
	KindToolsList = 11317

	// KindResourcesList is the addressable kind for resource lists.
	KindResourcesList = 11318

	// KindResourceTemplatesList is the addressable kind for resource
	// template lists.
	KindResourceTemplatesList = 11319

	// KindPromptsList is the addressable kind for prompt lists.
	KindPromptsList = 11320
)

const (
	// TagPubkey is the recipient identity tag.
	TagPubkey = "p"

	// TagEvent is the correlation tag carrying the identifier of the
	// request a response answers.
	TagEvent = "e"

	// TagCapability carries pricing/capability metadata.
	TagCapability = "cap"

	// TagName is the server name tag on announcements.
	TagName = "name"

	// TagWebsite is the server website tag on announcements.
	TagWebsite = "website"

	// TagPicture is the server picture tag on announcements.
	TagPicture = "picture"

	// TagAbout is the server description tag on announcements.
	TagAbout = "about"

	// TagSupportEncryption advertises gift wrap support on
	// announcements.
	TagSupportEncryption = "support_encryption"
)

const (
	// MaxMessageSize is the maximum payload size in bytes. Oversize
	// messages are rejected before signing.
	MaxMessageSize = 1024 * 1024

	// DefaultRequestTimeout is how long a client waits for a
	// correlated response before giving up.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultSessionTimeout is how long a server session may stay
	// idle before the sweep evicts it.
	DefaultSessionTimeout = 300 * time.Second
)
