// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

package relay

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"

	"github.com/k0sti/clarity/core/constants"
)

// sealKind is the NIP-59 seal event kind.
const sealKind = 13

// maxTimestampAge bounds the random backdating applied to seal and
// wrap timestamps so third parties cannot correlate envelopes by time.
const maxTimestampAge = 2 * 24 * time.Hour

// GiftWrap builds the NIP-59 envelope around a signed inner event:
// the inner event (with its signature stripped, its identifier intact)
// is sealed under our identity, and the seal is wrapped under a fresh
// ephemeral identity addressed to recipient. Only the outer wrap is
// visible on the wire; the inner identifier is what correlation logic
// keys on.
func (p *Pool) GiftWrap(recipient string, inner nostr.Event) (nostr.Event, error) {
	// The rumor is the inner event without its signature. Its
	// identifier is computed from sender, timestamp, kind, tags and
	// content, so stripping the signature does not change it.
	rumor := inner
	rumor.Sig = ""
	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("relay: marshal rumor: %w", err)
	}

	ck, err := nip44.GenerateConversationKey(recipient, p.sk)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("relay: conversation key: %w", err)
	}
	sealContent, err := nip44.Encrypt(string(rumorJSON), ck)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("relay: seal encrypt: %w", err)
	}
	seal := nostr.Event{
		CreatedAt: randomPastTimestamp(),
		Kind:      sealKind,
		Tags:      nostr.Tags{},
		Content:   sealContent,
	}
	if err := seal.Sign(p.sk); err != nil {
		return nostr.Event{}, fmt.Errorf("relay: sign seal: %w", err)
	}

	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("relay: marshal seal: %w", err)
	}
	wrapSK := nostr.GeneratePrivateKey()
	wrapCK, err := nip44.GenerateConversationKey(recipient, wrapSK)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("relay: wrap conversation key: %w", err)
	}
	wrapContent, err := nip44.Encrypt(string(sealJSON), wrapCK)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("relay: wrap encrypt: %w", err)
	}
	wrap := nostr.Event{
		CreatedAt: randomPastTimestamp(),
		Kind:      constants.KindGiftWrap,
		Tags:      nostr.Tags{{constants.TagPubkey, recipient}},
		Content:   wrapContent,
	}
	if err := wrap.Sign(wrapSK); err != nil {
		return nostr.Event{}, fmt.Errorf("relay: sign wrap: %w", err)
	}
	return wrap, nil
}

// Unwrap peels a gift wrap addressed to us, returning the inner event
// and whether ev was wrapped at all. Events of any other kind pass
// through unchanged.
func (p *Pool) Unwrap(ev nostr.Event) (nostr.Event, bool, error) {
	if ev.Kind != constants.KindGiftWrap {
		return ev, false, nil
	}

	wrapCK, err := nip44.GenerateConversationKey(ev.PubKey, p.sk)
	if err != nil {
		return nostr.Event{}, true, fmt.Errorf("relay: wrap conversation key: %w", err)
	}
	sealJSON, err := nip44.Decrypt(ev.Content, wrapCK)
	if err != nil {
		return nostr.Event{}, true, fmt.Errorf("relay: wrap decrypt: %w", err)
	}
	var seal nostr.Event
	if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil {
		return nostr.Event{}, true, fmt.Errorf("relay: unmarshal seal: %w", err)
	}
	if seal.Kind != sealKind {
		return nostr.Event{}, true, fmt.Errorf("relay: unexpected seal kind %d", seal.Kind)
	}

	ck, err := nip44.GenerateConversationKey(seal.PubKey, p.sk)
	if err != nil {
		return nostr.Event{}, true, fmt.Errorf("relay: conversation key: %w", err)
	}
	rumorJSON, err := nip44.Decrypt(seal.Content, ck)
	if err != nil {
		return nostr.Event{}, true, fmt.Errorf("relay: seal decrypt: %w", err)
	}
	var rumor nostr.Event
	if err := json.Unmarshal([]byte(rumorJSON), &rumor); err != nil {
		return nostr.Event{}, true, fmt.Errorf("relay: unmarshal rumor: %w", err)
	}

	// The rumor must come from whoever sealed it, and its identifier
	// must actually be its own.
	if rumor.PubKey != seal.PubKey {
		return nostr.Event{}, true, fmt.Errorf("relay: rumor sender does not match seal")
	}
	if rumor.GetID() != rumor.ID {
		return nostr.Event{}, true, fmt.Errorf("relay: rumor identifier mismatch")
	}
	return rumor, true, nil
}

func randomPastTimestamp() nostr.Timestamp {
	age := rand.Int63n(int64(maxTimestampAge / time.Second))
	return nostr.Timestamp(time.Now().Unix() - age)
}
