// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/nbd-wtf/go-nostr"

	"github.com/k0sti/clarity/core/constants"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "test",
		Level:  log.ErrorLevel,
	})
}

// memNet is an in-memory broadcast substrate standing in for the relay
// network: published events are delivered to every subscription whose
// kind filter and recipient tag match.
type memNet struct {
	lock sync.Mutex
	subs []*memSub
}

type memSub struct {
	kinds     map[int]bool
	recipient string
	ch        chan nostr.Event
}

func newMemNet() *memNet {
	return &memNet{}
}

func (n *memNet) subscribe(kinds []int, recipient string) <-chan nostr.Event {
	s := &memSub{
		kinds:     make(map[int]bool),
		recipient: recipient,
		ch:        make(chan nostr.Event, 64),
	}
	for _, k := range kinds {
		s.kinds[k] = true
	}
	n.lock.Lock()
	n.subs = append(n.subs, s)
	n.lock.Unlock()
	return s.ch
}

func (n *memNet) publish(ev nostr.Event) {
	n.lock.Lock()
	defer n.lock.Unlock()
	for _, s := range n.subs {
		if !s.kinds[ev.Kind] {
			continue
		}
		if recipientOf(&ev) != s.recipient {
			continue
		}
		s.ch <- ev
	}
}

func recipientOf(ev *nostr.Event) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == constants.TagPubkey {
			return tag[1]
		}
	}
	return ""
}

// memRelay implements RelayClient against a memNet. Signing assigns a
// deterministic identifier derived from the signed fields, so the
// inner identifier is stable regardless of wrapping, like the real
// thing. Wrapping serializes the inner event into a kind 1059 carrier
// under an ephemeral identity.
type memRelay struct {
	net *memNet
	pk  string

	lock        sync.Mutex
	failUnwrap  bool
	failPublish bool
	published   []nostr.Event
}

func (r *memRelay) setFailUnwrap(v bool) {
	r.lock.Lock()
	r.failUnwrap = v
	r.lock.Unlock()
}

func (r *memRelay) setFailPublish(v bool) {
	r.lock.Lock()
	r.failPublish = v
	r.lock.Unlock()
}

func newMemRelay(net *memNet, pk string) *memRelay {
	return &memRelay{net: net, pk: pk}
}

func (r *memRelay) Connect(ctx context.Context, urls []string) error { return nil }
func (r *memRelay) Disconnect()                                      {}
func (r *memRelay) PublicKey() string                                { return r.pk }

func (r *memRelay) Sign(ev *nostr.Event) error {
	ev.PubKey = r.pk
	ev.ID = fakeID(ev)
	ev.Sig = "sig"
	return nil
}

func (r *memRelay) Publish(ctx context.Context, ev nostr.Event) (string, error) {
	r.lock.Lock()
	if r.failPublish {
		r.lock.Unlock()
		return "", errors.New("relay rejected event")
	}
	r.published = append(r.published, ev)
	r.lock.Unlock()
	r.net.publish(ev)
	return ev.ID, nil
}

func (r *memRelay) Subscribe(ctx context.Context, kinds []int, recipient string) (<-chan nostr.Event, error) {
	return r.net.subscribe(kinds, recipient), nil
}

func (r *memRelay) GiftWrap(recipient string, inner nostr.Event) (nostr.Event, error) {
	body, err := json.Marshal(inner)
	if err != nil {
		return nostr.Event{}, err
	}
	outer := nostr.Event{
		PubKey:    "ephemeral",
		CreatedAt: inner.CreatedAt,
		Kind:      constants.KindGiftWrap,
		Tags:      nostr.Tags{{constants.TagPubkey, recipient}},
		Content:   string(body),
	}
	outer.ID = fakeID(&outer)
	outer.Sig = "sig"
	return outer, nil
}

func (r *memRelay) Unwrap(ev nostr.Event) (nostr.Event, bool, error) {
	if ev.Kind != constants.KindGiftWrap {
		return ev, false, nil
	}
	r.lock.Lock()
	fail := r.failUnwrap
	r.lock.Unlock()
	if fail {
		return nostr.Event{}, true, errors.New("undecryptable envelope")
	}
	var inner nostr.Event
	if err := json.Unmarshal([]byte(ev.Content), &inner); err != nil {
		return nostr.Event{}, true, err
	}
	return inner, true, nil
}

func (r *memRelay) publishedEvents() []nostr.Event {
	r.lock.Lock()
	defer r.lock.Unlock()
	out := make([]nostr.Event, len(r.published))
	copy(out, r.published)
	return out
}

func fakeID(ev *nostr.Event) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%v|%s",
		ev.PubKey, ev.CreatedAt, ev.Kind, ev.Tags, ev.Content)))
	return hex.EncodeToString(sum[:])
}
