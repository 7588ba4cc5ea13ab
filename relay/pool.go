// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package relay implements the broadcast network collaborator consumed
// by the transports: a pool of Nostr relay connections with publish,
// filtered subscribe, signing and NIP-44/NIP-59 envelope primitives.
package relay

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"
	"github.com/yawning/bloom"

	"github.com/k0sti/clarity/core/worker"
)

const (
	// seenFilterMLn2 and seenFilterP size the duplicate-suppression
	// filter: 2^23 bits (1 MiB) at a 0.1% false-positive rate, good for
	// roughly 580k identifiers before rotation.
	seenFilterMLn2 = 23
	seenFilterP    = 0.001
)

// Pool manages connections to multiple relay endpoints. Published
// events are broadcast to every connected relay; subscriptions fan in
// across all of them, deduplicated by event identifier.
type Pool struct {
	worker.Worker

	log *log.Logger

	sk string
	pk string

	lock   sync.Mutex
	relays []*nostr.Relay

	seenLock sync.Mutex
	seen     *bloom.Filter
}

// NewPool creates a relay pool signing with privateKey (hex). An empty
// key generates a fresh identity.
func NewPool(privateKey string, mylog *log.Logger) (*Pool, error) {
	if privateKey == "" {
		privateKey = nostr.GeneratePrivateKey()
	}
	pk, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("relay: invalid private key: %w", err)
	}
	seen, err := bloom.New(rand.Reader, seenFilterMLn2, seenFilterP)
	if err != nil {
		return nil, fmt.Errorf("relay: seen filter: %w", err)
	}
	return &Pool{
		log:  mylog.WithPrefix("relay_pool"),
		sk:   privateKey,
		pk:   pk,
		seen: seen,
	}, nil
}

// PublicKey returns the pool's own identity.
func (p *Pool) PublicKey() string {
	return p.pk
}

// Connect dials the given relay endpoints. Endpoints the pool already
// holds a connection to are skipped, so calling Connect again never
// duplicates a relay. Individual dial failures are logged; Connect
// fails only if no relay could be reached.
func (p *Pool) Connect(ctx context.Context, urls []string) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	connected := 0
	for _, url := range urls {
		url = nostr.NormalizeURL(url)
		if p.hasRelayLocked(url) {
			connected++
			continue
		}
		r, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			p.log.Warn("relay dial failed", "url", url, "err", err)
			continue
		}
		p.relays = append(p.relays, r)
		connected++
		p.log.Debug("relay connected", "url", url)
	}
	if connected == 0 {
		return fmt.Errorf("relay: could not connect to any of %d relays", len(urls))
	}
	return nil
}

// hasRelayLocked reports whether a connection to url already exists.
// Caller holds p.lock; url is normalized.
func (p *Pool) hasRelayLocked(url string) bool {
	for _, r := range p.relays {
		if r.URL == url {
			return true
		}
	}
	return false
}

// Disconnect closes every relay connection and stops the subscription
// fan-in workers.
func (p *Pool) Disconnect() {
	p.Halt()
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, r := range p.relays {
		r.Close()
	}
	p.relays = nil
}

// Sign computes the event identifier and signature under the pool's
// identity.
func (p *Pool) Sign(ev *nostr.Event) error {
	return ev.Sign(p.sk)
}

// Publish broadcasts a signed event to every connected relay. It
// succeeds if at least one relay accepted the event, and returns the
// event identifier.
func (p *Pool) Publish(ctx context.Context, ev nostr.Event) (string, error) {
	p.lock.Lock()
	relays := make([]*nostr.Relay, len(p.relays))
	copy(relays, p.relays)
	p.lock.Unlock()

	if len(relays) == 0 {
		return "", fmt.Errorf("relay: not connected")
	}

	accepted := 0
	var lastErr error
	for _, r := range relays {
		if err := r.Publish(ctx, ev); err != nil {
			p.log.Warn("publish failed", "url", r.URL, "err", err)
			lastErr = err
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return "", fmt.Errorf("relay: publish rejected by all relays: %w", lastErr)
	}
	return ev.ID, nil
}

// Subscribe opens a subscription for events of the given kinds
// addressed to recipient on every connected relay and fans them into a
// single stream, deduplicated by event identifier. Only events newer
// than the subscription are delivered.
func (p *Pool) Subscribe(ctx context.Context, kinds []int, recipient string) (<-chan nostr.Event, error) {
	since := nostr.Now()
	filter := nostr.Filter{
		Kinds: kinds,
		Tags:  nostr.TagMap{"p": []string{recipient}},
		Since: &since,
	}

	p.lock.Lock()
	relays := make([]*nostr.Relay, len(p.relays))
	copy(relays, p.relays)
	p.lock.Unlock()

	if len(relays) == 0 {
		return nil, fmt.Errorf("relay: not connected")
	}

	// Open every subscription before spawning any fan-in worker, so a
	// failure partway through leaves nothing running: the ones already
	// opened are unsubscribed and the error surfaces to the caller.
	subs := make([]*nostr.Subscription, 0, len(relays))
	for _, r := range relays {
		sub, err := r.Subscribe(ctx, nostr.Filters{filter})
		if err != nil {
			for _, s := range subs {
				s.Unsub()
			}
			return nil, fmt.Errorf("relay: subscribe on %s: %w", r.URL, err)
		}
		subs = append(subs, sub)
	}

	out := make(chan nostr.Event)
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		p.Go(func() {
			defer wg.Done()
			p.fanIn(sub, out)
		})
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (p *Pool) fanIn(sub *nostr.Subscription, out chan<- nostr.Event) {
	defer sub.Unsub()
	for {
		select {
		case <-p.HaltCh():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if ev == nil || p.alreadySeen(ev.ID) {
				continue
			}
			if ok, err := ev.CheckSignature(); err != nil || !ok {
				p.log.Warn("dropping event with bad signature", "id", ev.ID)
				continue
			}
			select {
			case out <- *ev:
			case <-p.HaltCh():
				return
			}
		}
	}
}

// alreadySeen records id and reports whether it was seen before. Used
// to deduplicate the same event arriving from multiple relays. Backed
// by a fixed-size bloom filter, so memory stays bounded for the life
// of the pool at the cost of a small false-positive rate.
func (p *Pool) alreadySeen(id string) bool {
	p.seenLock.Lock()
	defer p.seenLock.Unlock()
	if p.seen.Entries() >= p.seen.MaxEntries() {
		// Saturated. Rotate instead of letting the false-positive
		// rate degrade; a relay re-delivering a pre-rotation event
		// gets through once, which the transports above tolerate.
		f, err := bloom.New(rand.Reader, seenFilterMLn2, seenFilterP)
		if err == nil {
			p.seen = f
		}
	}
	return p.seen.TestAndSet([]byte(id))
}

// Encrypt encrypts plaintext to recipient with NIP-44.
func (p *Pool) Encrypt(recipient, plaintext string) (string, error) {
	ck, err := nip44.GenerateConversationKey(recipient, p.sk)
	if err != nil {
		return "", fmt.Errorf("relay: conversation key: %w", err)
	}
	return nip44.Encrypt(plaintext, ck)
}

// Decrypt decrypts a NIP-44 ciphertext from sender.
func (p *Pool) Decrypt(sender, ciphertext string) (string, error) {
	ck, err := nip44.GenerateConversationKey(sender, p.sk)
	if err != nil {
		return "", fmt.Errorf("relay: conversation key: %w", err)
	}
	return nip44.Decrypt(ciphertext, ck)
}
