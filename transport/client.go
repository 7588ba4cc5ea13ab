// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nbd-wtf/go-nostr"

	"github.com/k0sti/clarity/core/constants"
	"github.com/k0sti/clarity/core/message"
	"github.com/k0sti/clarity/core/worker"
)

// ClientConfig is the client transport configuration.
type ClientConfig struct {
	// RelayURLs are the relay endpoints to connect to.
	RelayURLs []string

	// EncryptionMode is this role's encryption policy. Required forces
	// every request to be wrapped and Disabled forbids wrapping,
	// regardless of the per-call flag; Optional defers to the caller.
	EncryptionMode message.EncryptionMode

	// RequestTimeout bounds how long SendRequest waits for a
	// correlated reply. Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// ClientTransport sends requests over the relay network and correlates
// the responses. A single background drain worker feeds inbound events
// to per-request one-shot fulfillment slots; arbitrarily many requests
// may be in flight at once and a slow counterparty on one request
// never blocks another.
type ClientTransport struct {
	worker.Worker

	log   *log.Logger
	relay RelayClient
	cfg   *ClientConfig

	timeout time.Duration

	lock    sync.RWMutex
	pending map[string]chan nostr.Event
	started bool
}

// NewClientTransport creates a client transport. Connect must be
// called before SendRequest.
func NewClientTransport(relay RelayClient, cfg *ClientConfig, mylog *log.Logger) *ClientTransport {
	registerMetrics()
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = constants.DefaultRequestTimeout
	}
	return &ClientTransport{
		log:     mylog.WithPrefix("client_transport"),
		relay:   relay,
		cfg:     cfg,
		timeout: timeout,
		pending: make(map[string]chan nostr.Event),
	}
}

// Connect establishes the relay connections, subscribes to RPC and
// gift wrap events addressed to our own identity, and spawns the drain
// worker. Calling Connect again re-dials relays but never spawns a
// second drain worker.
func (t *ClientTransport) Connect(ctx context.Context) error {
	if err := t.relay.Connect(ctx, t.cfg.RelayURLs); err != nil {
		return fmt.Errorf("%w: %s", ErrTransport, err)
	}

	t.lock.Lock()
	if t.started {
		t.lock.Unlock()
		return nil
	}
	t.started = true
	t.lock.Unlock()

	events, err := t.relay.Subscribe(ctx,
		[]int{constants.KindMessages, constants.KindGiftWrap},
		t.relay.PublicKey())
	if err != nil {
		t.lock.Lock()
		t.started = false
		t.lock.Unlock()
		return fmt.Errorf("%w: %s", ErrTransport, err)
	}

	t.log.Info("connected", "pubkey", t.relay.PublicKey())
	t.Go(func() {
		t.drain(events)
	})
	return nil
}

// SendRequest signs and publishes a request addressed to recipient and
// blocks until the correlated response arrives, the timeout expires or
// ctx is canceled. The correlation entry is registered before the
// request is transmitted, so a reply can never be missed to a
// register-after-send race. When useEncryption is set the signed
// request is published inside a gift wrap; correlation still keys on
// the inner event identifier. The configured encryption mode overrides
// the per-call flag at the extremes: Required always wraps, Disabled
// never does.
func (t *ClientTransport) SendRequest(ctx context.Context, recipient string, request message.Message, useEncryption bool) (message.Message, error) {
	useEncryption = t.cfg.EncryptionMode.ShouldEncrypt(useEncryption)

	payload, err := request.Encode()
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}
	if len(payload) > constants.MaxMessageSize {
		return message.Message{}, ErrMessageTooLarge
	}

	ev := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      constants.KindMessages,
		Tags:      nostr.Tags{{constants.TagPubkey, recipient}},
		Content:   string(payload),
	}
	if err := t.relay.Sign(&ev); err != nil {
		return message.Message{}, fmt.Errorf("%w: sign: %s", ErrTransport, err)
	}

	// The one-shot fulfillment slot, keyed by the inner identifier.
	waiter := make(chan nostr.Event, 1)
	t.lock.Lock()
	t.pending[ev.ID] = waiter
	t.lock.Unlock()

	wire := ev
	if useEncryption {
		wire, err = t.relay.GiftWrap(recipient, ev)
		if err != nil {
			t.removePending(ev.ID)
			return message.Message{}, fmt.Errorf("%w: %s", ErrEncryption, err)
		}
	}

	if _, err := t.relay.Publish(ctx, wire); err != nil {
		t.removePending(ev.ID)
		return message.Message{}, fmt.Errorf("%w: publish: %s", ErrTransport, err)
	}
	publishedEvents.WithLabelValues("client").Inc()
	t.log.Debug("request sent", "id", ev.ID, "recipient", recipient, "encrypted", useEncryption)

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case reply, ok := <-waiter:
		if !ok {
			return message.Message{}, fmt.Errorf("%w: reply channel closed", ErrTransport)
		}
		response, err := message.Decode([]byte(reply.Content))
		if err != nil {
			return message.Message{}, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
		}
		return response, nil
	case <-timer.C:
		t.removePending(ev.ID)
		requestTimeouts.Inc()
		return message.Message{}, ErrTimeout
	case <-ctx.Done():
		t.removePending(ev.ID)
		return message.Message{}, fmt.Errorf("%w: %s", ErrTransport, ctx.Err())
	case <-t.HaltCh():
		t.removePending(ev.ID)
		return message.Message{}, fmt.Errorf("%w: transport halted", ErrTransport)
	}
}

// NumPending returns the number of outstanding correlation entries.
func (t *ClientTransport) NumPending() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.pending)
}

// Shutdown stops the drain worker and disconnects from the relays.
func (t *ClientTransport) Shutdown() {
	t.Halt()
	t.relay.Disconnect()
}

func (t *ClientTransport) removePending(id string) {
	t.lock.Lock()
	delete(t.pending, id)
	t.lock.Unlock()
}

// drain is the single background consumer of the inbound stream. One
// bad event must never take down the receive path, so every failure is
// logged and the event dropped.
func (t *ClientTransport) drain(events <-chan nostr.Event) {
	for {
		select {
		case <-t.HaltCh():
			return
		case ev, ok := <-events:
			if !ok {
				t.log.Warn("inbound stream closed")
				return
			}
			t.handleInbound(ev)
		}
	}
}

func (t *ClientTransport) handleInbound(ev nostr.Event) {
	inboundEvents.WithLabelValues("client").Inc()

	inner, _, err := t.relay.Unwrap(ev)
	if err != nil {
		droppedEvents.WithLabelValues(dropReasonUnwrap).Inc()
		t.log.Warn("failed to unwrap envelope", "id", ev.ID, "err", err)
		return
	}

	corrID := eventCorrelationID(&inner)
	if corrID == "" {
		droppedEvents.WithLabelValues(dropReasonUnmatched).Inc()
		t.log.Debug("inbound event without correlation tag", "id", inner.ID)
		return
	}

	t.lock.Lock()
	waiter, ok := t.pending[corrID]
	if ok {
		delete(t.pending, corrID)
	}
	t.lock.Unlock()

	if !ok {
		// Unsolicited, or the request already timed out.
		droppedEvents.WithLabelValues(dropReasonUnmatched).Inc()
		t.log.Debug("no pending request for reply", "request_id", corrID)
		return
	}
	waiter <- inner
}
