// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nbd-wtf/go-nostr"

	"github.com/k0sti/clarity/core/constants"
	"github.com/k0sti/clarity/core/message"
	"github.com/k0sti/clarity/core/worker"
)

// initializeMethod is the MCP handshake request method. Observing it
// marks the sender's session as initialized.
const initializeMethod = "initialize"

// Incoming is a decoded inbound message delivered to the dispatch
// handler. The transport's responsibility ends here: the handler gets
// the message plus the fact of whether it arrived encrypted, never a
// session handle.
type Incoming struct {
	// Sender is the counterparty identity.
	Sender string

	// EventID is the inner event identifier of the request; replies
	// must reference it.
	EventID string

	// Message is the decoded payload.
	Message message.Message

	// Encrypted reports whether the message arrived gift wrapped.
	Encrypted bool

	// SessionInitialized reports whether the sender's session had
	// completed the handshake when this message arrived.
	SessionInitialized bool
}

// Handler dispatches decoded inbound messages. A non-nil reply is sent
// back to the sender, wrapped according to the server's encryption
// policy.
type Handler interface {
	OnMessage(ctx context.Context, in Incoming) (*message.Message, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, in Incoming) (*message.Message, error)

// OnMessage implements Handler.
func (f HandlerFunc) OnMessage(ctx context.Context, in Incoming) (*message.Message, error) {
	return f(ctx, in)
}

// ServerConfig is the server transport configuration.
type ServerConfig struct {
	// RelayURLs are the relay endpoints to connect to.
	RelayURLs []string

	// EncryptionMode is this role's encryption policy.
	EncryptionMode message.EncryptionMode

	// ServerInfo is the announcement payload. Announce fails without
	// it.
	ServerInfo *message.ServerInfo

	// SessionTimeout is the idle eviction threshold. Zero means
	// DefaultSessionTimeout.
	SessionTimeout time.Duration
}

// ServerTransport subscribes to inbound traffic addressed to this
// server, unwraps envelopes, maintains per-counterparty sessions and
// dispatches decoded messages to the external handler.
type ServerTransport struct {
	worker.Worker

	log     *log.Logger
	relay   RelayClient
	cfg     *ServerConfig
	handler Handler

	sessions       *sessionTable
	sessionTimeout time.Duration
}

// NewServerTransport creates a server transport dispatching to handler.
func NewServerTransport(relay RelayClient, cfg *ServerConfig, handler Handler, mylog *log.Logger) *ServerTransport {
	registerMetrics()
	timeout := cfg.SessionTimeout
	if timeout == 0 {
		timeout = constants.DefaultSessionTimeout
	}
	return &ServerTransport{
		log:            mylog.WithPrefix("server_transport"),
		relay:          relay,
		cfg:            cfg,
		handler:        handler,
		sessions:       newSessionTable(),
		sessionTimeout: timeout,
	}
}

// Announce publishes the server announcement. A missing announcement
// payload is a configuration error, surfaced immediately.
func (t *ServerTransport) Announce(ctx context.Context) error {
	info := t.cfg.ServerInfo
	if info == nil {
		return fmt.Errorf("transport: server info not configured for announcement")
	}

	body, err := json.Marshal(map[string]interface{}{
		"name":    info.Name,
		"version": info.Version,
		"about":   info.About,
	})
	if err != nil {
		return fmt.Errorf("transport: serialize announcement: %w", err)
	}

	supportsEncryption := "false"
	if t.cfg.EncryptionMode != message.EncryptionDisabled {
		supportsEncryption = "true"
	}
	tags := nostr.Tags{
		{constants.TagName, info.Name},
		{constants.TagAbout, info.About},
		{constants.TagSupportEncryption, supportsEncryption},
	}
	if info.Website != "" {
		tags = append(tags, nostr.Tag{constants.TagWebsite, info.Website})
	}
	if info.Picture != "" {
		tags = append(tags, nostr.Tag{constants.TagPicture, info.Picture})
	}

	id, err := t.publish(ctx, constants.KindServerAnnouncement, tags, body)
	if err != nil {
		return err
	}
	t.log.Info("published server announcement", "id", id, "name", info.Name)
	return nil
}

// PublishTools publishes the tool list as one JSON document.
func (t *ServerTransport) PublishTools(ctx context.Context, tools []json.RawMessage) error {
	return t.publishList(ctx, constants.KindToolsList, "tools", tools)
}

// PublishResources publishes the resource list.
func (t *ServerTransport) PublishResources(ctx context.Context, resources []json.RawMessage) error {
	return t.publishList(ctx, constants.KindResourcesList, "resources", resources)
}

// PublishResourceTemplates publishes the resource template list.
func (t *ServerTransport) PublishResourceTemplates(ctx context.Context, templates []json.RawMessage) error {
	return t.publishList(ctx, constants.KindResourceTemplatesList, "resourceTemplates", templates)
}

// PublishPrompts publishes the prompt list.
func (t *ServerTransport) PublishPrompts(ctx context.Context, prompts []json.RawMessage) error {
	return t.publishList(ctx, constants.KindPromptsList, "prompts", prompts)
}

func (t *ServerTransport) publishList(ctx context.Context, kind int, key string, list []json.RawMessage) error {
	if list == nil {
		list = []json.RawMessage{}
	}
	body, err := json.Marshal(map[string]interface{}{key: list})
	if err != nil {
		return fmt.Errorf("transport: serialize %s list: %w", key, err)
	}
	id, err := t.publish(ctx, kind, nil, body)
	if err != nil {
		return err
	}
	t.log.Info("published list", "key", key, "count", len(list), "id", id)
	return nil
}

func (t *ServerTransport) publish(ctx context.Context, kind int, tags nostr.Tags, body []byte) (string, error) {
	if len(body) > constants.MaxMessageSize {
		return "", ErrMessageTooLarge
	}
	ev := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      kind,
		Tags:      tags,
		Content:   string(body),
	}
	if err := t.relay.Sign(&ev); err != nil {
		return "", fmt.Errorf("%w: sign: %s", ErrTransport, err)
	}
	id, err := t.relay.Publish(ctx, ev)
	if err != nil {
		return "", fmt.Errorf("%w: publish: %s", ErrTransport, err)
	}
	publishedEvents.WithLabelValues("server").Inc()
	return id, nil
}

// Start connects to the relays, announces the server and spawns the
// inbound processing loop. The loop runs until the notification stream
// ends or the transport is halted; per-event failures never terminate
// it.
func (t *ServerTransport) Start(ctx context.Context) error {
	if err := t.relay.Connect(ctx, t.cfg.RelayURLs); err != nil {
		return fmt.Errorf("%w: %s", ErrTransport, err)
	}
	if err := t.Announce(ctx); err != nil {
		return err
	}

	events, err := t.relay.Subscribe(ctx,
		[]int{constants.KindMessages, constants.KindGiftWrap},
		t.relay.PublicKey())
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTransport, err)
	}

	t.log.Info("server listening", "pubkey", t.relay.PublicKey())
	t.Go(func() {
		t.inboundLoop(ctx, events)
	})
	return nil
}

// SendResponse builds, signs and publishes a reply tagged with the
// recipient identity and a back-reference to the request it answers.
// Returns the identifier of what was actually published on the wire,
// which differs from the inner identifier when the reply is wrapped.
func (t *ServerTransport) SendResponse(ctx context.Context, recipient string, response message.Message, inReplyTo string, useEncryption bool) (string, error) {
	payload, err := response.Encode()
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}
	if len(payload) > constants.MaxMessageSize {
		return "", ErrMessageTooLarge
	}

	ev := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      constants.KindMessages,
		Tags: nostr.Tags{
			{constants.TagPubkey, recipient},
			{constants.TagEvent, inReplyTo},
		},
		Content: string(payload),
	}
	if err := t.relay.Sign(&ev); err != nil {
		return "", fmt.Errorf("%w: sign: %s", ErrTransport, err)
	}

	wire := ev
	if useEncryption {
		wire, err = t.relay.GiftWrap(recipient, ev)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrEncryption, err)
		}
	}

	id, err := t.relay.Publish(ctx, wire)
	if err != nil {
		return "", fmt.Errorf("%w: publish: %s", ErrTransport, err)
	}
	publishedEvents.WithLabelValues("server").Inc()
	t.log.Debug("response sent", "in_reply_to", inReplyTo, "recipient", recipient, "encrypted", useEncryption)
	return id, nil
}

// CleanupInactiveSessions evicts every session idle past the configured
// timeout and returns how many were removed. Intended to run on a
// recurring timer owned by the caller; idempotent.
func (t *ServerTransport) CleanupInactiveSessions() int {
	evicted := t.sessions.sweep(t.sessionTimeout)
	activeSessions.Set(float64(t.sessions.count()))
	if evicted > 0 {
		t.log.Debug("evicted inactive sessions", "count", evicted)
	}
	return evicted
}

// Session returns a snapshot of the session for pubkey.
func (t *ServerTransport) Session(pubkey string) (Session, bool) {
	return t.sessions.get(pubkey)
}

// NumSessions returns the number of live sessions.
func (t *ServerTransport) NumSessions() int {
	return t.sessions.count()
}

// Shutdown stops the inbound loop and disconnects from the relays.
func (t *ServerTransport) Shutdown() {
	t.Halt()
	t.relay.Disconnect()
}

func (t *ServerTransport) inboundLoop(ctx context.Context, events <-chan nostr.Event) {
	for {
		select {
		case <-t.HaltCh():
			return
		case ev, ok := <-events:
			if !ok {
				t.log.Warn("inbound stream closed")
				return
			}
			t.handleEvent(ctx, ev)
		}
	}
}

// handleEvent processes one inbound event. Malformed envelopes and
// payloads are dropped with a logged warning; one bad message must
// never take down the receive path for other counterparties.
func (t *ServerTransport) handleEvent(ctx context.Context, ev nostr.Event) {
	inboundEvents.WithLabelValues("server").Inc()

	inner, wrapped, err := t.relay.Unwrap(ev)
	if err != nil {
		droppedEvents.WithLabelValues(dropReasonUnwrap).Inc()
		t.log.Warn("failed to unwrap envelope", "id", ev.ID, "err", err)
		return
	}

	if !wrapped && t.cfg.EncryptionMode == message.EncryptionRequired {
		// Policy decision: under Required, plaintext traffic is
		// refused outright rather than silently processed.
		droppedEvents.WithLabelValues(dropReasonPlaintext).Inc()
		t.log.Warn("dropping plaintext message, encryption required", "sender", inner.PubKey)
		return
	}

	if len(inner.Content) > constants.MaxMessageSize {
		droppedEvents.WithLabelValues(dropReasonOversize).Inc()
		t.log.Warn("dropping oversize message", "sender", inner.PubKey, "size", len(inner.Content))
		return
	}

	sess := t.sessions.touch(inner.PubKey, wrapped)
	activeSessions.Set(float64(t.sessions.count()))

	msg, err := message.Decode([]byte(inner.Content))
	if err != nil {
		droppedEvents.WithLabelValues(dropReasonMalformed).Inc()
		t.log.Warn("dropping malformed payload", "sender", inner.PubKey, "err", err)
		return
	}

	if msg.Type == message.TypeRequest && msg.Method() == initializeMethod {
		t.sessions.markInitialized(inner.PubKey)
	}

	if t.handler == nil {
		t.log.Debug("no handler configured, message ignored", "sender", inner.PubKey)
		return
	}

	reply, err := t.handler.OnMessage(ctx, Incoming{
		Sender:             inner.PubKey,
		EventID:            inner.ID,
		Message:            msg,
		Encrypted:          wrapped,
		SessionInitialized: sess.Initialized,
	})
	if err != nil {
		t.log.Warn("handler failed", "sender", inner.PubKey, "err", err)
		return
	}
	if reply == nil {
		return
	}

	useEncryption := t.cfg.EncryptionMode.ShouldEncrypt(wrapped)
	if _, err := t.SendResponse(ctx, inner.PubKey, *reply, inner.ID, useEncryption); err != nil {
		t.log.Warn("failed to send response", "sender", inner.PubKey, "err", err)
	}
}
