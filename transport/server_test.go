// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/k0sti/clarity/core/constants"
	"github.com/k0sti/clarity/core/message"
)

var testServerInfo = &message.ServerInfo{
	Name:    "test-server",
	Version: "0.1.0",
	About:   "server transport test fixture",
}

// pongHandler answers every request with a pong response.
func pongHandler() HandlerFunc {
	return func(ctx context.Context, in Incoming) (*message.Message, error) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(in.Message.Raw, &req); err != nil {
			return nil, err
		}
		var id interface{}
		if len(req.ID) > 0 {
			if err := json.Unmarshal(req.ID, &id); err != nil {
				return nil, err
			}
		}
		reply, err := message.NewResponse(id, map[string]string{"op": "pong"})
		if err != nil {
			return nil, err
		}
		return &reply, nil
	}
}

func newTestServer(t *testing.T, net *memNet, mode message.EncryptionMode, handler Handler) (*ServerTransport, *memRelay) {
	t.Helper()
	r := newMemRelay(net, testServerPubkey)
	st := NewServerTransport(r, &ServerConfig{
		RelayURLs:      []string{"wss://mem.invalid"},
		EncryptionMode: mode,
		ServerInfo:     testServerInfo,
		SessionTimeout: time.Minute,
	}, handler, testLogger())
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(st.Shutdown)
	return st, r
}

// sendToServer signs and publishes a request from cr to the test
// server, optionally gift wrapped, and returns the inner identifier.
func sendToServer(t *testing.T, cr *memRelay, payload string, wrapped bool) string {
	t.Helper()
	ev := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      constants.KindMessages,
		Tags:      nostr.Tags{{constants.TagPubkey, testServerPubkey}},
		Content:   payload,
	}
	require.NoError(t, cr.Sign(&ev))
	wire := ev
	if wrapped {
		var err error
		wire, err = cr.GiftWrap(testServerPubkey, ev)
		require.NoError(t, err)
	}
	_, err := cr.Publish(context.Background(), wire)
	require.NoError(t, err)
	return ev.ID
}

func awaitEvent(t *testing.T, ch <-chan nostr.Event) nostr.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nostr.Event{}
	}
}

func TestAnnounceRequiresServerInfo(t *testing.T) {
	net := newMemNet()
	r := newMemRelay(net, testServerPubkey)
	st := NewServerTransport(r, &ServerConfig{
		RelayURLs: []string{"wss://mem.invalid"},
	}, nil, testLogger())

	err := st.Announce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "server info not configured")
	require.Empty(t, r.publishedEvents())
}

func TestAnnouncePublishesMetadata(t *testing.T) {
	net := newMemNet()
	r := newMemRelay(net, testServerPubkey)
	st := NewServerTransport(r, &ServerConfig{
		RelayURLs:      []string{"wss://mem.invalid"},
		EncryptionMode: message.EncryptionOptional,
		ServerInfo:     testServerInfo,
	}, nil, testLogger())

	require.NoError(t, st.Announce(context.Background()))
	published := r.publishedEvents()
	require.Len(t, published, 1)
	ev := published[0]
	require.Equal(t, constants.KindServerAnnouncement, ev.Kind)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(ev.Content), &body))
	require.Equal(t, "test-server", body["name"])
	require.Equal(t, "0.1.0", body["version"])

	tags := map[string]string{}
	for _, tag := range ev.Tags {
		if len(tag) >= 2 {
			tags[tag[0]] = tag[1]
		}
	}
	require.Equal(t, "test-server", tags[constants.TagName])
	require.Equal(t, "true", tags[constants.TagSupportEncryption])
}

func TestPublishToolsWrapsListInOneDocument(t *testing.T) {
	net := newMemNet()
	r := newMemRelay(net, testServerPubkey)
	st := NewServerTransport(r, &ServerConfig{
		RelayURLs:  []string{"wss://mem.invalid"},
		ServerInfo: testServerInfo,
	}, nil, testLogger())

	tools := []json.RawMessage{
		json.RawMessage(`{"name":"echo"}`),
		json.RawMessage(`{"name":"reverse"}`),
	}
	require.NoError(t, st.PublishTools(context.Background(), tools))

	published := r.publishedEvents()
	require.Len(t, published, 1)
	require.Equal(t, constants.KindToolsList, published[0].Kind)
	require.JSONEq(t, `{"tools":[{"name":"echo"},{"name":"reverse"}]}`, published[0].Content)
}

func TestInboundCreatesSessionAndDispatches(t *testing.T) {
	net := newMemNet()
	st, _ := newTestServer(t, net, message.EncryptionOptional, pongHandler())

	cr := newMemRelay(net, testClientPubkey)
	replies, err := cr.Subscribe(context.Background(), []int{constants.KindMessages, constants.KindGiftWrap}, testClientPubkey)
	require.NoError(t, err)

	reqID := sendToServer(t, cr, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, false)

	reply := awaitEvent(t, replies)
	require.Equal(t, constants.KindMessages, reply.Kind)
	require.Equal(t, reqID, eventCorrelationID(&reply))
	require.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"op":"pong"}}`, reply.Content)

	sess, ok := st.Session(testClientPubkey)
	require.True(t, ok)
	require.False(t, sess.Encrypted)
	require.False(t, sess.Initialized)
}

func TestInboundEncryptedMirrorsOnReply(t *testing.T) {
	net := newMemNet()
	st, _ := newTestServer(t, net, message.EncryptionOptional, pongHandler())

	cr := newMemRelay(net, testClientPubkey)
	replies, err := cr.Subscribe(context.Background(), []int{constants.KindMessages, constants.KindGiftWrap}, testClientPubkey)
	require.NoError(t, err)

	reqID := sendToServer(t, cr, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, true)

	reply := awaitEvent(t, replies)
	require.Equal(t, constants.KindGiftWrap, reply.Kind)

	inner, wrapped, err := cr.Unwrap(reply)
	require.NoError(t, err)
	require.True(t, wrapped)
	require.Equal(t, reqID, eventCorrelationID(&inner))

	sess, ok := st.Session(testClientPubkey)
	require.True(t, ok)
	require.True(t, sess.Encrypted)
}

func TestRequiredModeDropsPlaintext(t *testing.T) {
	net := newMemNet()
	st, _ := newTestServer(t, net, message.EncryptionRequired, pongHandler())

	cr := newMemRelay(net, testClientPubkey)
	replies, err := cr.Subscribe(context.Background(), []int{constants.KindMessages, constants.KindGiftWrap}, testClientPubkey)
	require.NoError(t, err)

	sendToServer(t, cr, `{"jsonrpc":"2.0","id":3,"method":"ping"}`, false)

	// Refused before session creation; no reply, no session.
	select {
	case ev := <-replies:
		t.Fatalf("unexpected reply to refused plaintext: %v", ev)
	case <-time.After(200 * time.Millisecond):
	}
	require.Equal(t, 0, st.NumSessions())

	// Wrapped traffic still flows.
	reqID := sendToServer(t, cr, `{"jsonrpc":"2.0","id":4,"method":"ping"}`, true)
	reply := awaitEvent(t, replies)
	inner, _, err := cr.Unwrap(reply)
	require.NoError(t, err)
	require.Equal(t, reqID, eventCorrelationID(&inner))
}

func TestDisabledModeNeverWraps(t *testing.T) {
	net := newMemNet()
	_, _ = newTestServer(t, net, message.EncryptionDisabled, pongHandler())

	cr := newMemRelay(net, testClientPubkey)
	replies, err := cr.Subscribe(context.Background(), []int{constants.KindMessages, constants.KindGiftWrap}, testClientPubkey)
	require.NoError(t, err)

	sendToServer(t, cr, `{"jsonrpc":"2.0","id":5,"method":"ping"}`, true)

	reply := awaitEvent(t, replies)
	require.Equal(t, constants.KindMessages, reply.Kind)
}

func TestMalformedPayloadDoesNotKillLoop(t *testing.T) {
	net := newMemNet()
	st, _ := newTestServer(t, net, message.EncryptionOptional, pongHandler())

	cr := newMemRelay(net, testClientPubkey)
	replies, err := cr.Subscribe(context.Background(), []int{constants.KindMessages, constants.KindGiftWrap}, testClientPubkey)
	require.NoError(t, err)

	sendToServer(t, cr, `{not json`, false)
	sendToServer(t, cr, `{"jsonrpc":"2.0"}`, false)

	reqID := sendToServer(t, cr, `{"jsonrpc":"2.0","id":6,"method":"ping"}`, false)
	reply := awaitEvent(t, replies)
	require.Equal(t, reqID, eventCorrelationID(&reply))
	require.Equal(t, 1, st.NumSessions())
}

func TestInitializeMarksSession(t *testing.T) {
	net := newMemNet()
	st, _ := newTestServer(t, net, message.EncryptionOptional, pongHandler())

	cr := newMemRelay(net, testClientPubkey)
	replies, err := cr.Subscribe(context.Background(), []int{constants.KindMessages, constants.KindGiftWrap}, testClientPubkey)
	require.NoError(t, err)

	sendToServer(t, cr, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, false)
	awaitEvent(t, replies)

	sess, ok := st.Session(testClientPubkey)
	require.True(t, ok)
	require.True(t, sess.Initialized)
}

func TestCleanupInactiveSessionsIdempotent(t *testing.T) {
	net := newMemNet()
	st, _ := newTestServer(t, net, message.EncryptionOptional, pongHandler())

	cr := newMemRelay(net, testClientPubkey)
	replies, err := cr.Subscribe(context.Background(), []int{constants.KindMessages, constants.KindGiftWrap}, testClientPubkey)
	require.NoError(t, err)

	sendToServer(t, cr, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, false)
	awaitEvent(t, replies)
	require.Equal(t, 1, st.NumSessions())

	// Not yet idle long enough.
	require.Equal(t, 0, st.CleanupInactiveSessions())

	st.sessions.Lock()
	st.sessions.sessions[testClientPubkey].LastActivity = time.Now().Add(-time.Hour)
	st.sessions.Unlock()

	require.Equal(t, 1, st.CleanupInactiveSessions())
	require.Equal(t, 0, st.NumSessions())
	require.Equal(t, 0, st.CleanupInactiveSessions())
}

func TestSendResponseReturnsWireIdentifier(t *testing.T) {
	net := newMemNet()
	r := newMemRelay(net, testServerPubkey)
	st := NewServerTransport(r, &ServerConfig{
		RelayURLs:  []string{"wss://mem.invalid"},
		ServerInfo: testServerInfo,
	}, nil, testLogger())

	reply, err := message.NewResponse(1, map[string]string{"op": "pong"})
	require.NoError(t, err)

	plainID, err := st.SendResponse(context.Background(), testClientPubkey, reply, "req-id", false)
	require.NoError(t, err)

	wrappedID, err := st.SendResponse(context.Background(), testClientPubkey, reply, "req-id", true)
	require.NoError(t, err)

	published := r.publishedEvents()
	require.Len(t, published, 2)
	require.Equal(t, published[0].ID, plainID)
	require.Equal(t, published[1].ID, wrappedID)
	require.Equal(t, constants.KindGiftWrap, published[1].Kind)
	require.NotEqual(t, plainID, wrappedID)
}

func TestOversizeResponseRejected(t *testing.T) {
	net := newMemNet()
	r := newMemRelay(net, testServerPubkey)
	st := NewServerTransport(r, &ServerConfig{
		RelayURLs:  []string{"wss://mem.invalid"},
		ServerInfo: testServerInfo,
	}, nil, testLogger())

	big, err := message.NewResponse(1, strings.Repeat("x", constants.MaxMessageSize+1))
	require.NoError(t, err)
	_, err = st.SendResponse(context.Background(), testClientPubkey, big, "req-id", false)
	require.ErrorIs(t, err, ErrMessageTooLarge)
	require.Empty(t, r.publishedEvents())
}
