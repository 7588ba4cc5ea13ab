// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/k0sti/clarity/core/constants"
	"github.com/k0sti/clarity/core/message"
)

// pingPongHandler answers {"op":"ping"} style requests with a pong.
func pingPongHandler() HandlerFunc {
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

func TestEndToEndPlaintextPingPong(t *testing.T) {
	net := newMemNet()
	server, _ := newTestServer(t, net, message.EncryptionOptional, pingPongHandler())
	client, _ := newTestClient(t, net, 5*time.Second)

	request, err := message.NewRequest(1, "ping", map[string]string{"op": "ping"})
	require.NoError(t, err)

	response, err := client.SendRequest(context.Background(), testServerPubkey, request, false)
	require.NoError(t, err)
	require.Equal(t, message.TypeResponse, response.Type)

	var body struct {
		Result map[string]string `json:"result"`
	}
	require.NoError(t, json.Unmarshal(response.Raw, &body))
	require.Equal(t, "pong", body.Result["op"])

	sess, ok := server.Session(testClientPubkey)
	require.True(t, ok)
	require.False(t, sess.Encrypted)
}

func TestEndToEndEncryptedPingPong(t *testing.T) {
	net := newMemNet()
	server, serverRelay := newTestServer(t, net, message.EncryptionOptional, pingPongHandler())
	client, _ := newTestClient(t, net, 5*time.Second)

	request, err := message.NewRequest(2, "ping", map[string]string{"op": "ping"})
	require.NoError(t, err)

	response, err := client.SendRequest(context.Background(), testServerPubkey, request, true)
	require.NoError(t, err)

	var body struct {
		Result map[string]string `json:"result"`
	}
	require.NoError(t, json.Unmarshal(response.Raw, &body))
	require.Equal(t, "pong", body.Result["op"])

	// Optional mode mirrors: the session observed encrypted traffic
	// and the reply itself went out wrapped.
	sess, ok := server.Session(testClientPubkey)
	require.True(t, ok)
	require.True(t, sess.Encrypted)

	published := serverRelay.publishedEvents()
	// announcement + wrapped reply
	require.Len(t, published, 2)
	require.Equal(t, constants.KindGiftWrap, published[1].Kind)
}
