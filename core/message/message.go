// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package message defines the protocol payload types shared by the
// client and server transports: the MCP JSON-RPC message union, server
// announcement metadata and the transport encryption policy.
package message

import (
	"encoding/json"
	"fmt"
)

// Type discriminates the JSON-RPC message union.
type Type int

const (
	// TypeRequest is a JSON-RPC call carrying a method and an id.
	TypeRequest Type = iota

	// TypeResponse is a JSON-RPC reply carrying a result or an error.
	TypeResponse

	// TypeNotification is a JSON-RPC call without an id; no reply is
	// expected.
	TypeNotification
)

// String returns a human readable name for t.
func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	case TypeNotification:
		return "notification"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Message is an MCP JSON-RPC message. The payload is kept opaque;
// shape is validated only at the boundary where the message is decoded
// from the wire, and concrete operations extract what they need from
// Raw.
type Message struct {
	Type Type
	Raw  json.RawMessage
}

// probe is the minimal JSON-RPC shape used to classify a payload.
type probe struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// Decode parses and classifies a wire payload.
func Decode(payload []byte) (Message, error) {
	var p probe
	if err := json.Unmarshal(payload, &p); err != nil {
		return Message{}, fmt.Errorf("message: malformed payload: %w", err)
	}
	switch {
	case p.Method != "" && len(p.ID) > 0:
		return Message{Type: TypeRequest, Raw: payload}, nil
	case len(p.Result) > 0 || len(p.Error) > 0:
		return Message{Type: TypeResponse, Raw: payload}, nil
	case p.Method != "":
		return Message{Type: TypeNotification, Raw: payload}, nil
	default:
		return Message{}, fmt.Errorf("message: payload is neither request, response nor notification")
	}
}

// Encode returns the wire form of m.
func (m Message) Encode() ([]byte, error) {
	if len(m.Raw) == 0 {
		return nil, fmt.Errorf("message: empty payload")
	}
	return m.Raw, nil
}

// Method returns the JSON-RPC method of a request or notification, or
// the empty string for responses.
func (m Message) Method() string {
	var p probe
	if err := json.Unmarshal(m.Raw, &p); err != nil {
		return ""
	}
	return p.Method
}

// NewRequest builds a JSON-RPC request message.
func NewRequest(id interface{}, method string, params interface{}) (Message, error) {
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeRequest, Raw: raw}, nil
}

// NewResponse builds a JSON-RPC response message.
func NewResponse(id interface{}, result interface{}) (Message, error) {
	raw, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeResponse, Raw: raw}, nil
}

// ServerInfo is the announcement metadata published under the server
// announcement kind.
type ServerInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Website string `json:"website,omitempty"`
	Picture string `json:"picture,omitempty"`
	About   string `json:"about,omitempty"`
}
