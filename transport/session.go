// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

package transport

import (
	"sync"
	"time"
)

// Session is the per-counterparty state owned by the server transport.
// Callers only ever see copies; the table is the single writer.
type Session struct {
	// Pubkey is the counterparty identity.
	Pubkey string

	// Initialized is set once an initialize handshake request has
	// been observed on this session.
	Initialized bool

	// Encrypted records the observed encryption state of the
	// counterparty's traffic.
	Encrypted bool

	// LastActivity is refreshed on every inbound message.
	LastActivity time.Time
}

// sessionTable holds sessions under a multi-reader/single-writer lock.
// Critical sections are kept minimal; no I/O happens under the lock.
type sessionTable struct {
	sync.RWMutex
	sessions map[string]*Session
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		sessions: make(map[string]*Session),
	}
}

// touch refreshes (or creates) the session for pubkey and returns a
// snapshot of its state after the update. A fresh session adopts the
// encryption state of the message that created it; an existing session
// tracks the most recently observed state.
func (t *sessionTable) touch(pubkey string, encrypted bool) Session {
	t.Lock()
	defer t.Unlock()

	s, ok := t.sessions[pubkey]
	if !ok {
		s = &Session{Pubkey: pubkey, Encrypted: encrypted}
		t.sessions[pubkey] = s
	}
	s.Encrypted = encrypted
	s.LastActivity = time.Now()
	return *s
}

// markInitialized records handshake completion for pubkey. Unknown
// identities are ignored; the session may have been evicted between
// dispatch and the mark.
func (t *sessionTable) markInitialized(pubkey string) {
	t.Lock()
	defer t.Unlock()

	if s, ok := t.sessions[pubkey]; ok {
		s.Initialized = true
	}
}

// get returns a snapshot of the session for pubkey.
func (t *sessionTable) get(pubkey string) (Session, bool) {
	t.RLock()
	defer t.RUnlock()

	s, ok := t.sessions[pubkey]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// count returns the number of live sessions.
func (t *sessionTable) count() int {
	t.RLock()
	defer t.RUnlock()

	return len(t.sessions)
}

// sweep evicts every session idle past timeout and returns how many
// were removed. Safe to run concurrently with touch: a message for an
// evicted identity simply re-creates the session.
func (t *sessionTable) sweep(timeout time.Duration) int {
	t.Lock()
	defer t.Unlock()

	evicted := 0
	for pubkey, s := range t.sessions {
		if time.Since(s.LastActivity) >= timeout {
			delete(t.sessions, pubkey)
			evicted++
		}
	}
	return evicted
}
