// Package session implements the session registry and connection model
// from SPEC_FULL.md §4.E, grounded on internal prototype
// internal/core/channel_state.go's ChannelState (RWMutex-protected map,
// atomic counters, per-user mailbox channel) and
// original_source/src/server/session.rs's minimal Session.
//
// Redesign flags addressed here (SPEC_FULL.md §9):
//   - Connection holds only a lookup key (UserID), never an owning pointer
//     back to its Session — the cycle from the source (Session lists
//     Connections; Connection carries a handle back to Session) is broken.
//   - No global singletons: the Registry is constructed once and passed
//     explicitly to every dispatcher.
package session

import (
	"sync"
	"sync/atomic"

	"ppgram/server/internal/dbgw"
)

// Credentials identifies an authenticated session, per SPEC_FULL.md §3.
type Credentials struct {
	UserID    dbgw.UserID
	SessionID string
}

var connIDSeq atomic.Uint64

// Connection is a transport handle plus an outbound mailbox. It carries
// only a non-owning lookup key back to its Session (its UserID, once
// authenticated) — never a pointer — so the dispatcher resolves the
// current Session through the Registry on demand.
type Connection struct {
	ID      uint64
	Mailbox chan Event

	mu          sync.Mutex
	boundUserID dbgw.UserID // zero until authenticated/bound
}

// Event is one realtime fan-out payload (SPEC_FULL.md §4.H); Payload is the
// already-marshaled JSON event body.
type Event struct {
	Name    string
	Payload []byte
}

// MailboxCapacity is the bounded mailbox size from SPEC_FULL.md §4.H.
const MailboxCapacity = 10

// NewConnection creates a Connection with a fresh bounded mailbox.
func NewConnection() *Connection {
	return &Connection{ID: connIDSeq.Add(1), Mailbox: make(chan Event, MailboxCapacity)}
}

// BoundUserID returns the user this connection currently resolves to, or 0
// if it is still anonymous.
func (c *Connection) BoundUserID() dbgw.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boundUserID
}

func (c *Connection) setBoundUserID(id dbgw.UserID) {
	c.mu.Lock()
	c.boundUserID = id
	c.mu.Unlock()
}

// Session owns an ordered list of Connections and, once authenticated, a
// set of Credentials. Mirrors the source's Session/connections map but
// with Connections holding no back-reference.
type Session struct {
	mu          sync.Mutex
	connections []*Connection
	creds       *Credentials
}

// IsAuthenticated reports whether this session has credentials.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds != nil
}

// Credentials returns a copy of the session's credentials, if any.
func (s *Session) GetCredentials() (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return Credentials{}, false
	}
	return *s.creds, true
}

// Connections returns a snapshot of the session's connection list in
// insertion order.
func (s *Session) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, len(s.connections))
	copy(out, s.connections)
	return out
}

func (s *Session) addConnection(c *Connection) {
	s.mu.Lock()
	s.connections = append(s.connections, c)
	s.mu.Unlock()
}

// removeConnection removes c and reports whether the session is now empty.
func (s *Session) removeConnection(c *Connection) (empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.connections {
		if existing == c {
			s.connections = append(s.connections[:i], s.connections[i+1:]...)
			break
		}
	}
	return len(s.connections) == 0
}

func (s *Session) authenticate(creds Credentials) {
	s.mu.Lock()
	s.creds = &creds
	s.mu.Unlock()
}

// Registry is the process-wide user_id → Session map (SPEC_FULL.md §4.E).
type Registry struct {
	mu       sync.RWMutex
	byUser   map[dbgw.UserID]*Session
	anonymous map[*Connection]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser:    make(map[dbgw.UserID]*Session),
		anonymous: make(map[*Connection]*Session),
	}
}

// NewAnonymousSession creates an unauthenticated Session for a freshly
// accepted Connection and attaches the connection to it, mirroring the
// acceptor creating "an anonymous Session" per SPEC_FULL.md §4.I.
func (r *Registry) NewAnonymousSession(conn *Connection) *Session {
	sess := &Session{}
	sess.addConnection(conn)

	r.mu.Lock()
	r.anonymous[conn] = sess
	r.mu.Unlock()
	return sess
}

// SessionFor resolves a Connection's current Session: its bound
// authenticated Session if it has one, otherwise its anonymous Session.
func (r *Registry) SessionFor(conn *Connection) *Session {
	if uid := conn.BoundUserID(); uid != 0 {
		r.mu.RLock()
		sess := r.byUser[uid]
		r.mu.RUnlock()
		if sess != nil {
			return sess
		}
	}
	r.mu.RLock()
	sess := r.anonymous[conn]
	r.mu.RUnlock()
	return sess
}

// Authenticate promotes conn's anonymous session to an authenticated one
// under creds, registering it in the user_id → Session map. If a Session
// already exists for that user (e.g. a second device), conn is attached to
// the existing Session instead and its anonymous session is discarded.
func (r *Registry) Authenticate(conn *Connection, creds Credentials) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.anonymous, conn)

	sess, ok := r.byUser[creds.UserID]
	if !ok {
		sess = &Session{}
		sess.authenticate(creds)
		r.byUser[creds.UserID] = sess
	}
	sess.addConnection(conn)
	conn.setBoundUserID(creds.UserID)
	return sess
}

// Bind migrates conn from its current session to the authenticated session
// identified by creds, mirroring methods/bind.rs: validates the target
// session exists and the token matches before moving the connection.
func (r *Registry) Bind(conn *Connection, creds Credentials) (*Session, bool) {
	r.mu.Lock()
	target, ok := r.byUser[creds.UserID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	targetCreds, _ := target.GetCredentials()
	if targetCreds.SessionID != creds.SessionID {
		return nil, false
	}

	prev := r.SessionFor(conn)
	if prev != nil && prev != target {
		if empty := prev.removeConnection(conn); empty {
			r.evictIfAnonymousOrEmpty(prev, conn)
		}
	}

	target.addConnection(conn)
	conn.setBoundUserID(creds.UserID)
	return target, true
}

// Disconnect removes conn from its current Session and, if that empties an
// authenticated Session, evicts the Session from the registry. Intended to
// run under defer at the end of a connection's lifetime (SPEC_FULL.md §9's
// "scoped-cleanup idiom" redesign flag, replacing the source's
// Drop-based cleanup).
func (r *Registry) Disconnect(conn *Connection) {
	sess := r.SessionFor(conn)
	if sess == nil {
		return
	}
	empty := sess.removeConnection(conn)
	if empty {
		r.evictIfAnonymousOrEmpty(sess, conn)
	}
}

func (r *Registry) evictIfAnonymousOrEmpty(sess *Session, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.anonymous, conn)
	if creds, ok := sess.GetCredentials(); ok {
		if r.byUser[creds.UserID] == sess {
			delete(r.byUser, creds.UserID)
		}
	}
}

// Lookup resolves a user's Session by id, for routing fan-out events to a
// recipient who may or may not be online.
func (r *Registry) Lookup(userID dbgw.UserID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byUser[userID]
	return sess, ok
}

// Snapshot reports how many authenticated sessions and anonymous
// connections currently exist, for the ops side-channel's /stats endpoint.
func (r *Registry) Snapshot() (authenticated int, anonymous int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser), len(r.anonymous)
}
