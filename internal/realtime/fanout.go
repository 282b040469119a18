// Package realtime implements the per-connection mailbox fan-out and the
// debounced typing broadcaster from SPEC_FULL.md §4.H.
//
// Grounded on internal/core/channel_state.go's trySend (non-blocking send
// with a brief timeout, drop on full) and
// original_source/src/server/message/handlers/json_handler.rs's
// typing_recv_task (the 1000ms quiet-window state machine).
package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	"ppgram/server/internal/dbgw"
	"ppgram/server/internal/session"
)

// SendTimeout bounds how long TrySend blocks on a full mailbox before
// dropping the event, mirroring channel_state.go's trySend.
const SendTimeout = 200 * time.Millisecond

// TrySend enqueues an event without blocking the caller indefinitely:
// deliver immediately if there's room, otherwise wait briefly, otherwise
// drop. Matches SPEC_FULL.md §4.H's documented mailbox-full policy.
func TrySend(conn *session.Connection, name string, payload any) (ok bool) {
	body, err := json.Marshal(withEventTag(name, payload))
	if err != nil {
		slog.Error("fan-out payload marshal failed", "event", name, "err", err)
		return false
	}
	evt := session.Event{Name: name, Payload: body}

	select {
	case conn.Mailbox <- evt:
		return true
	case <-time.After(SendTimeout):
		slog.Debug("fan-out dropped: mailbox full", "event", name, "conn_id", conn.ID)
		return false
	}
}

// Broadcast delivers an event to a user's primary connection if they're
// online; it silently drops the event if they're not, per SPEC_FULL.md
// §4.H's "offline users receive no replay" policy.
func Broadcast(registry *session.Registry, userID dbgw.UserID, name string, payload any) {
	sess, ok := registry.Lookup(userID)
	if !ok {
		return
	}
	conns := sess.Connections()
	if len(conns) == 0 {
		return
	}
	TrySend(conns[0], name, payload)
}

// BroadcastToMany delivers an event to every userID in recipients.
func BroadcastToMany(registry *session.Registry, recipients []dbgw.UserID, name string, payload any) {
	for _, r := range recipients {
		Broadcast(registry, r, name, payload)
	}
}

// withEventTag stamps the outbound envelope with {"event": name}, the
// wire-level discriminant clients use to tell events apart from method
// responses (which carry {"method": ...} instead). Call sites pass a plain
// map of event-specific fields; this is where "event" gets merged in, so
// handlers never have to remember it themselves.
func withEventTag(name string, payload any) map[string]any {
	if m, ok := payload.(map[string]any); ok {
		out := make(map[string]any, len(m)+1)
		for k, v := range m {
			out[k] = v
		}
		out["event"] = name
		return out
	}
	return map[string]any{"event": name, "payload": payload}
}
