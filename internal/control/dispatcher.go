// Package control implements the control-plane dispatcher from
// SPEC_FULL.md §4.F: one JSON method router per connection, backed by the
// dbgw gateways, the session registry, and the realtime fan-out.
//
// Grounded on original_source/src/server/message/handlers/json_handler.rs's
// method match and the teacher's internal/ws/handler.go serveConn/dispatch
// shape (read a frame, route by a string tag, always answer with exactly
// one response frame).
package control

import (
	"encoding/json"
	"log/slog"

	"ppgram/server/internal/dbgw"
	"ppgram/server/internal/dbpool"
	"ppgram/server/internal/frame"
	"ppgram/server/internal/metrics"
	"ppgram/server/internal/ppgerr"
	"ppgram/server/internal/realtime"
	"ppgram/server/internal/session"
)

// Dispatcher holds everything one connection's control-plane frames need:
// the gateways over its database bucket, its Connection/Session handle, and
// the shared registry and typing debouncer.
type Dispatcher struct {
	registry *session.Registry
	conn     *session.Connection
	bucket   dbpool.Bucket

	users    usersGateway
	chats    chatsGateway
	messages messagesGateway
	drafts   *dbgw.DraftsDB

	typing  *realtime.TypingDebouncer
	metrics *metrics.Counters
}

// NewDispatcher constructs a Dispatcher wired to bucket's gateways.
func NewDispatcher(registry *session.Registry, conn *session.Connection, bucket dbpool.Bucket, typing *realtime.TypingDebouncer, counters *metrics.Counters) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		conn:     conn,
		bucket:   bucket,
		users:    dbgw.Users(bucket),
		chats:    dbgw.Chats(bucket),
		messages: dbgw.Messages(bucket),
		drafts:   dbgw.Drafts(bucket),
		typing:   typing,
		metrics:  counters,
	}
}

var authMethods = map[string]bool{"login": true, "auth": true, "register": true}

// responseMethod maps a request's method to the method tag used on its
// response, for the one case where they diverge (join → join_group).
func responseMethod(method string) string {
	if method == "join" {
		return "join_group"
	}
	return method
}

// HandleFrame processes one complete control-plane JSON payload and returns
// the framed response bytes ready to write back.
func (d *Dispatcher) HandleFrame(raw []byte) []byte {
	var req map[string]any
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorFrame("", "Malformed request")
	}
	method, _ := req["method"].(string)
	if method == "" {
		return errorFrame("", "Missing method")
	}

	if !authMethods[method] {
		sess := d.registry.SessionFor(d.conn)
		if sess == nil || !sess.IsAuthenticated() {
			return errorFrame(method, "You aren't authenticated!")
		}
	}

	resp, err := d.route(method, req)
	if err != nil {
		perr, ok := ppgerr.As(err)
		msg := err.Error()
		if ok {
			msg = perr.ClientMessage()
			if perr.Kind == ppgerr.KindStorage {
				slog.Error("control handler storage error", "method", method, "err", perr.Cause)
			}
		}
		return errorFrame(method, msg)
	}

	if resp == nil {
		resp = map[string]any{}
	}
	if _, set := resp["ok"]; !set {
		resp["ok"] = true
	}
	resp["method"] = responseMethod(method)
	body, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		slog.Error("control response marshal failed", "method", method, "err", marshalErr)
		return errorFrame(method, "Internal error.")
	}
	return frame.Pack(body)
}

func errorFrame(method, msg string) []byte {
	body, _ := json.Marshal(map[string]any{"ok": false, "method": responseMethod(method), "error": msg})
	return frame.Pack(body)
}

func (d *Dispatcher) route(method string, req map[string]any) (map[string]any, error) {
	switch method {
	case "register":
		return d.handleRegister(req)
	case "login":
		return d.handleLogin(req)
	case "auth":
		return d.handleAuth(req)
	case "send_message":
		return d.handleSendMessage(req)
	case "edit":
		return d.handleEdit(req)
	case "delete":
		return d.handleDelete(req)
	case "fetch":
		return d.handleFetch(req)
	case "check":
		return d.handleCheck(req)
	case "bind":
		return d.handleBind(req)
	case "new":
		return d.handleNew(req)
	case "join":
		return d.handleJoin(req)
	default:
		return nil, ppgerr.New(ppgerr.KindProtocolJSON, "Unknown method")
	}
}

// selfID returns the authenticated user behind the current connection. Only
// valid for methods other than login/auth/register, which HandleFrame has
// already gated on authentication.
func (d *Dispatcher) selfID() dbgw.UserID {
	sess := d.registry.SessionFor(d.conn)
	creds, _ := sess.GetCredentials()
	return creds.UserID
}

// resolveChatID translates a client-supplied view chat_id into the real
// storage chat_id: positive values name a peer user_id (private chat, looked
// up via FindPrivateChat), negative values are already the real group id.
func (d *Dispatcher) resolveChatID(self dbgw.UserID, raw int32) (dbgw.ChatID, error) {
	if raw > 0 {
		peer := dbgw.UserID(raw)
		real, found, err := d.chats.FindPrivateChat(self, peer)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, ppgerr.New(ppgerr.KindNotFound, "Chat not found")
		}
		return real, nil
	}
	chatID := dbgw.ChatID(raw)
	exists, err := d.chats.ChatExists(chatID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ppgerr.New(ppgerr.KindNotFound, "Chat not found")
	}
	return chatID, nil
}

// bumpAuthenticated records a newly-authenticated session with the shared
// counters, if any are wired in.
func (d *Dispatcher) bumpAuthenticated() {
	if d.metrics != nil {
		d.metrics.AuthenticatedUsers.Add(1)
	}
}

func userToMap(u *dbgw.User) map[string]any {
	return map[string]any{
		"user_id":    int32(u.ID),
		"name":       u.Name,
		"username":   u.Username,
		"photo_hash": u.PhotoHash,
	}
}

func messageToMap(m dbgw.Message, viewChatID dbgw.ChatID) map[string]any {
	out := map[string]any{
		"message_id": m.MessageID,
		"chat_id":    int32(viewChatID),
		"from_id":    int32(m.FromID),
		"is_unread":  m.IsUnread,
		"edited":     m.Edited,
		"date":       m.Date,
	}
	if m.ReplyTo != nil {
		out["reply_to"] = *m.ReplyTo
	}
	if m.Content != nil {
		out["content"] = *m.Content
	}
	if m.Sha256Hashes != nil {
		out["sha256_hashes"] = m.Sha256Hashes
	}
	return out
}
