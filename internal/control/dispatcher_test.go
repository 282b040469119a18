package control

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"ppgram/server/internal/dbgw"
	"ppgram/server/internal/ppgerr"
	"ppgram/server/internal/realtime"
	"ppgram/server/internal/session"
)

// fakeUsers, fakeChats, and fakeMessages are minimal in-memory stand-ins for
// the real gocql-backed gateways, letting HandleFrame be driven end to end
// without a live Cassandra session.

type fakeUsers struct {
	byID       map[dbgw.UserID]*dbgw.User
	byUsername map[string]dbgw.UserID
	nextID     int32
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[dbgw.UserID]*dbgw.User{}, byUsername: map[string]dbgw.UserID{}}
}

func (f *fakeUsers) Exists(username string) (bool, error) {
	_, ok := f.byUsername[username]
	return ok, nil
}

func (f *fakeUsers) Register(name, username, password string) (dbgw.UserID, string, error) {
	if _, ok := f.byUsername[username]; ok {
		return 0, "", ppgerr.New(ppgerr.KindConflict, "Username taken")
	}
	f.nextID++
	id := dbgw.UserID(f.nextID)
	f.byID[id] = &dbgw.User{ID: id, Name: name, Username: username}
	f.byUsername[username] = id
	return id, "token-" + username, nil
}

func (f *fakeUsers) Login(username, password string) (dbgw.UserID, string, error) {
	id, ok := f.byUsername[username]
	if !ok {
		return 0, "", ppgerr.New(ppgerr.KindAuth, "Invalid credentials")
	}
	return id, "token-" + username, nil
}

func (f *fakeUsers) Auth(userID dbgw.UserID, sessionID string) (bool, error) {
	u, ok := f.byID[userID]
	if !ok {
		return false, nil
	}
	return sessionID == "token-"+u.Username, nil
}

func (f *fakeUsers) FetchUser(ref dbgw.UserRef) (*dbgw.User, error) {
	if ref.Username != "" {
		id, ok := f.byUsername[ref.Username]
		if !ok {
			return nil, nil
		}
		return f.byID[id], nil
	}
	return f.byID[ref.ID], nil
}

func (f *fakeUsers) EditSelf(userID dbgw.UserID, name, username, photoHash, newPassword string) error {
	u, ok := f.byID[userID]
	if !ok {
		return ppgerr.New(ppgerr.KindNotFound, "User not found")
	}
	u.Name = name
	u.Username = username
	u.PhotoHash = photoHash
	return nil
}

type fakeChats struct {
	chats      map[dbgw.ChatID]*dbgw.Chat
	privateOf  map[[2]dbgw.UserID]dbgw.ChatID
	nextID     int32
}

func newFakeChats() *fakeChats {
	return &fakeChats{chats: map[dbgw.ChatID]*dbgw.Chat{}, privateOf: map[[2]dbgw.UserID]dbgw.ChatID{}}
}

func privateKey(a, b dbgw.UserID) [2]dbgw.UserID {
	if a > b {
		a, b = b, a
	}
	return [2]dbgw.UserID{a, b}
}

func (f *fakeChats) CreatePrivate(a, b dbgw.UserID) (dbgw.ChatID, error) {
	f.nextID++
	id := dbgw.ChatID(f.nextID)
	f.chats[id] = &dbgw.Chat{ChatID: id, IsGroup: false, Participants: []dbgw.UserID{a, b}}
	f.privateOf[privateKey(a, b)] = id
	return id, nil
}

func (f *fakeChats) CreateGroup(participants []dbgw.UserID, details dbgw.ChatDetails) (dbgw.ChatID, error) {
	f.nextID++
	id := dbgw.ChatID(-f.nextID)
	f.chats[id] = &dbgw.Chat{ChatID: id, IsGroup: true, Participants: participants}
	return id, nil
}

func (f *fakeChats) AddParticipant(chatID dbgw.ChatID, userID dbgw.UserID) error {
	c, ok := f.chats[chatID]
	if !ok {
		return ppgerr.New(ppgerr.KindNotFound, "Chat not found")
	}
	c.Participants = append(c.Participants, userID)
	return nil
}

func (f *fakeChats) ChatExists(chatID dbgw.ChatID) (bool, error) {
	_, ok := f.chats[chatID]
	return ok, nil
}

func (f *fakeChats) FetchChat(selfUserID dbgw.UserID, chatID dbgw.ChatID, users dbgw.UserFetcher) (*dbgw.Chat, *dbgw.ChatDetails, error) {
	c, ok := f.chats[chatID]
	if !ok {
		return nil, nil, nil
	}
	if c.IsGroup {
		return c, &dbgw.ChatDetails{ChatID: chatID, IsGroup: true}, nil
	}
	var peer dbgw.UserID
	for _, p := range c.Participants {
		if p != selfUserID {
			peer = p
		}
	}
	peerUser, err := users.FetchUser(dbgw.RefByID(peer))
	if err != nil {
		return nil, nil, err
	}
	if peerUser == nil {
		return c, &dbgw.ChatDetails{ChatID: chatID, IsGroup: false}, nil
	}
	return c, &dbgw.ChatDetails{ChatID: chatID, Name: peerUser.Name, Username: peerUser.Username}, nil
}

func (f *fakeChats) FindPrivateChat(a, b dbgw.UserID) (dbgw.ChatID, bool, error) {
	id, ok := f.privateOf[privateKey(a, b)]
	return id, ok, nil
}

func (f *fakeChats) FetchChatsFor(selfUserID dbgw.UserID) ([]dbgw.ChatID, error) {
	var out []dbgw.ChatID
	for id, c := range f.chats {
		for _, p := range c.Participants {
			if p == selfUserID {
				out = append(out, id)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeChats) CreateInvitationHash(groupChatID dbgw.ChatID) (string, error) {
	return "invite-hash", nil
}

func (f *fakeChats) GetChatByInvitationHash(hash string) (dbgw.ChatID, bool, error) {
	return 0, false, nil
}

type fakeMessages struct {
	byChat map[dbgw.ChatID][]dbgw.Message
	nextID int32
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{byChat: map[dbgw.ChatID][]dbgw.Message{}}
}

func (f *fakeMessages) AddMessage(chatID dbgw.ChatID, fromID dbgw.UserID, content dbgw.MessageContent) (*dbgw.Message, error) {
	f.nextID++
	msg := dbgw.Message{
		MessageID:    f.nextID,
		FromID:       fromID,
		Content:      content.Content,
		ReplyTo:      content.ReplyTo,
		Sha256Hashes: content.Sha256Hashes,
	}
	f.byChat[chatID] = append(f.byChat[chatID], msg)
	return &msg, nil
}

func (f *fakeMessages) MessageExists(chatID dbgw.ChatID, messageID int32) (bool, error) {
	for _, m := range f.byChat[chatID] {
		if m.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMessages) FetchMessages(chatID dbgw.ChatID, start, end int32) ([]dbgw.Message, error) {
	return f.byChat[chatID], nil
}

func (f *fakeMessages) EditMessage(chatID dbgw.ChatID, messageID int32, isUnread bool, content *string, replyTo *int32, hashes []string) error {
	msgs := f.byChat[chatID]
	for i := range msgs {
		if msgs[i].MessageID == messageID {
			msgs[i].Content = content
			msgs[i].Edited = true
			return nil
		}
	}
	return ppgerr.New(ppgerr.KindNotFound, "Message not found")
}

func (f *fakeMessages) DeleteMessage(chatID dbgw.ChatID, messageID int32) error {
	msgs := f.byChat[chatID]
	for i := range msgs {
		if msgs[i].MessageID == messageID {
			f.byChat[chatID] = append(msgs[:i], msgs[i+1:]...)
			return nil
		}
	}
	return ppgerr.New(ppgerr.KindNotFound, "Message not found")
}

// testDispatcher wires a Dispatcher to fresh fakes and a fresh registry,
// bypassing NewDispatcher (which needs a live *gocql.Session via its
// dbpool.Bucket) entirely.
type testHarness struct {
	registry *session.Registry
	conn     *session.Connection
	disp     *Dispatcher
	users    *fakeUsers
	chats    *fakeChats
	messages *fakeMessages
}

func newTestHarness() *testHarness {
	registry := session.NewRegistry()
	conn := session.NewConnection()
	registry.NewAnonymousSession(conn)
	users := newFakeUsers()
	chats := newFakeChats()
	messages := newFakeMessages()
	return &testHarness{
		registry: registry,
		conn:     conn,
		users:    users,
		chats:    chats,
		messages: messages,
		disp: &Dispatcher{
			registry: registry,
			conn:     conn,
			users:    users,
			chats:    chats,
			messages: messages,
			typing:   realtime.NewTypingDebouncer(registry),
		},
	}
}

// decodeResponse strips HandleFrame's 4-byte length header and unmarshals
// the JSON body.
func decodeResponse(t *testing.T, framed []byte) map[string]any {
	t.Helper()
	if len(framed) < 4 {
		t.Fatalf("response too short to be a valid frame: %d bytes", len(framed))
	}
	size := binary.BigEndian.Uint32(framed[:4])
	body := framed[4:]
	if int(size) != len(body) {
		t.Fatalf("frame header declares %d bytes, got %d", size, len(body))
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return out
}

func TestDispatcherRegisterThenSendMessageCreatesPrivateChat(t *testing.T) {
	h := newTestHarness()

	regResp := decodeResponse(t, h.disp.HandleFrame(mustFrame(t, map[string]any{
		"method": "register", "name": "Ada", "username": "@ada", "password": "hunter2",
	})))
	if regResp["ok"] != true {
		t.Fatalf("expected register to succeed, got %v", regResp)
	}

	otherConn := session.NewConnection()
	h.registry.NewAnonymousSession(otherConn)
	otherDisp := &Dispatcher{
		registry: h.registry, conn: otherConn,
		users: h.users, chats: h.chats, messages: h.messages,
		typing: realtime.NewTypingDebouncer(h.registry),
	}
	bobResp := decodeResponse(t, otherDisp.HandleFrame(mustFrame(t, map[string]any{
		"method": "register", "name": "Bob", "username": "@bob", "password": "hunter2",
	})))
	if bobResp["ok"] != true {
		t.Fatalf("expected second register to succeed, got %v", bobResp)
	}
	bobID := int32(bobResp["user_id"].(float64))

	sendResp := decodeResponse(t, h.disp.HandleFrame(mustFrame(t, map[string]any{
		"method": "send_message", "to": bobID,
		"content": map[string]any{"text": "hi bob"},
	})))
	if sendResp["ok"] != true {
		t.Fatalf("expected send_message to succeed, got %v", sendResp)
	}

	select {
	case evt := <-otherConn.Mailbox:
		if evt.Name != "new_chat" {
			t.Fatalf("expected a new_chat event first, got %s", evt.Name)
		}
	default:
		t.Fatalf("expected bob to receive a new_chat broadcast")
	}
}

func TestDispatcherRejectsUnauthenticatedMethod(t *testing.T) {
	h := newTestHarness()

	resp := decodeResponse(t, h.disp.HandleFrame(mustFrame(t, map[string]any{
		"method": "fetch", "what": "self",
	})))
	if resp["ok"] != false {
		t.Fatalf("expected unauthenticated fetch to fail, got %v", resp)
	}
	if resp["error"] != "You aren't authenticated!" {
		t.Fatalf("unexpected error message: %v", resp["error"])
	}
}

func TestDispatcherUnknownMethodIsProtocolError(t *testing.T) {
	h := newTestHarness()
	h.registry.Authenticate(h.conn, session.Credentials{UserID: 1, SessionID: "tok"})

	resp := decodeResponse(t, h.disp.HandleFrame(mustFrame(t, map[string]any{
		"method": "not_a_real_method",
	})))
	if resp["ok"] != false {
		t.Fatalf("expected unknown method to fail, got %v", resp)
	}
}

func TestDispatcherFetchSelfReturnsRegisteredProfile(t *testing.T) {
	h := newTestHarness()

	regResp := decodeResponse(t, h.disp.HandleFrame(mustFrame(t, map[string]any{
		"method": "register", "name": "Ada", "username": "@ada", "password": "hunter2",
	})))
	if regResp["ok"] != true {
		t.Fatalf("expected register to succeed, got %v", regResp)
	}

	resp := decodeResponse(t, h.disp.HandleFrame(mustFrame(t, map[string]any{
		"method": "fetch", "what": "self",
	})))
	if resp["ok"] != true {
		t.Fatalf("expected fetch self to succeed, got %v", resp)
	}
	user := resp["user"].(map[string]any)
	if user["username"] != "@ada" {
		t.Fatalf("unexpected username in fetched profile: %v", user)
	}
}

func mustFrame(t *testing.T, req map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return body
}
