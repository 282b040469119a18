package dbgw

import (
	"sync"
	"time"

	"github.com/gocql/gocql"

	"ppgram/server/internal/ppgerr"
)

// Message mirrors SPEC_FULL.md §3's Message entity.
type Message struct {
	MessageID     int32
	ChatID        ChatID
	FromID        UserID
	IsUnread      bool
	Edited        bool
	Date          int64
	ReplyTo       *int32
	Content       *string
	Sha256Hashes  []string
}

// MessageContent is the subset of a send/edit request that touches
// message body fields, mirroring SendMessageRequest in the original.
type MessageContent struct {
	ReplyTo      *int32
	Content      *string
	Sha256Hashes []string
}

// chatLockTable serializes AddMessage per chat_id, resolving the
// message_id race documented as an Open Question in SPEC_FULL.md §9 — see
// DESIGN.md for why a process-local mutex was chosen over a DB-side
// counter.
type lockTable struct {
	mu    sync.Mutex
	locks map[ChatID]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[ChatID]*sync.Mutex)}
}

func (t *lockTable) forChat(chatID ChatID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[chatID] = l
	}
	return l
}

var chatLockTable = newLockTable()

// MessagesDB wraps the ksp.messages table, grounded on
// original_source/src/db/chat/messages.rs.
type MessagesDB struct {
	session   *gocql.Session
	chatLocks *lockTable
}

// AddMessage inserts the next message in chatID's log, assigning
// id = latest+1 (0 for an empty chat) under a per-chat lock.
func (d *MessagesDB) AddMessage(chatID ChatID, fromID UserID, content MessageContent) (*Message, error) {
	lock := d.chatLocks.forChat(chatID)
	lock.Lock()
	defer lock.Unlock()

	latest, err := d.GetLatest(chatID)
	if err != nil {
		return nil, err
	}
	var nextID int32
	if latest != nil {
		nextID = *latest + 1
	}

	hasReply := content.ReplyTo != nil
	var replyTo int32
	if hasReply {
		replyTo = *content.ReplyTo
	}

	hasContent := content.Content != nil
	var text string
	if hasContent {
		text = *content.Content
	}

	hasHashes := len(content.Sha256Hashes) > 0

	now := time.Now().Unix()
	err = d.session.Query(
		`INSERT INTO ksp.messages (chat_id, id, is_unread, from_id, edited, date, has_reply, reply_to, has_content, content, has_hashes, sha256_hashes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int32(chatID), nextID, true, int32(fromID), false, now, hasReply, replyTo, hasContent, text, hasHashes, content.Sha256Hashes,
	).Exec()
	if err != nil {
		return nil, ppgerr.Storage(err)
	}

	return &Message{
		MessageID: nextID, ChatID: chatID, FromID: fromID, IsUnread: true,
		Date: now, ReplyTo: content.ReplyTo, Content: content.Content, Sha256Hashes: content.Sha256Hashes,
	}, nil
}

// GetLatest returns the highest message id in chatID, or nil if empty.
func (d *MessagesDB) GetLatest(chatID ChatID) (*int32, error) {
	var id int32
	err := d.session.Query(
		`SELECT id FROM ksp.messages WHERE chat_id = ? ORDER BY id DESC LIMIT 1`, int32(chatID),
	).Scan(&id)
	if err == gocql.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, ppgerr.Storage(err)
	}
	return &id, nil
}

// MessageExists reports whether messageID is present in chatID.
func (d *MessagesDB) MessageExists(chatID ChatID, messageID int32) (bool, error) {
	var id int32
	err := d.session.Query(
		`SELECT id FROM ksp.messages WHERE chat_id = ? AND id = ? LIMIT 1`, int32(chatID), messageID,
	).Scan(&id)
	if err == gocql.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, ppgerr.Storage(err)
	}
	return true, nil
}

// FetchMessages returns the inclusive range [start, end], with the
// start=-1 ("latest") and end=0 ("single message") conventions from
// SPEC_FULL.md §4.C.
func (d *MessagesDB) FetchMessages(chatID ChatID, start, end int32) ([]Message, error) {
	if start == -1 {
		latest, err := d.GetLatest(chatID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			start = 0
		} else {
			start = *latest
		}
	}

	var iter *gocql.Iter
	if end != 0 {
		iter = d.session.Query(
			`SELECT id, is_unread, from_id, edited, date, has_reply, reply_to, has_content, content, has_hashes, sha256_hashes
			 FROM ksp.messages WHERE chat_id = ? AND id >= ? AND id <= ?`,
			int32(chatID), start, end,
		).Iter()
	} else {
		iter = d.session.Query(
			`SELECT id, is_unread, from_id, edited, date, has_reply, reply_to, has_content, content, has_hashes, sha256_hashes
			 FROM ksp.messages WHERE chat_id = ? AND id = ?`,
			int32(chatID), start,
		).Iter()
	}

	var out []Message
	var (
		id                         int32
		isUnread, edited           bool
		fromID                     int32
		date                       int64
		hasReply, hasContent, hasHashes bool
		replyTo                    int32
		content                    string
		hashes                     []string
	)
	for iter.Scan(&id, &isUnread, &fromID, &edited, &date, &hasReply, &replyTo, &hasContent, &content, &hasHashes, &hashes) {
		m := Message{MessageID: id, ChatID: chatID, FromID: UserID(fromID), IsUnread: isUnread, Edited: edited, Date: date}
		if hasReply {
			r := replyTo
			m.ReplyTo = &r
		}
		if hasContent {
			c := content
			m.Content = &c
		}
		if hasHashes {
			m.Sha256Hashes = hashes
		}
		out = append(out, m)
	}
	if err := iter.Close(); err != nil {
		return nil, ppgerr.Storage(err)
	}
	return out, nil
}

// MarkAsRead clears is_unread for the given message ids.
func (d *MessagesDB) MarkAsRead(chatID ChatID, ids []int32) error {
	for _, id := range ids {
		err := d.session.Query(
			`UPDATE ksp.messages SET is_unread = false WHERE chat_id = ? AND id = ?`, int32(chatID), id,
		).Exec()
		if err != nil {
			return ppgerr.Storage(err)
		}
	}
	return nil
}

// EditMessage merges new field values (absent fields are preserved by the
// caller resolving them against the existing row before calling this) and
// sets edited=true.
func (d *MessagesDB) EditMessage(chatID ChatID, messageID int32, isUnread bool, content *string, replyTo *int32, hashes []string) error {
	err := d.session.Query(
		`UPDATE ksp.messages SET is_unread = ?, has_content = ?, content = ?, has_reply = ?, reply_to = ?, has_hashes = ?, sha256_hashes = ?, edited = true
		 WHERE chat_id = ? AND id = ?`,
		isUnread, content != nil, derefOr(content, ""), replyTo != nil, derefOrInt32(replyTo, 0), len(hashes) > 0, hashes,
		int32(chatID), messageID,
	).Exec()
	if err != nil {
		return ppgerr.Storage(err)
	}
	return nil
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

func derefOrInt32(v *int32, fallback int32) int32 {
	if v == nil {
		return fallback
	}
	return *v
}

// DeleteMessage removes one message.
func (d *MessagesDB) DeleteMessage(chatID ChatID, messageID int32) error {
	err := d.session.Query(`DELETE FROM ksp.messages WHERE chat_id = ? AND id = ?`, int32(chatID), messageID).Exec()
	if err != nil {
		return ppgerr.Storage(err)
	}
	return nil
}

// DeleteMessages removes several messages.
func (d *MessagesDB) DeleteMessages(chatID ChatID, messageIDs []int32) error {
	for _, id := range messageIDs {
		if err := d.DeleteMessage(chatID, id); err != nil {
			return err
		}
	}
	return nil
}

// FetchUnreadCount counts unread messages in a chat.
func (d *MessagesDB) FetchUnreadCount(chatID ChatID) (uint64, error) {
	var count int64
	err := d.session.Query(
		`SELECT COUNT(*) FROM ksp.messages WHERE chat_id = ? AND is_unread = true`, int32(chatID),
	).Scan(&count)
	if err != nil {
		return 0, ppgerr.Storage(err)
	}
	return uint64(count), nil
}
