package dbgw

import (
	"crypto/rand"
	"math/big"

	"github.com/gocql/gocql"

	"ppgram/server/internal/ppgerr"
)

var invitationAlphabet = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789")

// ChatDetails is the display-facing view of a chat — for private chats it
// carries the peer's profile; for groups it carries the group's own fields.
// Mirrors server/message/types/chat.rs's ChatDetails.
type ChatDetails struct {
	ChatID         ChatID
	Name           string
	IsGroup        bool
	Username       string
	Photo          string
	Tag            string
	InvitationHash string
}

// Chat is the raw row shape plus resolved participant users.
type Chat struct {
	ChatID       ChatID
	IsGroup      bool
	Participants []UserID
}

// ChatsDB wraps the ksp.chats table, grounded on
// original_source/src/db/chat/chats.rs.
type ChatsDB struct {
	session *gocql.Session
}

func randomPrivateChatID() (ChatID, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(1)<<31-2))
	if err != nil {
		return 0, err
	}
	return ChatID(n.Int64() + 1), nil
}

func randomGroupChatID() (ChatID, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(1)<<31-2))
	if err != nil {
		return 0, err
	}
	return ChatID(-(n.Int64() + 1)), nil
}

func randomInvitationHash() (string, error) {
	out := make([]byte, 14)
	for i := range out {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(invitationAlphabet))))
		if err != nil {
			return "", err
		}
		out[i] = invitationAlphabet[idx.Int64()]
	}
	return "+" + string(out), nil
}

func toInt32s(ids []UserID) []int32 {
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}

// CreatePrivate inserts a new positive-id chat with exactly two
// participants, mirroring ChatsDB::create_private.
func (d *ChatsDB) CreatePrivate(a, b UserID) (ChatID, error) {
	chatID, err := randomPrivateChatID()
	if err != nil {
		return 0, ppgerr.Storage(err)
	}
	err = d.session.Query(
		`INSERT INTO ksp.chats (id, is_group, participants) VALUES (?, ?, ?)`,
		int32(chatID), false, toInt32s([]UserID{a, b}),
	).Exec()
	if err != nil {
		return 0, ppgerr.Storage(err)
	}
	return chatID, nil
}

// CreateGroup inserts a new negative-id chat, mirroring
// ChatsDB::create_group.
func (d *ChatsDB) CreateGroup(participants []UserID, details ChatDetails) (ChatID, error) {
	chatID, err := randomGroupChatID()
	if err != nil {
		return 0, ppgerr.Storage(err)
	}
	err = d.session.Query(
		`INSERT INTO ksp.chats (id, is_group, participants, name, avatar_hash, tag) VALUES (?, ?, ?, ?, ?, ?)`,
		int32(chatID), true, toInt32s(participants), details.Name, details.Photo, details.Tag,
	).Exec()
	if err != nil {
		return 0, ppgerr.Storage(err)
	}
	return chatID, nil
}

// AddParticipant appends userID to a chat's participant list.
func (d *ChatsDB) AddParticipant(chatID ChatID, userID UserID) error {
	err := d.session.Query(
		`UPDATE ksp.chats SET participants = participants + ? WHERE id = ?`,
		[]int32{int32(userID)}, int32(chatID),
	).Exec()
	if err != nil {
		return ppgerr.Storage(err)
	}
	return nil
}

// ChatExists reports whether chatID is a known chat.
func (d *ChatsDB) ChatExists(chatID ChatID) (bool, error) {
	var id int32
	err := d.session.Query(`SELECT id FROM ksp.chats WHERE id = ?`, int32(chatID)).Scan(&id)
	if err == gocql.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, ppgerr.Storage(err)
	}
	return true, nil
}

// UserFetcher is the one UsersDB method FetchChat needs to resolve a private
// chat's peer profile. Narrowed to an interface so callers can satisfy it
// with a fake in tests without dragging in the rest of UsersDB.
type UserFetcher interface {
	FetchUser(ref UserRef) (*User, error)
}

// FetchChat loads a chat by its real chat_id. For private chats it resolves
// the peer user via users and fills ChatDetails from the peer's profile;
// for groups it fills ChatDetails from the chat's own fields.
func (d *ChatsDB) FetchChat(selfUserID UserID, chatID ChatID, users UserFetcher) (*Chat, *ChatDetails, error) {
	var (
		isGroup      bool
		participants []int32
		name, avatar, tag string
	)
	err := d.session.Query(
		`SELECT is_group, participants, name, avatar_hash, tag FROM ksp.chats WHERE id = ?`, int32(chatID),
	).Scan(&isGroup, &participants, &name, &avatar, &tag)
	if err == gocql.ErrNotFound {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, ppgerr.Storage(err)
	}

	chatParticipants := make([]UserID, len(participants))
	for i, p := range participants {
		chatParticipants[i] = UserID(p)
	}

	chat := &Chat{ChatID: chatID, IsGroup: isGroup, Participants: chatParticipants}

	if isGroup {
		return chat, &ChatDetails{ChatID: chatID, Name: name, IsGroup: true, Photo: avatar, Tag: tag}, nil
	}

	peer := peerOf(chatParticipants, selfUserID)
	if peer == 0 {
		return chat, &ChatDetails{ChatID: chatID, IsGroup: false}, nil
	}
	peerUser, err := users.FetchUser(RefByID(peer))
	if err != nil {
		return nil, nil, err
	}
	if peerUser == nil {
		return chat, &ChatDetails{ChatID: chatID, IsGroup: false}, nil
	}
	return chat, &ChatDetails{
		ChatID: chatID, Name: peerUser.Name, IsGroup: false,
		Username: peerUser.Username, Photo: peerUser.PhotoHash,
	}, nil
}

// ViewChatIDFor returns the chat_id a participant's own client sees: the
// chat's own id for groups, or the other participant's user_id for private
// chats (the view/real split from SPEC_FULL.md §3).
func (c *Chat) ViewChatIDFor(viewer UserID) ChatID {
	if c.IsGroup {
		return c.ChatID
	}
	return ChatID(peerOf(c.Participants, viewer))
}

func peerOf(participants []UserID, self UserID) UserID {
	for _, p := range participants {
		if p != self {
			return p
		}
	}
	return 0
}

// FindPrivateChat returns the real chat_id of an existing private chat
// between a and b, if one exists. Grounded on the original's
// get_associated_chat_id: for private chats the view id *is* the peer's
// user_id, so the server always needs to translate (self, peer) back to
// the real chat row.
func (d *ChatsDB) FindPrivateChat(a, b UserID) (ChatID, bool, error) {
	iter := d.session.Query(
		`SELECT id, participants FROM ksp.chats WHERE participants CONTAINS ? AND participants CONTAINS ? ALLOW FILTERING`,
		int32(a), int32(b),
	).Iter()

	var (
		id           int32
		participants []int32
	)
	for iter.Scan(&id, &participants) {
		if len(participants) == 2 {
			if err := iter.Close(); err != nil {
				return 0, false, ppgerr.Storage(err)
			}
			return ChatID(id), true, nil
		}
	}
	if err := iter.Close(); err != nil {
		return 0, false, ppgerr.Storage(err)
	}
	return 0, false, nil
}

// FetchChatsFor returns every chat a user participates in, as
// (view_chat_id, real_chat_id) pairs per SPEC_FULL.md §3's UserChatLink.
func (d *ChatsDB) FetchChatsFor(selfUserID UserID) ([]ChatID, error) {
	iter := d.session.Query(
		`SELECT id, is_group, participants FROM ksp.chats WHERE participants CONTAINS ? ALLOW FILTERING`,
		int32(selfUserID),
	).Iter()

	var out []ChatID
	var (
		id           int32
		isGroup      bool
		participants []int32
	)
	for iter.Scan(&id, &isGroup, &participants) {
		out = append(out, ChatID(id))
	}
	if err := iter.Close(); err != nil {
		return nil, ppgerr.Storage(err)
	}
	return out, nil
}

// CreateInvitationHash generates and stores a new invitation link for a
// group chat.
func (d *ChatsDB) CreateInvitationHash(groupChatID ChatID) (string, error) {
	hash, err := randomInvitationHash()
	if err != nil {
		return "", ppgerr.Storage(err)
	}
	err = d.session.Query(
		`UPDATE ksp.chats SET invitation_hash = ? WHERE id = ?`, hash, int32(groupChatID),
	).Exec()
	if err != nil {
		return "", ppgerr.Storage(err)
	}
	return hash, nil
}

// GetChatByInvitationHash resolves an invitation link to its group chat id.
func (d *ChatsDB) GetChatByInvitationHash(hash string) (ChatID, bool, error) {
	var id int32
	err := d.session.Query(`SELECT id FROM ksp.chats WHERE invitation_hash = ?`, hash).Scan(&id)
	if err == gocql.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, ppgerr.Storage(err)
	}
	return ChatID(id), true, nil
}
