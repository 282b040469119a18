package control

import "ppgram/server/internal/dbgw"

// usersGateway, chatsGateway, and messagesGateway narrow the concrete dbgw
// types down to exactly the methods the dispatcher's handlers call. The
// production Dispatcher is wired to the real *dbgw.UsersDB/*dbgw.ChatsDB/
// *dbgw.MessagesDB (which satisfy these implicitly); tests wire in fakes
// instead, so HandleFrame can be exercised end to end without a live
// Cassandra session.
type usersGateway interface {
	dbgw.UserFetcher
	Exists(username string) (bool, error)
	Register(name, username, password string) (dbgw.UserID, string, error)
	Login(username, password string) (dbgw.UserID, string, error)
	Auth(userID dbgw.UserID, sessionID string) (bool, error)
	EditSelf(userID dbgw.UserID, name, username, photoHash, newPassword string) error
}

type chatsGateway interface {
	CreatePrivate(a, b dbgw.UserID) (dbgw.ChatID, error)
	CreateGroup(participants []dbgw.UserID, details dbgw.ChatDetails) (dbgw.ChatID, error)
	AddParticipant(chatID dbgw.ChatID, userID dbgw.UserID) error
	ChatExists(chatID dbgw.ChatID) (bool, error)
	FetchChat(selfUserID dbgw.UserID, chatID dbgw.ChatID, users dbgw.UserFetcher) (*dbgw.Chat, *dbgw.ChatDetails, error)
	FindPrivateChat(a, b dbgw.UserID) (dbgw.ChatID, bool, error)
	FetchChatsFor(selfUserID dbgw.UserID) ([]dbgw.ChatID, error)
	CreateInvitationHash(groupChatID dbgw.ChatID) (string, error)
	GetChatByInvitationHash(hash string) (dbgw.ChatID, bool, error)
}

type messagesGateway interface {
	AddMessage(chatID dbgw.ChatID, fromID dbgw.UserID, content dbgw.MessageContent) (*dbgw.Message, error)
	MessageExists(chatID dbgw.ChatID, messageID int32) (bool, error)
	FetchMessages(chatID dbgw.ChatID, start, end int32) ([]dbgw.Message, error)
	EditMessage(chatID dbgw.ChatID, messageID int32, isUnread bool, content *string, replyTo *int32, hashes []string) error
	DeleteMessage(chatID dbgw.ChatID, messageID int32) error
}

var (
	_ usersGateway    = (*dbgw.UsersDB)(nil)
	_ chatsGateway    = (*dbgw.ChatsDB)(nil)
	_ messagesGateway = (*dbgw.MessagesDB)(nil)
)
