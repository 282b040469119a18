// Package dbgw contains the typed database gateways described in
// SPEC_FULL.md §4.C: UsersDB, ChatsDB, MessagesDB, DraftsDB, HashesDB. Each
// wraps a *gocql.Session obtained from a dbpool.Bucket.
//
// Grounded on original_source/src/db/user.rs and db/chat/{chats,messages,
// drafts,hashes}.rs for DDL and query shape. The source reinterprets one
// gateway's session as another's via an unsafe transmute
// ("UsersDB and ChatsDB are actually the same") — SPEC_FULL.md §9 calls this
// out as a redesign flag; here every gateway is constructed fresh from the
// bucket via its own From function, never cast from another gateway.
package dbgw

import (
	"github.com/gocql/gocql"

	"ppgram/server/internal/dbpool"
)

// ChatID mirrors the sign-encoded identifier from SPEC_FULL.md §3: positive
// values are private chats, negative values are groups, 0 is reserved.
type ChatID int32

// IsGroup reports whether id denotes a group chat.
func (id ChatID) IsGroup() bool { return id < 0 }

// UserID is a nonzero user identifier.
type UserID int32

// UserRef is the sum type SPEC_FULL.md §3 adds: requests may name a user by
// numeric id or by username, mirroring the original's
// UserId::UserId(i32) | UserId::Username(String).
type UserRef struct {
	ID       UserID
	Username string
}

func RefByID(id UserID) UserRef       { return UserRef{ID: id} }
func RefByUsername(u string) UserRef  { return UserRef{Username: u} }
func (r UserRef) IsUsername() bool    { return r.Username != "" }

// Users constructs a UsersDB over bucket's session.
func Users(b dbpool.Bucket) *UsersDB { return &UsersDB{session: b.Session()} }

// Chats constructs a ChatsDB over bucket's session.
func Chats(b dbpool.Bucket) *ChatsDB { return &ChatsDB{session: b.Session()} }

// Messages constructs a MessagesDB over bucket's session.
func Messages(b dbpool.Bucket) *MessagesDB {
	return &MessagesDB{session: b.Session(), chatLocks: chatLockTable}
}

// Drafts constructs a DraftsDB over bucket's session.
func Drafts(b dbpool.Bucket) *DraftsDB { return &DraftsDB{session: b.Session()} }

// Hashes constructs a HashesDB over bucket's session.
func Hashes(b dbpool.Bucket) *HashesDB { return &HashesDB{session: b.Session()} }

// CreateTables runs every gateway's DDL. Called once at startup against the
// first acquired bucket.
func CreateTables(session *gocql.Session) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ksp.users (
			id int PRIMARY KEY,
			name text,
			username text,
			password_hash text,
			photo_hash text,
			sessions set<text>
		)`,
		`CREATE INDEX IF NOT EXISTS users_username_idx ON ksp.users (username)`,
		`CREATE TABLE IF NOT EXISTS ksp.chats (
			id int PRIMARY KEY,
			is_group boolean,
			participants list<int>,
			name text,
			avatar_hash text,
			tag text,
			invitation_hash text
		)`,
		`CREATE INDEX IF NOT EXISTS chats_invitation_hash_idx ON ksp.chats (invitation_hash)`,
		`CREATE INDEX IF NOT EXISTS chats_participants_idx ON ksp.chats (participants)`,
		`CREATE TABLE IF NOT EXISTS ksp.messages (
			chat_id int,
			id int,
			is_unread boolean,
			from_id int,
			edited boolean,
			date bigint,
			has_reply boolean,
			reply_to int,
			has_content boolean,
			content text,
			has_hashes boolean,
			sha256_hashes list<text>,
			PRIMARY KEY (chat_id, id)
		) WITH CLUSTERING ORDER BY (id DESC)`,
		`CREATE TABLE IF NOT EXISTS ksp.drafts (
			user_id int,
			chat_id int,
			content text,
			PRIMARY KEY (user_id, chat_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ksp.hashes (
			hash text PRIMARY KEY,
			is_media boolean,
			file_name text,
			file_path text,
			preview_path text
		)`,
	}
	for _, stmt := range stmts {
		if err := session.Query(stmt).Exec(); err != nil {
			return err
		}
	}
	return nil
}
