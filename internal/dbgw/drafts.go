package dbgw

import (
	"github.com/gocql/gocql"

	"ppgram/server/internal/ppgerr"
)

// DraftsDB wraps the ksp.drafts table, grounded on
// original_source/src/db/chat/drafts.rs.
type DraftsDB struct {
	session *gocql.Session
}

// UpdateDraft upserts the draft content for (userID, chatID).
func (d *DraftsDB) UpdateDraft(userID UserID, chatID ChatID, content string) error {
	err := d.session.Query(
		`INSERT INTO ksp.drafts (user_id, chat_id, content) VALUES (?, ?, ?)`,
		int32(userID), int32(chatID), content,
	).Exec()
	if err != nil {
		return ppgerr.Storage(err)
	}
	return nil
}

// FetchDraft returns the draft content for (userID, chatID), if any.
func (d *DraftsDB) FetchDraft(userID UserID, chatID ChatID) (*string, error) {
	var content string
	err := d.session.Query(
		`SELECT content FROM ksp.drafts WHERE user_id = ? AND chat_id = ?`, int32(userID), int32(chatID),
	).Scan(&content)
	if err == gocql.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, ppgerr.Storage(err)
	}
	return &content, nil
}
