package control

import (
	"ppgram/server/internal/dbgw"
	"ppgram/server/internal/ppgerr"
)

// handleEdit implements both edit{what:"message"} and the
// edit{what:"self"} open question, decided and implemented per
// SPEC_FULL.md §4.F / §9.
func (d *Dispatcher) handleEdit(req map[string]any) (map[string]any, error) {
	what, err := requireString(req, "what")
	if err != nil {
		return nil, err
	}
	switch what {
	case "message":
		return d.handleEditMessage(req)
	case "self":
		return d.handleEditSelf(req)
	default:
		return nil, ppgerr.New(ppgerr.KindProtocolJSON, "Unknown edit what")
	}
}

func (d *Dispatcher) handleEditMessage(req map[string]any) (map[string]any, error) {
	self := d.selfID()

	chatIDRaw, err := requireInt32(req, "chat_id")
	if err != nil {
		return nil, err
	}
	messageID, err := requireInt32(req, "message_id")
	if err != nil {
		return nil, err
	}

	realChatID, err := d.resolveChatID(self, chatIDRaw)
	if err != nil {
		return nil, err
	}

	existingRows, err := d.messages.FetchMessages(realChatID, messageID, messageID)
	if err != nil {
		return nil, err
	}
	if len(existingRows) == 0 {
		return nil, ppgerr.New(ppgerr.KindNotFound, "Message not found")
	}
	existing := existingRows[0]

	isUnread := existing.IsUnread
	if v, ok := optBool(req, "is_unread"); ok {
		isUnread = v
	}
	content := existing.Content
	if v := optString(req, "content"); v != nil {
		content = v
	}
	replyTo := existing.ReplyTo
	if v := optInt32(req, "reply_to"); v != nil {
		replyTo = v
	}
	hashes := existing.Sha256Hashes
	if _, present := req["sha256_hashes"]; present {
		hashes = optStringSlice(req, "sha256_hashes")
	}

	if err := d.messages.EditMessage(realChatID, messageID, isUnread, content, replyTo, hashes); err != nil {
		return nil, err
	}

	d.broadcastToParticipants(self, realChatID, "edit_message", func(viewChatID dbgw.ChatID) map[string]any {
		return map[string]any{"chat_id": int32(viewChatID), "message_id": messageID}
	})

	return map[string]any{"what": "message"}, nil
}

func (d *Dispatcher) handleEditSelf(req map[string]any) (map[string]any, error) {
	self := d.selfID()

	username := optStringOr(req, "username")
	if username != "" {
		if err := validateUsername(username); err != nil {
			return nil, err
		}
	}
	name := optStringOr(req, "name")
	if name != "" {
		if err := validateName(name); err != nil {
			return nil, err
		}
	}
	photoHash := optStringOr(req, "photo_hash")
	password := optStringOr(req, "password")

	if err := d.users.EditSelf(self, name, username, photoHash, password); err != nil {
		return nil, err
	}
	return map[string]any{"what": "self"}, nil
}
