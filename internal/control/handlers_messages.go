package control

import (
	"ppgram/server/internal/dbgw"
	"ppgram/server/internal/ppgerr"
	"ppgram/server/internal/realtime"
)

// handleSendMessage implements the send_message contract, including
// lazily creating a private chat and broadcasting new_chat/new_message.
func (d *Dispatcher) handleSendMessage(req map[string]any) (map[string]any, error) {
	self := d.selfID()

	toRaw, err := requireInt32(req, "to")
	if err != nil {
		return nil, err
	}
	if toRaw == int32(self) {
		return nil, ppgerr.New(ppgerr.KindValidation, "Cannot send a message to yourself")
	}

	var (
		chatID     dbgw.ChatID
		recipients []dbgw.UserID
	)
	if toRaw > 0 {
		peer := dbgw.UserID(toRaw)
		real, found, err := d.chats.FindPrivateChat(self, peer)
		if err != nil {
			return nil, err
		}
		if found {
			chatID = real
		} else {
			chatID, err = d.chats.CreatePrivate(self, peer)
			if err != nil {
				return nil, err
			}
			realtime.Broadcast(d.registry, peer, "new_chat", map[string]any{"chat_id": int32(self)})
		}
		recipients = []dbgw.UserID{peer}
	} else {
		chatID = dbgw.ChatID(toRaw)
		chat, _, err := d.chats.FetchChat(self, chatID, d.users)
		if err != nil {
			return nil, err
		}
		if chat == nil {
			return nil, ppgerr.New(ppgerr.KindNotFound, "Chat not found")
		}
		for _, p := range chat.Participants {
			if p != self {
				recipients = append(recipients, p)
			}
		}
	}

	var (
		text   *string
		hashes []string
	)
	if contentRaw, ok := req["content"].(map[string]any); ok {
		text = optString(contentRaw, "text")
		hashes = optStringSlice(contentRaw, "sha256_hashes")
	}

	msg, err := d.messages.AddMessage(chatID, self, dbgw.MessageContent{
		ReplyTo:      optInt32(req, "reply_to"),
		Content:      text,
		Sha256Hashes: hashes,
	})
	if err != nil {
		return nil, err
	}

	for _, r := range recipients {
		viewChatID := chatID
		if !chatID.IsGroup() {
			viewChatID = dbgw.ChatID(self)
		}
		realtime.Broadcast(d.registry, r, "new_message", messageToMap(*msg, viewChatID))
	}
	if d.metrics != nil {
		d.metrics.MessagesSent.Add(1)
	}

	return map[string]any{"message_id": msg.MessageID, "chat_id": toRaw}, nil
}

// handleDelete implements the delete contract.
func (d *Dispatcher) handleDelete(req map[string]any) (map[string]any, error) {
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
	exists, err := d.messages.MessageExists(realChatID, messageID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ppgerr.New(ppgerr.KindNotFound, "Message not found")
	}
	if err := d.messages.DeleteMessage(realChatID, messageID); err != nil {
		return nil, err
	}

	d.broadcastToParticipants(self, realChatID, "delete_message", func(viewChatID dbgw.ChatID) map[string]any {
		return map[string]any{"chat_id": int32(viewChatID), "message_id": messageID}
	})

	return map[string]any{}, nil
}

// broadcastToParticipants sends an event to every other participant of
// realChatID, computing each recipient's own view chat_id.
func (d *Dispatcher) broadcastToParticipants(self dbgw.UserID, realChatID dbgw.ChatID, event string, payload func(viewChatID dbgw.ChatID) map[string]any) {
	chat, _, err := d.chats.FetchChat(self, realChatID, d.users)
	if err != nil || chat == nil {
		return
	}
	for _, p := range chat.Participants {
		if p == self {
			continue
		}
		realtime.Broadcast(d.registry, p, event, payload(chat.ViewChatIDFor(p)))
	}
}
