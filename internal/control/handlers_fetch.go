package control

import (
	"ppgram/server/internal/dbgw"
	"ppgram/server/internal/ppgerr"
)

// handleFetch implements fetch{what:"chats"|"self"|"user"|"messages"}.
func (d *Dispatcher) handleFetch(req map[string]any) (map[string]any, error) {
	what, err := requireString(req, "what")
	if err != nil {
		return nil, err
	}
	switch what {
	case "chats":
		return d.fetchChats()
	case "self":
		return d.fetchSelf()
	case "user":
		return d.fetchUser(req)
	case "messages":
		return d.fetchMessages(req)
	default:
		return nil, ppgerr.New(ppgerr.KindProtocolJSON, "Unknown fetch what")
	}
}

func (d *Dispatcher) fetchChats() (map[string]any, error) {
	self := d.selfID()
	chatIDs, err := d.chats.FetchChatsFor(self)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(chatIDs))
	for _, id := range chatIDs {
		chat, details, err := d.chats.FetchChat(self, id, d.users)
		if err != nil {
			return nil, err
		}
		if chat == nil || details == nil {
			continue
		}
		out = append(out, map[string]any{
			"chat_id":  int32(chat.ViewChatIDFor(self)),
			"name":     details.Name,
			"is_group": details.IsGroup,
			"username": details.Username,
			"photo":    details.Photo,
			"tag":      details.Tag,
		})
	}
	return map[string]any{"chats": out}, nil
}

func (d *Dispatcher) fetchSelf() (map[string]any, error) {
	user, err := d.users.FetchUser(dbgw.RefByID(d.selfID()))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ppgerr.New(ppgerr.KindNotFound, "User not found")
	}
	return map[string]any{"user": userToMap(user)}, nil
}

func (d *Dispatcher) fetchUser(req map[string]any) (map[string]any, error) {
	username, err := requireString(req, "username")
	if err != nil {
		return nil, err
	}
	user, err := d.users.FetchUser(dbgw.RefByUsername(username))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ppgerr.New(ppgerr.KindNotFound, "User not found")
	}
	return map[string]any{"user": userToMap(user)}, nil
}

func (d *Dispatcher) fetchMessages(req map[string]any) (map[string]any, error) {
	self := d.selfID()

	chatIDRaw, err := requireInt32(req, "chat_id")
	if err != nil {
		return nil, err
	}
	rangeRaw, ok := req["range"].([]any)
	if !ok || len(rangeRaw) != 2 {
		return nil, ppgerr.New(ppgerr.KindProtocolJSON, "range must be [start,end]")
	}
	startF, ok1 := rangeRaw[0].(float64)
	endF, ok2 := rangeRaw[1].(float64)
	if !ok1 || !ok2 {
		return nil, ppgerr.New(ppgerr.KindProtocolJSON, "range must be [start,end]")
	}
	start, end := int32(startF), int32(endF)

	realChatID, err := d.resolveChatID(self, chatIDRaw)
	if err != nil {
		return nil, err
	}
	msgs, err := d.messages.FetchMessages(realChatID, start, end)
	if err != nil {
		return nil, err
	}

	viewChatID := dbgw.ChatID(chatIDRaw)
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToMap(m, viewChatID))
	}
	return map[string]any{"messages": out}, nil
}
