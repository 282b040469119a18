package control

import (
	"ppgram/server/internal/dbgw"
	"ppgram/server/internal/ppgerr"
	"ppgram/server/internal/realtime"
)

// handleCheck implements check{what:"username"}. Its success response is
// the bare {ok:<taken>} shape rather than the usual {ok:true,...}, so it
// sets "ok" itself and HandleFrame leaves it alone.
func (d *Dispatcher) handleCheck(req map[string]any) (map[string]any, error) {
	what, err := requireString(req, "what")
	if err != nil {
		return nil, err
	}
	if what != "username" {
		return nil, ppgerr.New(ppgerr.KindProtocolJSON, "Unknown check what")
	}
	data, err := requireString(req, "data")
	if err != nil {
		return nil, err
	}
	taken, err := d.users.Exists(data)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": taken}, nil
}

// handleNew implements new{what:"group"|"invitation_link"}.
func (d *Dispatcher) handleNew(req map[string]any) (map[string]any, error) {
	what, err := requireString(req, "what")
	if err != nil {
		return nil, err
	}
	switch what {
	case "group":
		return d.newGroup(req)
	case "invitation_link":
		return d.newInvitationLink(req)
	default:
		return nil, ppgerr.New(ppgerr.KindProtocolJSON, "Unknown new what")
	}
}

func (d *Dispatcher) newGroup(req map[string]any) (map[string]any, error) {
	name, err := requireString(req, "name")
	if err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	details := dbgw.ChatDetails{
		Name:     name,
		Username: optStringOr(req, "username"),
		Photo:    optStringOr(req, "avatar_hash"),
	}
	chatID, err := d.chats.CreateGroup([]dbgw.UserID{d.selfID()}, details)
	if err != nil {
		return nil, err
	}
	return map[string]any{"chat_id": int32(chatID)}, nil
}

func (d *Dispatcher) newInvitationLink(req map[string]any) (map[string]any, error) {
	chatIDRaw, err := requireInt32(req, "chat_id")
	if err != nil {
		return nil, err
	}
	chatID := dbgw.ChatID(chatIDRaw)
	exists, err := d.chats.ChatExists(chatID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ppgerr.New(ppgerr.KindNotFound, "Chat not found")
	}
	link, err := d.chats.CreateInvitationHash(chatID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"link": link}, nil
}

// handleJoin implements join{link}, responding on the wire as join_group
// per the method-tag divergence handled in responseMethod.
func (d *Dispatcher) handleJoin(req map[string]any) (map[string]any, error) {
	self := d.selfID()

	link, err := requireString(req, "link")
	if err != nil {
		return nil, err
	}
	chatID, found, err := d.chats.GetChatByInvitationHash(link)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ppgerr.New(ppgerr.KindNotFound, "Invalid invitation link")
	}

	chat, details, err := d.chats.FetchChat(self, chatID, d.users)
	if err != nil {
		return nil, err
	}
	if chat == nil || details == nil {
		return nil, ppgerr.New(ppgerr.KindNotFound, "Chat not found")
	}
	for _, p := range chat.Participants {
		if p == self {
			return nil, ppgerr.New(ppgerr.KindConflict, "You have already joined this chat!")
		}
	}

	if err := d.chats.AddParticipant(chatID, self); err != nil {
		return nil, err
	}

	for _, p := range chat.Participants {
		realtime.Broadcast(d.registry, p, "new_participant", map[string]any{
			"chat_id": int32(chatID), "user_id": int32(self),
		})
	}

	return map[string]any{
		"chat": map[string]any{
			"chat_id":  int32(chatID),
			"name":     details.Name,
			"is_group": details.IsGroup,
			"tag":      details.Tag,
			"photo":    details.Photo,
		},
	}, nil
}
