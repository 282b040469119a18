package control

import (
	"ppgram/server/internal/dbgw"
	"ppgram/server/internal/ppgerr"
	"ppgram/server/internal/session"
)

// handleRegister implements SPEC_FULL.md §4.F's register contract.
func (d *Dispatcher) handleRegister(req map[string]any) (map[string]any, error) {
	name, err := requireString(req, "name")
	if err != nil {
		return nil, err
	}
	username, err := requireString(req, "username")
	if err != nil {
		return nil, err
	}
	password, err := requireString(req, "password")
	if err != nil {
		return nil, err
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	userID, token, err := d.users.Register(name, username, password)
	if err != nil {
		return nil, err
	}
	d.registry.Authenticate(d.conn, session.Credentials{UserID: userID, SessionID: token})
	d.bumpAuthenticated()

	return map[string]any{"user_id": int32(userID), "session_id": token}, nil
}

// handleLogin implements the login contract.
func (d *Dispatcher) handleLogin(req map[string]any) (map[string]any, error) {
	username, err := requireString(req, "username")
	if err != nil {
		return nil, err
	}
	password, err := requireString(req, "password")
	if err != nil {
		return nil, err
	}

	userID, token, err := d.users.Login(username, password)
	if err != nil {
		return nil, err
	}
	d.registry.Authenticate(d.conn, session.Credentials{UserID: userID, SessionID: token})
	d.bumpAuthenticated()

	return map[string]any{"user_id": int32(userID), "session_id": token}, nil
}

// handleAuth implements the auth (reconnect) contract.
func (d *Dispatcher) handleAuth(req map[string]any) (map[string]any, error) {
	userIDRaw, err := requireInt32(req, "user_id")
	if err != nil {
		return nil, err
	}
	sessionID, err := requireString(req, "session_id")
	if err != nil {
		return nil, err
	}
	userID := dbgw.UserID(userIDRaw)

	ok, err := d.users.Auth(userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ppgerr.New(ppgerr.KindAuth, "Invalid session")
	}
	d.registry.Authenticate(d.conn, session.Credentials{UserID: userID, SessionID: sessionID})
	d.bumpAuthenticated()
	return map[string]any{}, nil
}

// handleBind implements the secondary-transport attach contract.
func (d *Dispatcher) handleBind(req map[string]any) (map[string]any, error) {
	userIDRaw, err := requireInt32(req, "user_id")
	if err != nil {
		return nil, err
	}
	sessionID, err := requireString(req, "session_id")
	if err != nil {
		return nil, err
	}

	_, ok := d.registry.Bind(d.conn, session.Credentials{UserID: dbgw.UserID(userIDRaw), SessionID: sessionID})
	if !ok {
		return nil, ppgerr.New(ppgerr.KindAuth, "Invalid session")
	}
	return map[string]any{}, nil
}
