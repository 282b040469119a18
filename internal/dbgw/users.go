package dbgw

import (
	"crypto/rand"
	"math/big"

	"github.com/gocql/gocql"
	"golang.org/x/crypto/bcrypt"

	"ppgram/server/internal/ppgerr"
)

const sessionTokenLength = 30

var sessionTokenAlphabet = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789")

// User mirrors SPEC_FULL.md §3's User entity.
type User struct {
	ID        UserID
	Name      string
	Username  string
	PhotoHash string
}

// UsersDB wraps a session with the user-table operations from
// SPEC_FULL.md §4.C, grounded on original_source/src/db/user.rs.
type UsersDB struct {
	session *gocql.Session
}

func randomToken(n int) (string, error) {
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(sessionTokenAlphabet))))
		if err != nil {
			return "", err
		}
		out[i] = sessionTokenAlphabet[idx.Int64()]
	}
	return string(out), nil
}

func randomUserID() (UserID, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(1)<<31-2))
	if err != nil {
		return 0, err
	}
	return UserID(n.Int64() + 1), nil
}

// Exists reports whether username is already registered.
func (d *UsersDB) Exists(username string) (bool, error) {
	var id int
	err := d.session.Query(`SELECT id FROM ksp.users WHERE username = ? LIMIT 1`, username).Scan(&id)
	if err == gocql.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, ppgerr.Storage(err)
	}
	return true, nil
}

// Register creates a new user row and an initial session token, mirroring
// UsersDB::register + create_session.
func (d *UsersDB) Register(name, username, password string) (UserID, string, error) {
	exists, err := d.Exists(username)
	if err != nil {
		return 0, "", err
	}
	if exists {
		return 0, "", ppgerr.New(ppgerr.KindConflict, "Username already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, "", ppgerr.Storage(err)
	}

	userID, err := randomUserID()
	if err != nil {
		return 0, "", ppgerr.Storage(err)
	}

	token, err := randomToken(sessionTokenLength)
	if err != nil {
		return 0, "", ppgerr.Storage(err)
	}

	err = d.session.Query(
		`INSERT INTO ksp.users (id, name, username, password_hash, photo_hash, sessions) VALUES (?, ?, ?, ?, ?, ?)`,
		int32(userID), name, username, string(hash), "", []string{token},
	).Exec()
	if err != nil {
		return 0, "", ppgerr.Storage(err)
	}

	return userID, token, nil
}

// Login verifies username/password and appends a fresh session token.
func (d *UsersDB) Login(username, password string) (UserID, string, error) {
	var (
		id           int32
		passwordHash string
	)
	err := d.session.Query(
		`SELECT id, password_hash FROM ksp.users WHERE username = ? LIMIT 1`, username,
	).Scan(&id, &passwordHash)
	if err == gocql.ErrNotFound {
		return 0, "", ppgerr.New(ppgerr.KindAuth, "Invalid username or password")
	}
	if err != nil {
		return 0, "", ppgerr.Storage(err)
	}

	if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) != nil {
		return 0, "", ppgerr.New(ppgerr.KindAuth, "Invalid username or password")
	}

	token, err := randomToken(sessionTokenLength)
	if err != nil {
		return 0, "", ppgerr.Storage(err)
	}

	err = d.session.Query(
		`UPDATE ksp.users SET sessions = sessions + ? WHERE id = ?`, []string{token}, id,
	).Exec()
	if err != nil {
		return 0, "", ppgerr.Storage(err)
	}

	return UserID(id), token, nil
}

// Auth verifies that sessionID belongs to userID's session set.
func (d *UsersDB) Auth(userID UserID, sessionID string) (bool, error) {
	var sessions []string
	err := d.session.Query(`SELECT sessions FROM ksp.users WHERE id = ?`, int32(userID)).Scan(&sessions)
	if err == gocql.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, ppgerr.Storage(err)
	}
	for _, s := range sessions {
		if s == sessionID {
			return true, nil
		}
	}
	return false, nil
}

// FetchUser loads a user row by numeric id or by username.
func (d *UsersDB) FetchUser(ref UserRef) (*User, error) {
	var (
		id                          int32
		name, username, photoHash  string
	)
	var err error
	if ref.IsUsername() {
		err = d.session.Query(
			`SELECT id, name, username, photo_hash FROM ksp.users WHERE username = ? LIMIT 1`, ref.Username,
		).Scan(&id, &name, &username, &photoHash)
	} else {
		err = d.session.Query(
			`SELECT id, name, username, photo_hash FROM ksp.users WHERE id = ?`, int32(ref.ID),
		).Scan(&id, &name, &username, &photoHash)
	}
	if err == gocql.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, ppgerr.Storage(err)
	}
	return &User{ID: UserID(id), Name: name, Username: username, PhotoHash: photoHash}, nil
}

// EditSelf applies a partial update to a user's own profile (SPEC_FULL.md
// §4.F "what:self"). Empty fields are left unchanged; an empty
// newPassword leaves the password hash untouched.
func (d *UsersDB) EditSelf(userID UserID, name, username, photoHash, newPassword string) error {
	if username != "" {
		exists, err := d.Exists(username)
		if err != nil {
			return err
		}
		if exists {
			existing, err := d.FetchUser(RefByUsername(username))
			if err != nil {
				return err
			}
			if existing != nil && existing.ID != userID {
				return ppgerr.New(ppgerr.KindConflict, "Username already taken")
			}
		}
		if err := d.session.Query(`UPDATE ksp.users SET username = ? WHERE id = ?`, username, int32(userID)).Exec(); err != nil {
			return ppgerr.Storage(err)
		}
	}
	if name != "" {
		if err := d.session.Query(`UPDATE ksp.users SET name = ? WHERE id = ?`, name, int32(userID)).Exec(); err != nil {
			return ppgerr.Storage(err)
		}
	}
	if photoHash != "" {
		if err := d.session.Query(`UPDATE ksp.users SET photo_hash = ? WHERE id = ?`, photoHash, int32(userID)).Exec(); err != nil {
			return ppgerr.Storage(err)
		}
	}
	if newPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
		if err != nil {
			return ppgerr.Storage(err)
		}
		if err := d.session.Query(`UPDATE ksp.users SET password_hash = ? WHERE id = ?`, string(hash), int32(userID)).Exec(); err != nil {
			return ppgerr.Storage(err)
		}
	}
	return nil
}
