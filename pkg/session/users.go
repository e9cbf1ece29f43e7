package session

import (
	"sync"

	"github.com/go-go-golems/chatlogic/pkg/chat"
	"github.com/go-go-golems/chatlogic/pkg/settings"
)

const userNameKey = "name"

// User is the settings branch of one user, shared by every chat.
type User struct {
	ID       chat.UserID
	Username string
	cfg      *settings.Tree
}

func (u *User) Name() string        { return u.cfg.String(userNameKey, "") }
func (u *User) SetName(name string) { u.cfg.Set(userNameKey, name) }

// Settings is the user branch, for options defined by the logic.
func (u *User) Settings() *settings.Tree { return u.cfg }

// Users caches User values over the "users" settings branch.
type Users struct {
	mu    sync.Mutex
	tree  *settings.Tree
	users map[chat.UserID]*User
}

func NewUsers(tree *settings.Tree) *Users {
	return &Users{tree: tree, users: map[chat.UserID]*User{}}
}

// User returns the user for from, creating its branch on first sight.
func (us *Users) User(from chat.User) *User {
	us.mu.Lock()
	defer us.mu.Unlock()
	if u, ok := us.users[from.ID]; ok {
		return u
	}
	u := &User{ID: from.ID, Username: from.Username, cfg: us.tree.Sub(from.ID.String())}
	u.Name() // stores the default
	us.users[from.ID] = u
	return u
}
