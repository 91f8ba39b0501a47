package models

import "time"

// User is a registered account. Contacts holds the ids of users this user
// has exchanged at least one message with; the relay appends to it, the
// HTTP surface reads it, nothing ever removes entries.
type User struct {
	ID        string
	Nickname  string
	Email     string
	Password  string // bcrypt hash
	Avatar    string
	Contacts  []string
	CreatedAt time.Time
}

// HasContact reports whether id is already in the user's contact list.
func (u *User) HasContact(id string) bool {
	for _, c := range u.Contacts {
		if c == id {
			return true
		}
	}
	return false
}

// Message is immutable once persisted. ID and CreatedAt are assigned by the
// store; Read is flipped by the HTTP surface, never by the relay.
type Message struct {
	ID        string
	Sender    string
	Recipient string
	Body      string
	CreatedAt time.Time
	Read      bool
}

// ContactProfile is the public view of a contact returned by the HTTP API.
type ContactProfile struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar,omitempty"`
}
