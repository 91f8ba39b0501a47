// Package store is the durable side of the relay: users, their contact
// graph, and persisted messages, backed by SQLite.
package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"whisper/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicate      = errors.New("already exists")
	ErrBadCredentials = errors.New("bad credentials")
)

const bcryptCost = 12

// msgTimeLayout is fixed-width (no trailing-zero trimming), so created_at
// strings sort lexicographically in chronological order and the ORDER BY
// in MessagesBetween stays correct at sub-second resolution.
const msgTimeLayout = "2006-01-02T15:04:05.000000000Z"

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			nickname TEXT UNIQUE NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			avatar TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			owner TEXT NOT NULL,
			contact TEXT NOT NULL,
			UNIQUE(owner, contact)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL,
			read INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_owner ON contacts(owner)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// CreateUser registers a new account. Nickname and email must be unique;
// a collision on either reports ErrDuplicate.
func (db *DB) CreateUser(nickname, email, password string) (*models.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:        uuid.NewString(),
		Nickname:  nickname,
		Email:     email,
		Password:  string(hashed),
		CreatedAt: time.Now().UTC(),
	}

	_, err = db.conn.Exec(
		"INSERT INTO users (id, nickname, email, password, avatar, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		user.ID, user.Nickname, user.Email, user.Password, user.Avatar, user.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintErr(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	return user, nil
}

// Authenticate checks email+password and returns the matching user.
// Unknown email and wrong password are indistinguishable to the caller.
func (db *DB) Authenticate(email, password string) (*models.User, error) {
	user, err := db.FindUserByEmail(email)
	if err == ErrNotFound {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	return user, nil
}

func (db *DB) FindUserByID(id string) (*models.User, error) {
	return db.findUser("SELECT id, nickname, email, password, avatar, created_at FROM users WHERE id = ?", id)
}

func (db *DB) FindUserByEmail(email string) (*models.User, error) {
	return db.findUser("SELECT id, nickname, email, password, avatar, created_at FROM users WHERE email = ?", email)
}

func (db *DB) FindUserByNickname(nickname string) (*models.User, error) {
	return db.findUser("SELECT id, nickname, email, password, avatar, created_at FROM users WHERE nickname = ?", nickname)
}

func (db *DB) findUser(query string, arg string) (*models.User, error) {
	var u models.User
	var createdStr string
	err := db.conn.QueryRow(query, arg).Scan(&u.ID, &u.Nickname, &u.Email, &u.Password, &u.Avatar, &createdStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)

	if u.Contacts, err = db.contactIDs(u.ID); err != nil {
		return nil, err
	}
	return &u, nil
}

func (db *DB) contactIDs(owner string) ([]string, error) {
	rows, err := db.conn.Query("SELECT contact FROM contacts WHERE owner = ?", owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddContact appends contact to owner's list. Idempotent: repeating the
// call for an existing pair is a no-op, never a duplicate row.
func (db *DB) AddContact(owner, contact string) error {
	_, err := db.conn.Exec("INSERT OR IGNORE INTO contacts (owner, contact) VALUES (?, ?)", owner, contact)
	return err
}

// Contacts resolves owner's contact list to public profiles.
func (db *DB) Contacts(owner string) ([]models.ContactProfile, error) {
	rows, err := db.conn.Query(`
		SELECT u.id, u.nickname, u.email, u.avatar
		FROM contacts c JOIN users u ON u.id = c.contact
		WHERE c.owner = ?`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []models.ContactProfile
	for rows.Next() {
		var p models.ContactProfile
		if err := rows.Scan(&p.UserID, &p.Nickname, &p.Email, &p.Avatar); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// CreateMessage persists a message, assigning its id and creation time.
// A successful return is the definition of "sent".
func (db *DB) CreateMessage(sender, recipient, body string) (*models.Message, error) {
	msg := &models.Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.conn.Exec(
		"INSERT INTO messages (id, sender, recipient, body, created_at, read) VALUES (?, ?, ?, ?, ?, 0)",
		msg.ID, msg.Sender, msg.Recipient, msg.Body, msg.CreatedAt.Format(msgTimeLayout),
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MessagesBetween returns the conversation between two users ordered by
// creation time ascending.
func (db *DB) MessagesBetween(userA, userB string) ([]models.Message, error) {
	query := `
		SELECT id, sender, recipient, body, created_at, read
		FROM messages
		WHERE (sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := db.conn.Query(query, userA, userB, userB, userA)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var createdStr string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Body, &createdStr, &m.Read); err != nil {
			return nil, err
		}
		m.CreatedAt, err = time.Parse(msgTimeLayout, createdStr)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
