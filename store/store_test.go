package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "whisper-test-*.db")
	require.NoError(t, err)
	tmpfile.Close()
	os.Remove(tmpfile.Name()) // SQLite recreates it

	db, err := Open(tmpfile.Name())
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
		os.Remove(tmpfile.Name())
	})

	return db
}

func TestCreateAndFindUser(t *testing.T) {
	db := setupTestDB(t)

	user, err := db.CreateUser("alice", "alice@example.com", "secret")
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
	assert.NotEqual(t, "secret", user.Password, "password must be stored hashed")

	byID, err := db.FindUserByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Nickname)
	assert.Empty(t, byID.Contacts)

	byEmail, err := db.FindUserByEmail("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	byNick, err := db.FindUserByNickname("alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byNick.ID)
}

func TestFindUserNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.FindUserByID("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateUserDuplicate(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.CreateUser("alice", "alice@example.com", "secret")
	require.NoError(t, err)

	_, err = db.CreateUser("alice", "other@example.com", "secret")
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = db.CreateUser("other", "alice@example.com", "secret")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestAuthenticate(t *testing.T) {
	db := setupTestDB(t)

	created, err := db.CreateUser("alice", "alice@example.com", "secret")
	require.NoError(t, err)

	user, err := db.Authenticate("alice@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)

	_, err = db.Authenticate("alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = db.Authenticate("nobody@example.com", "secret")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestAddContactIdempotent(t *testing.T) {
	db := setupTestDB(t)

	alice, err := db.CreateUser("alice", "alice@example.com", "pw")
	require.NoError(t, err)
	bob, err := db.CreateUser("bob", "bob@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, db.AddContact(alice.ID, bob.ID))
	require.NoError(t, db.AddContact(alice.ID, bob.ID))
	require.NoError(t, db.AddContact(alice.ID, bob.ID))

	user, err := db.FindUserByID(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{bob.ID}, user.Contacts, "repeated appends must not duplicate")

	profiles, err := db.Contacts(alice.ID)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "bob", profiles[0].Nickname)

	// One-directional: bob's list is untouched.
	bobBack, err := db.FindUserByID(bob.ID)
	require.NoError(t, err)
	assert.Empty(t, bobBack.Contacts)
}

func TestCreateMessage(t *testing.T) {
	db := setupTestDB(t)

	msg, err := db.CreateMessage("u1", "u2", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
	assert.Equal(t, "u1", msg.Sender)
	assert.Equal(t, "u2", msg.Recipient)
	assert.Equal(t, "hi", msg.Body)
	assert.False(t, msg.Read)
}

func TestMessagesBetweenOrdering(t *testing.T) {
	db := setupTestDB(t)

	first, err := db.CreateMessage("u1", "u2", "one")
	require.NoError(t, err)
	second, err := db.CreateMessage("u2", "u1", "two")
	require.NoError(t, err)
	third, err := db.CreateMessage("u1", "u2", "three")
	require.NoError(t, err)

	// Unrelated conversation stays out.
	_, err = db.CreateMessage("u1", "u3", "noise")
	require.NoError(t, err)

	messages, err := db.MessagesBetween("u1", "u2")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, first.ID, messages[0].ID)
	assert.Equal(t, second.ID, messages[1].ID)
	assert.Equal(t, third.ID, messages[2].ID)

	// Symmetric regardless of argument order.
	reversed, err := db.MessagesBetween("u2", "u1")
	require.NoError(t, err)
	require.Len(t, reversed, 3)
	assert.Equal(t, first.ID, reversed[0].ID)
}

// Sub-second timestamps must still sort chronologically. A trimmed
// fractional rendering (.12 vs .123) would order ".12" after ".123"
// lexicographically even though it is earlier; the fixed-width layout
// keeps the text column sort-safe.
func TestMessagesBetweenSubSecondOrdering(t *testing.T) {
	db := setupTestDB(t)

	base := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	early := base.Add(120 * time.Millisecond)
	late := base.Add(123 * time.Millisecond)

	insert := func(id string, created time.Time) {
		_, err := db.conn.Exec(
			"INSERT INTO messages (id, sender, recipient, body, created_at, read) VALUES (?, ?, ?, ?, ?, 0)",
			id, "u1", "u2", "body", created.Format(msgTimeLayout),
		)
		require.NoError(t, err)
	}

	// Later message first, so neither insertion order nor the rowid
	// tiebreak can mask a broken timestamp sort.
	insert("m-late", late)
	insert("m-early", early)

	messages, err := db.MessagesBetween("u1", "u2")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m-early", messages[0].ID)
	assert.Equal(t, "m-late", messages[1].ID)
	assert.True(t, messages[0].CreatedAt.Equal(early))
	assert.True(t, messages[1].CreatedAt.Equal(late))
}
