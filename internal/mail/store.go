// Package mail provides the durable inter-agent mailbox. Messages
// survive process restarts; delivery is pull-based via check, which
// reads and marks atomically.
package mail

import (
	"crypto/rand"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/overstoryai/overstory/internal/errs"
	"github.com/overstoryai/overstory/internal/store"
	"github.com/overstoryai/overstory/pkg/models"
)

// DBFileName is the mailbox file name under the state directory.
const DBFileName = "mail.db"

// DBPath returns the mailbox path for a state directory.
func DBPath(stateDir string) string {
	return filepath.Join(stateDir, DBFileName)
}

const (
	idPrefix   = "msg-"
	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	idLength   = 16
)

// Store is the durable mailbox.
type Store struct {
	db *store.DB
	// Hot-path statements, prepared once at open.
	insertStmt *sql.Stmt
	unreadStmt *sql.Stmt
}

var migrations = []store.Migration{
	{Version: 1, SQL: migrationV1Messages},
}

const migrationV1Messages = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	from_agent TEXT NOT NULL,
	to_agent TEXT NOT NULL,
	subject TEXT NOT NULL,
	body TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT 'status',
	priority TEXT NOT NULL DEFAULT 'normal',
	thread_id TEXT,
	payload TEXT,
	read INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_to_read ON messages(to_agent, read, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_agent, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
`

const messageColumns = `id, from_agent, to_agent, subject, body, type, priority,
	thread_id, payload, read, created_at`

// Open opens the mailbox under stateDir.
func Open(stateDir string) (*Store, error) {
	db, err := store.Open(DBPath(stateDir))
	if err != nil {
		return nil, errs.Store("open mail store").Wrap(err)
	}
	if err := db.Migrate(migrations); err != nil {
		db.Close()
		return nil, errs.Store("migrate mail store").Wrap(err)
	}

	s := &Store{db: db}

	s.insertStmt, err = db.Prepare(`
		INSERT INTO messages (id, from_agent, to_agent, subject, body, type,
			priority, thread_id, payload, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`)
	if err != nil {
		db.Close()
		return nil, errs.Store("prepare mail insert").Wrap(err)
	}
	s.unreadStmt, err = db.Prepare(`
		SELECT ` + messageColumns + ` FROM messages
		WHERE to_agent = ? AND read = 0
		ORDER BY created_at, rowid
	`)
	if err != nil {
		db.Close()
		return nil, errs.Store("prepare unread select").Wrap(err)
	}

	return s, nil
}

// Close checkpoints and closes the mailbox.
func (s *Store) Close() error {
	if s.insertStmt != nil {
		s.insertStmt.Close()
	}
	if s.unreadStmt != nil {
		s.unreadStmt.Close()
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

// Insert stores one message. A missing ID is generated, type defaults
// to status, priority to normal. CreatedAt is server-set and Read is
// always false at insertion.
func (s *Store) Insert(m *models.MailMessage) error {
	if m.From == "" || m.To == "" {
		return errs.Validation("message requires from and to")
	}
	if models.IsGroupAddress(m.To) {
		return errs.Validation("group address %q must be resolved before insert", m.To)
	}
	if m.Type == "" {
		m.Type = models.MessageStatus
	}
	if !m.Type.Valid() {
		return errs.Validation("unknown message type %q", m.Type)
	}
	if m.Priority == "" {
		m.Priority = models.PriorityNormal
	}
	if !m.Priority.Valid() {
		return errs.Validation("unknown priority %q", m.Priority)
	}
	if m.ID == "" {
		id, err := newMessageID()
		if err != nil {
			return errs.Store("generate message id").Wrap(err)
		}
		m.ID = id
	}
	m.Read = false
	m.CreatedAt = time.Now()

	_, err := s.insertStmt.Exec(m.ID, m.From, m.To, m.Subject, m.Body,
		string(m.Type), string(m.Priority), nullIfEmpty(m.ThreadID),
		nullIfEmpty(m.Payload), store.FormatTimeMilli(m.CreatedAt))
	if err != nil {
		return errs.Store("insert message").With("from", m.From).With("to", m.To).Wrap(err)
	}
	return nil
}

// GetUnread returns an agent's unread messages, oldest first. The
// messages are not marked read.
func (s *Store) GetUnread(agentName string) ([]models.MailMessage, error) {
	rows, err := s.unreadStmt.Query(agentName)
	if err != nil {
		return nil, errs.Store("query unread").With("agent", agentName).Wrap(err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// UnreadCounts returns the number of unread messages per recipient.
// Agents with an empty inbox are absent from the map.
func (s *Store) UnreadCounts() (map[string]int, error) {
	rows, err := s.db.Query("SELECT to_agent, COUNT(*) FROM messages WHERE read = 0 GROUP BY to_agent")
	if err != nil {
		return nil, errs.Store("count unread").Wrap(err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var agent string
		var n int
		if err := rows.Scan(&agent, &n); err != nil {
			return nil, errs.Store("scan unread count").Wrap(err)
		}
		counts[agent] = n
	}
	return counts, rows.Err()
}

// CheckAndMark returns an agent's unread messages, oldest first, and
// marks them read in the same transaction. Concurrent checkers never
// see the same message twice.
func (s *Store) CheckAndMark(agentName string) ([]models.MailMessage, error) {
	var msgs []models.MailMessage
	err := s.db.Transaction(func(tx *sql.Tx) error {
		rows, err := tx.Stmt(s.unreadStmt).Query(agentName)
		if err != nil {
			return errs.Store("query unread").With("agent", agentName).Wrap(err)
		}
		msgs, err = scanMessages(rows)
		rows.Close()
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		for i := range msgs {
			if _, err := tx.Exec("UPDATE messages SET read = 1 WHERE id = ?", msgs[i].ID); err != nil {
				return errs.Store("mark message read").With("id", msgs[i].ID).Wrap(err)
			}
			msgs[i].Read = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead marks the given messages read, returning how many rows
// changed. Unknown ids are skipped.
func (s *Store) MarkRead(ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	err := s.db.Transaction(func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.Exec("UPDATE messages SET read = 1 WHERE id = ? AND read = 0", id)
			if err != nil {
				return errs.Store("mark message read").With("id", id).Wrap(err)
			}
			changed, _ := res.RowsAffected()
			n += changed
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// GetByID returns one message, or nil if it does not exist.
func (s *Store) GetByID(id string) (*models.MailMessage, error) {
	row := s.db.QueryRow("SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	m, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Store("get message").With("id", id).Wrap(err)
	}
	return m, nil
}

// GetByThread returns a conversation, oldest first. The root message
// carries no thread_id of its own, so it is matched by id.
func (s *Store) GetByThread(threadID string) ([]models.MailMessage, error) {
	rows, err := s.db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE thread_id = ? OR id = ?
		ORDER BY created_at, rowid
	`, threadID, threadID)
	if err != nil {
		return nil, errs.Store("query thread").With("thread", threadID).Wrap(err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	To         string
	From       string
	Type       models.MessageType
	UnreadOnly bool
	Limit      int
}

// List returns messages matching the filter, oldest first.
func (s *Store) List(f Filter) ([]models.MailMessage, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE 1=1"
	var args []any
	if f.To != "" {
		query += " AND to_agent = ?"
		args = append(args, f.To)
	}
	if f.From != "" {
		query += " AND from_agent = ?"
		args = append(args, f.From)
	}
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, string(f.Type))
	}
	if f.UnreadOnly {
		query += " AND read = 0"
	}
	query += " ORDER BY created_at, rowid"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Store("list messages").Wrap(err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// PurgeByAgent deletes messages sent to or from an agent, returning the count.
func (s *Store) PurgeByAgent(agentName string) (int64, error) {
	res, err := s.db.Exec("DELETE FROM messages WHERE to_agent = ? OR from_agent = ?", agentName, agentName)
	if err != nil {
		return 0, errs.Store("purge messages by agent").With("agent", agentName).Wrap(err)
	}
	return res.RowsAffected()
}

// PurgeOlderThan deletes messages created before now-age, returning the count.
func (s *Store) PurgeOlderThan(age time.Duration) (int64, error) {
	cutoff := store.FormatTimeMilli(time.Now().Add(-age))
	res, err := s.db.Exec("DELETE FROM messages WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, errs.Store("purge messages by age").Wrap(err)
	}
	return res.RowsAffected()
}

// PurgeAll deletes every message, returning the count.
func (s *Store) PurgeAll() (int64, error) {
	res, err := s.db.Exec("DELETE FROM messages")
	if err != nil {
		return 0, errs.Store("purge all messages").Wrap(err)
	}
	return res.RowsAffected()
}

// newMessageID returns a fresh id: printable prefix plus 16 characters
// drawn from a crypto-random source.
func newMessageID() (string, error) {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return idPrefix + string(buf), nil
}

func scanMessages(rows *sql.Rows) ([]models.MailMessage, error) {
	var msgs []models.MailMessage
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, errs.Store("scan message").Wrap(err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func scanMessage(scan func(...any) error) (*models.MailMessage, error) {
	var m models.MailMessage
	var threadID, payload sql.NullString
	var read int
	var createdAt string
	if err := scan(&m.ID, &m.From, &m.To, &m.Subject, &m.Body, &m.Type,
		&m.Priority, &threadID, &payload, &read, &createdAt); err != nil {
		return nil, err
	}
	m.ThreadID = threadID.String
	m.Payload = payload.String
	m.Read = read != 0
	m.CreatedAt, _ = store.ParseTime(createdAt)
	return &m, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
