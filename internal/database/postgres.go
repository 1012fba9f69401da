package database

import (
	"database/sql"
	"fmt"
	"time"
)

type PgMessengerRepository struct {
	conn *sql.DB
}

func NewPgMessengerRepository(dsn string) (*PgMessengerRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgMessengerRepository{conn: db}, nil
}

func (db *PgMessengerRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *PgMessengerRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgMessengerRepository) CreateAccount(params CreateAccountParams) (User, error) {
	row := db.conn.QueryRow(
		"INSERT INTO accounts (full_name, email, role, profile_image, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, full_name, email, role, profile_image",
		params.FullName,
		params.EmailAddress,
		params.Role,
		params.ProfileImage,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.FullName,
		&u.EmailAddress,
		&u.Role,
		&u.ProfileImage,
	)

	return u, err
}

func (db *PgMessengerRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	row := db.conn.QueryRow(
		"UPDATE accounts SET full_name = $2, profile_image = $3, password_hash = $4, updated_at = $5 "+
			"WHERE id = $1 RETURNING id, full_name, email, role, profile_image, created_at, updated_at",
		params.UserId,
		params.FullName,
		params.ProfileImage,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.FullName,
		&u.EmailAddress,
		&u.Role,
		&u.ProfileImage,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgMessengerRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, full_name, email, role, profile_image, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.FullName,
		&u.EmailAddress,
		&u.Role,
		&u.ProfileImage,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgMessengerRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, full_name, email, role, profile_image, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.FullName,
		&u.EmailAddress,
		&u.Role,
		&u.ProfileImage,
		&u.PasswordHash,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

// GetOrCreateConversation returns the conversation between the two
// accounts, creating it if the pair has never spoken. The bool reports
// whether a new conversation was created. externalId is only used on
// creation.
func (db *PgMessengerRepository) GetOrCreateConversation(accountId, otherId int, externalId string) (Conversation, bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Conversation{}, false, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(
		"SELECT c.id, c.external_id, c.created_at, c.updated_at FROM conversations c "+
			"JOIN conversation_participants p1 ON p1.conversation_id = c.id AND p1.account_id = $1 "+
			"JOIN conversation_participants p2 ON p2.conversation_id = c.id AND p2.account_id = $2 "+
			"LIMIT 1",
		accountId,
		otherId,
	)

	var conv Conversation
	err = row.Scan(&conv.Id, &conv.ExternalId, &conv.CreatedAt, &conv.UpdatedAt)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return Conversation{}, false, err
		}
		conv, err = db.loadConversation(conv)
		return conv, false, err
	case err != sql.ErrNoRows:
		return Conversation{}, false, err
	}

	now := time.Now().UTC()
	row = tx.QueryRow(
		"INSERT INTO conversations (external_id, created_at, updated_at) VALUES ($1, $2, $2) "+
			"RETURNING id, external_id, created_at, updated_at",
		externalId,
		now,
	)
	if err := row.Scan(&conv.Id, &conv.ExternalId, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return Conversation{}, false, err
	}

	for _, id := range []int{accountId, otherId} {
		if _, err := tx.Exec(
			"INSERT INTO conversation_participants (conversation_id, account_id, created_at) VALUES ($1, $2, $3)",
			conv.Id, id, now,
		); err != nil {
			return Conversation{}, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Conversation{}, false, err
	}

	conv, err = db.loadConversation(conv)
	if err != nil {
		return Conversation{}, false, err
	}
	return conv, true, nil
}

func (db *PgMessengerRepository) GetConversationByExternalId(externalId string) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, created_at, updated_at FROM conversations WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var conv Conversation
	if err := row.Scan(&conv.Id, &conv.ExternalId, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return Conversation{}, err
	}

	return db.loadConversation(conv)
}

// loadConversation fills in participants and the last-message preview.
func (db *PgMessengerRepository) loadConversation(conv Conversation) (Conversation, error) {
	rows, err := db.conn.Query(
		"SELECT a.id, a.full_name, a.role, a.profile_image FROM accounts a "+
			"JOIN conversation_participants p ON p.account_id = a.id "+
			"WHERE p.conversation_id = $1 ORDER BY p.id",
		conv.Id,
	)
	if err != nil {
		return Conversation{}, err
	}
	defer rows.Close()

	conv.Participants = nil
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.FullName, &u.Role, &u.ProfileImage); err != nil {
			return Conversation{}, err
		}
		conv.Participants = append(conv.Participants, u)
	}
	if err := rows.Err(); err != nil {
		return Conversation{}, err
	}

	msg, err := db.lastMessage(conv.Id)
	if err != nil && err != sql.ErrNoRows {
		return Conversation{}, err
	}
	if err == nil {
		conv.LastMessage = &msg
	}

	return conv, nil
}

func (db *PgMessengerRepository) lastMessage(conversationId int) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT id, content, read, delivered, created_at FROM messages "+
			"WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT 1",
		conversationId,
	)

	var m Message
	m.ConversationId = conversationId
	err := row.Scan(&m.Id, &m.Content, &m.Read, &m.Delivered, &m.CreatedAt)
	return m, err
}

func (db *PgMessengerRepository) ListConversations(accountId int) ([]Conversation, error) {
	rows, err := db.conn.Query(
		"SELECT c.id, c.external_id, c.created_at, c.updated_at FROM conversations c "+
			"JOIN conversation_participants p ON p.conversation_id = c.id "+
			"WHERE p.account_id = $1 ORDER BY c.updated_at DESC",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.Id, &conv.ExternalId, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range convs {
		convs[i], err = db.loadConversation(convs[i])
		if err != nil {
			return nil, err
		}
	}

	return convs, nil
}

func (db *PgMessengerRepository) IsParticipant(externalId string, accountId int) bool {
	row := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM conversation_participants p "+
			"JOIN conversations c ON c.id = p.conversation_id "+
			"WHERE c.external_id = $1 AND p.account_id = $2)",
		externalId,
		accountId,
	)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false
	}
	return exists
}

// CreateMessage appends the message and bumps the conversation's
// updated_at in the same transaction so list ordering stays consistent.
func (db *PgMessengerRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	row := tx.QueryRow(
		"INSERT INTO messages (id, conversation_id, sender_id, content, created_at, updated_at) "+
			"SELECT $1, c.id, $3, $4, $5, $5 FROM conversations c WHERE c.external_id = $2 "+
			"RETURNING id, conversation_id, created_at, updated_at",
		params.Id,
		params.ConversationExternalId,
		params.SenderId,
		params.Content,
		now,
	)

	var m Message
	if err := row.Scan(&m.Id, &m.ConversationId, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Message{}, err
	}

	if _, err := tx.Exec(
		"UPDATE conversations SET updated_at = $2 WHERE id = $1",
		m.ConversationId, now,
	); err != nil {
		return Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return Message{}, err
	}

	return db.GetMessageById(m.Id)
}

const messageSelect = "SELECT m.id, m.conversation_id, c.external_id, m.sender_id, a.full_name, a.role, a.profile_image, " +
	"m.content, m.read, m.delivered, m.created_at, m.updated_at " +
	"FROM messages m " +
	"JOIN conversations c ON c.id = m.conversation_id " +
	"JOIN accounts a ON a.id = m.sender_id "

func scanMessage(row interface{ Scan(dest ...any) error }) (Message, error) {
	var m Message
	err := row.Scan(
		&m.Id,
		&m.ConversationId,
		&m.ConversationExternalId,
		&m.SenderId,
		&m.SenderName,
		&m.SenderRole,
		&m.SenderImage,
		&m.Content,
		&m.Read,
		&m.Delivered,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

func (db *PgMessengerRepository) ListMessages(externalId string) ([]Message, error) {
	rows, err := db.conn.Query(
		messageSelect+"WHERE c.external_id = $1 ORDER BY m.created_at ASC",
		externalId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

func (db *PgMessengerRepository) GetMessageById(messageId string) (Message, error) {
	row := db.conn.QueryRow(messageSelect+"WHERE m.id = $1 LIMIT 1", messageId)
	return scanMessage(row)
}

// MarkConversationRead flips read on every unread message addressed to the
// viewer and returns the ids it touched. Read implies delivered.
func (db *PgMessengerRepository) MarkConversationRead(externalId string, accountId int) ([]string, error) {
	rows, err := db.conn.Query(
		"UPDATE messages SET read = TRUE, delivered = TRUE, updated_at = $3 "+
			"WHERE conversation_id = (SELECT id FROM conversations WHERE external_id = $1) "+
			"AND sender_id <> $2 AND read = FALSE RETURNING id",
		externalId,
		accountId,
		time.Now().UTC(),
	)
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

func (db *PgMessengerRepository) MarkMessageRead(messageId string) error {
	res, err := db.conn.Exec(
		"UPDATE messages SET read = TRUE, delivered = TRUE, updated_at = $2 WHERE id = $1",
		messageId,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	return requireRow(res, messageId)
}

func (db *PgMessengerRepository) MarkMessageDelivered(messageId string) error {
	res, err := db.conn.Exec(
		"UPDATE messages SET delivered = TRUE, updated_at = $2 WHERE id = $1",
		messageId,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	return requireRow(res, messageId)
}

func requireRow(res sql.Result, messageId string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %q: %w", messageId, sql.ErrNoRows)
	}
	return nil
}

func (db *PgMessengerRepository) UnreadCounts(accountId int) (map[string]int, error) {
	rows, err := db.conn.Query(
		"SELECT c.external_id, COUNT(m.id) FROM messages m "+
			"JOIN conversations c ON c.id = m.conversation_id "+
			"JOIN conversation_participants p ON p.conversation_id = c.id AND p.account_id = $1 "+
			"WHERE m.sender_id <> $1 AND m.read = FALSE "+
			"GROUP BY c.external_id",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}

	return counts, rows.Err()
}
