package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatd/models"

	"github.com/mattn/go-sqlite3"
)

type SQLite struct {
	conn   *sql.DB
	hasher PasswordHasher
}

func NewSQLite(path string, hasher PasswordHasher) (*SQLite, error) {
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// a single connection serializes writers
	conn.SetMaxOpenConns(1)

	db := &SQLite{conn: conn, hasher: hasher}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return db, nil
}

func (db *SQLite) Close() error {
	return db.conn.Close()
}

func (db *SQLite) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *SQLite) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL REFERENCES users(id),
			receiver_id INTEGER REFERENCES users(id),
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_public ON messages(timestamp) WHERE receiver_id IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, timestamp)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func (db *SQLite) Register(ctx context.Context, username, password string) (*models.User, error) {
	hashed, err := db.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO users (username, password) VALUES (?, ?)",
		username, hashed,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read user id: %w", err)
	}

	return &models.User{ID: id, Username: username}, nil
}

func (db *SQLite) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	var stored string
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, username, password FROM users WHERE username = ?", username,
	).Scan(&user.ID, &user.Username, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	if !db.hasher.Compare(stored, password) {
		return nil, nil
	}
	return &user, nil
}

func (db *SQLite) AllUsers(ctx context.Context) ([]models.User, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT id, username FROM users ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *SQLite) SaveMessage(ctx context.Context, msg *models.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	var receiverID sql.NullInt64
	if msg.Receiver != nil {
		receiverID = sql.NullInt64{Int64: msg.Receiver.ID, Valid: true}
	}

	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO messages (sender_id, receiver_id, content, timestamp) VALUES (?, ?, ?, ?)",
		msg.Sender.ID, receiverID, msg.Content, msg.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("read message id: %w", err)
	}
	msg.ID = id
	return nil
}

func (db *SQLite) RecentPublicMessages(ctx context.Context, limit int) ([]models.Message, error) {
	query := `
		SELECT m.id, m.content, m.timestamp, u.id, u.username
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.receiver_id IS NULL
		ORDER BY m.timestamp DESC, m.id DESC
		LIMIT ?
	`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var ts int64
		sender := &models.User{}
		if err := rows.Scan(&m.ID, &m.Content, &ts, &sender.ID, &sender.Username); err != nil {
			return nil, err
		}
		m.Sender = sender
		m.Timestamp = time.Unix(0, ts).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(messages)
	return messages, nil
}

func (db *SQLite) PrivateMessages(ctx context.Context, userA, userB int64, limit int) ([]models.Message, error) {
	query := `
		SELECT m.id, m.content, m.timestamp,
		       s.id, s.username, r.id, r.username
		FROM messages m
		JOIN users s ON m.sender_id = s.id
		JOIN users r ON m.receiver_id = r.id
		WHERE (m.sender_id = ? AND m.receiver_id = ?) OR (m.sender_id = ? AND m.receiver_id = ?)
		ORDER BY m.timestamp DESC, m.id DESC
		LIMIT ?
	`

	rows, err := db.conn.QueryContext(ctx, query, userA, userB, userB, userA, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var ts int64
		sender, receiver := &models.User{}, &models.User{}
		if err := rows.Scan(&m.ID, &m.Content, &ts, &sender.ID, &sender.Username, &receiver.ID, &receiver.Username); err != nil {
			return nil, err
		}
		m.Sender, m.Receiver = sender, receiver
		m.Timestamp = time.Unix(0, ts).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(messages)
	return messages, nil
}
