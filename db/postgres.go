package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatd/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type Postgres struct {
	pool   *pgxpool.Pool
	hasher PasswordHasher
}

func NewPostgres(ctx context.Context, databaseURL string, hasher PasswordHasher) (*Postgres, error) {
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &Postgres{pool: pool, hasher: hasher}
	if err := db.init(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return db, nil
}

func (db *Postgres) Close() error {
	db.pool.Close()
	return nil
}

func (db *Postgres) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *Postgres) init(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			sender_id BIGINT NOT NULL REFERENCES users(id),
			receiver_id BIGINT REFERENCES users(id),
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_public ON messages(created_at) WHERE receiver_id IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.pool.Exec(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func (db *Postgres) Register(ctx context.Context, username, password string) (*models.User, error) {
	hashed, err := db.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{Username: username}
	err = db.pool.QueryRow(ctx,
		`INSERT INTO users (username, password) VALUES ($1, $2) RETURNING id`,
		username, hashed,
	).Scan(&user.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (db *Postgres) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	var stored string
	err := db.pool.QueryRow(ctx,
		`SELECT id, username, password FROM users WHERE username = $1`, username,
	).Scan(&user.ID, &user.Username, &stored)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (db *Postgres) AllUsers(ctx context.Context) ([]models.User, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, username FROM users ORDER BY id`)
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

func (db *Postgres) SaveMessage(ctx context.Context, msg *models.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	var receiverID *int64
	if msg.Receiver != nil {
		receiverID = &msg.Receiver.ID
	}

	err := db.pool.QueryRow(ctx,
		`INSERT INTO messages (sender_id, receiver_id, content, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		msg.Sender.ID, receiverID, msg.Content, msg.Timestamp,
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (db *Postgres) RecentPublicMessages(ctx context.Context, limit int) ([]models.Message, error) {
	query := `
		SELECT m.id, m.content, m.created_at, u.id, u.username
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.receiver_id IS NULL
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $1`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		sender := &models.User{}
		if err := rows.Scan(&m.ID, &m.Content, &m.Timestamp, &sender.ID, &sender.Username); err != nil {
			return nil, err
		}
		m.Sender = sender
		m.Timestamp = m.Timestamp.UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(messages)
	return messages, nil
}

func (db *Postgres) PrivateMessages(ctx context.Context, userA, userB int64, limit int) ([]models.Message, error) {
	query := `
		SELECT m.id, m.content, m.created_at, s.id, s.username, r.id, r.username
		FROM messages m
		JOIN users s ON m.sender_id = s.id
		JOIN users r ON m.receiver_id = r.id
		WHERE (m.sender_id = $1 AND m.receiver_id = $2) OR (m.sender_id = $2 AND m.receiver_id = $1)
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3`

	rows, err := db.pool.Query(ctx, query, userA, userB, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		sender, receiver := &models.User{}, &models.User{}
		if err := rows.Scan(&m.ID, &m.Content, &m.Timestamp, &sender.ID, &sender.Username, &receiver.ID, &receiver.Username); err != nil {
			return nil, err
		}
		m.Sender, m.Receiver = sender, receiver
		m.Timestamp = m.Timestamp.UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(messages)
	return messages, nil
}
